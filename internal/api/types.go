package api

import "github.com/mattjoyce/sketchar/internal/jobs"

// GenerateResponse is returned by POST /image_to_ar/.
type GenerateResponse struct {
	ModelURL   string `json:"model_url"`
	JobID      string `json:"job_id"`
	Backend    string `json:"backend"`
	Digest     string `json:"digest"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMS int64  `json:"duration_ms"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string   `json:"status"`
	UptimeSeconds   int64    `json:"uptime_seconds"`
	DefaultBackend  string   `json:"default_backend"`
	Backends        []string `json:"backends"`
	VisionAvailable bool     `json:"vision_available"`
	Busy            bool     `json:"busy"`
}
