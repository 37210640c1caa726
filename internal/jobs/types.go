package jobs

import (
	"errors"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is a final job status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// Job is one recorded generation run.
type Job struct {
	ID             string     `json:"id"`
	Backend        string     `json:"backend"`
	Status         Status     `json:"status"`
	ErrorKind      *string    `json:"error_kind,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	Stderr         *string    `json:"stderr,omitempty"`
	InputExt       string     `json:"input_ext"`
	InputBytes     int64      `json:"input_bytes"`
	ArtifactDigest *string    `json:"artifact_digest,omitempty"`
	ArtifactBytes  *int64     `json:"artifact_bytes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the run time of a terminal job, or zero.
func (j *Job) Duration() time.Duration {
	if j == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(j.CreatedAt)
}

type StartRequest struct {
	ID         string // generated when empty
	Backend    string
	InputExt   string
	InputBytes int64
}

// Completion is the terminal outcome of a job.
type Completion struct {
	Status         Status
	ErrorKind      string
	LastError      string
	Stderr         string
	ArtifactDigest string
	ArtifactBytes  int64
}

var ErrJobNotFound = errors.New("job not found")
