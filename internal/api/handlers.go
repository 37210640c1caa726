package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/sketchar/internal/backend"
	"github.com/mattjoyce/sketchar/internal/generate"
	"github.com/mattjoyce/sketchar/internal/jobs"
	"github.com/mattjoyce/sketchar/internal/vision"
)

const maxJobListLimit = 500

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	backends := s.config.Backends
	if backends == nil {
		backends = []string{}
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		DefaultBackend:  s.config.DefaultBackend,
		Backends:        backends,
		VisionAvailable: s.detector != nil && s.detector.Available(),
		Busy:            s.generator != nil && s.generator.Busy(),
	})
}

// handleImageToAR handles POST /image_to_ar/.
// The request blocks until the job finishes or fails.
func (s *Server) handleImageToAR(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	res, err := s.generator.Run(r.Context(), generate.Request{
		Image:   data,
		Ext:     filepath.Ext(filename),
		Backend: r.FormValue("backend"),
	})
	if err != nil {
		s.writeGenerateError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, GenerateResponse{
		ModelURL:   res.ModelURL,
		JobID:      res.JobID,
		Backend:    res.Backend,
		Digest:     res.Digest,
		SizeBytes:  res.SizeBytes,
		DurationMS: res.DurationMS,
	})
}

// handleDetectObjects handles POST /detect_objects/.
func (s *Server) handleDetectObjects(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil || !s.detector.Available() {
		s.writeError(w, http.StatusServiceUnavailable, vision.ErrUnavailable.Error())
		return
	}

	data, _, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	res, err := s.detector.Detect(r.Context(), data)
	if err != nil {
		var perr *vision.ParseError
		switch {
		case errors.Is(err, vision.ErrUnavailable):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, vision.ErrInvalidImage):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &perr):
			s.logger.Warn("detection reply unusable", "error", err)
			s.writeError(w, http.StatusBadGateway, "could not parse detection result: "+perr.Err.Error())
		default:
			s.logger.Error("detection failed", "error", err)
			s.writeError(w, http.StatusBadGateway, "object detection failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusNotFound, "job log disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxJobListLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	list, err := s.jobs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	respondJSON(w, http.StatusOK, JobListResponse{Jobs: list})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusNotFound, "job log disabled")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to get job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// readUpload reads the multipart "file" field. On failure it writes the
// response and returns ok=false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (data []byte, filename string, ok bool) {
	tooLarge := func() {
		s.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(s.config.MaxUploadBytes, 10)+" bytes")
	}
	if r.ContentLength > s.config.MaxUploadBytes {
		tooLarge()
		return nil, "", false
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			tooLarge()
			return nil, "", false
		}
		s.writeError(w, http.StatusBadRequest, "expected multipart/form-data with a file field")
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file is required")
		return nil, "", false
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read upload")
		return nil, "", false
	}
	return data, header.Filename, true
}

// writeGenerateError maps orchestrator failures onto HTTP statuses.
func (s *Server) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *generate.Error
	if !errors.As(err, &gerr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller left; the job keeps running and records its own outcome.
			s.logger.Info("client left before generation finished", "request_id", middleware.GetReqID(r.Context()), "error", err)
			s.writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		s.logger.Error("generation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := statusForKind(gerr.Kind)
	if errors.Is(gerr, backend.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	if gerr.Kind == generate.KindBusy {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.config.RetryAfter.Seconds())))
	}
	if status >= http.StatusInternalServerError && gerr.Kind != generate.KindBusy {
		s.logger.Warn("generation failed", "kind", gerr.Kind, "error", err)
	}
	s.writeError(w, status, gerr.Detail())
}

func statusForKind(kind generate.Kind) int {
	switch kind {
	case generate.KindInvalidInput:
		return http.StatusBadRequest
	case generate.KindBusy:
		return http.StatusServiceUnavailable
	case generate.KindBackend, generate.KindOutputNotFound:
		return http.StatusBadGateway
	case generate.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Detail: message})
}
