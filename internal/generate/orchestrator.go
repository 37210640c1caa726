package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/sketchar/internal/backend"
	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/events"
	"github.com/mattjoyce/sketchar/internal/jobs"
	"github.com/mattjoyce/sketchar/internal/lock"
	"github.com/mattjoyce/sketchar/internal/log"
	"github.com/mattjoyce/sketchar/internal/metrics"
	"github.com/mattjoyce/sketchar/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/sketchar/internal/generate JobRecorder

// JobRecorder persists job lifecycle records.
type JobRecorder interface {
	Start(ctx context.Context, req jobs.StartRequest) (string, error)
	Complete(ctx context.Context, jobID string, c jobs.Completion) error
}

// EventPublisher receives job lifecycle events.
type EventPublisher interface {
	Publish(eventType string, data any)
}

// BackendResolver looks up backends by name.
type BackendResolver interface {
	Get(name string) (backend.Backend, bool)
}

// AcceptedExtensions lists the upload extensions the orchestrator takes.
var AcceptedExtensions = []string{".png", ".jpg", ".jpeg"}

const flockPollInterval = 250 * time.Millisecond

// Request is one image submitted for generation.
type Request struct {
	Image   []byte
	Ext     string // ".png", "jpg", ...
	Backend string // empty selects the configured default
}

// Result describes a successful publish.
type Result struct {
	ModelURL   string        `json:"model_url"`
	JobID      string        `json:"job_id"`
	Backend    string        `json:"backend"`
	Digest     string        `json:"digest"`
	SizeBytes  int64         `json:"size_bytes"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Options wires an Orchestrator. Recorder, Events and Metrics are optional.
type Options struct {
	Layout     config.LayoutConfig
	Generation config.GenerationConfig
	Backends   BackendResolver
	Workspace  workspace.Manager
	Recorder   JobRecorder
	Events     EventPublisher
	Metrics    *metrics.Collector
	// BaseContext bounds every job's lifetime beyond its deadline, typically
	// the service context. Defaults to context.Background().
	BaseContext context.Context
}

// Orchestrator runs one generation job at a time.
type Orchestrator struct {
	layout   config.LayoutConfig
	gen      config.GenerationConfig
	backends BackendResolver
	ws       workspace.Manager
	recorder JobRecorder
	events   EventPublisher
	metrics  *metrics.Collector
	base     context.Context

	sem    *semaphore.Weighted
	busy   atomic.Bool
	logger *slog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Backends == nil {
		return nil, fmt.Errorf("no backends configured")
	}
	if opts.Workspace == nil {
		return nil, fmt.Errorf("workspace manager is nil")
	}
	if opts.Layout.PublishedPath == "" {
		return nil, fmt.Errorf("published path is empty")
	}
	if opts.Generation.Timeout <= 0 {
		return nil, fmt.Errorf("generation timeout must be positive")
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Orchestrator{
		layout:   opts.Layout,
		gen:      opts.Generation,
		backends: opts.Backends,
		ws:       opts.Workspace,
		recorder: opts.Recorder,
		events:   opts.Events,
		metrics:  opts.Metrics,
		base:     base,
		sem:      semaphore.NewWeighted(1),
		logger:   log.WithComponent("orchestrator"),
	}, nil
}

// Busy reports whether a job currently holds the single-flight slot.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// Run validates req, waits for the single-flight slot according to the busy
// policy and runs the job on a worker goroutine. If ctx ends before the job
// does, Run returns ctx.Err() and the job carries on until it finishes or
// its deadline passes.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ext, err := normalizeExt(req.Ext)
	if err != nil {
		return nil, err
	}
	if err := validateImage(req.Image); err != nil {
		return nil, err
	}
	name := req.Backend
	if name == "" {
		name = o.gen.Backend
	}
	b, ok := o.backends.Get(name)
	if !ok {
		return nil, newError(KindInvalidInput, nil, "unknown backend %q", name)
	}
	if av, ok := b.(backend.Availability); ok && !av.Available() {
		return nil, newError(KindBackend, backend.ErrUnavailable, "backend %q is not configured with credentials", name)
	}

	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithTimeout(o.base, o.gen.Timeout)
	go func() {
		res, err := o.execute(jobCtx, jobID, b, req.Image, ext)
		cancel()
		release()
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		o.logger.Warn("caller stopped waiting, job continues", "job_id", jobID, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// acquire takes the in-process semaphore and the cross-process file lock.
func (o *Orchestrator) acquire(ctx context.Context) (func(), error) {
	wait := o.gen.BusyPolicy == config.BusyWait

	if wait {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	} else if !o.sem.TryAcquire(1) {
		o.metrics.BusyRejected()
		return nil, newError(KindBusy, nil, "a generation job is already running")
	}

	fl, err := o.acquireFileLock(ctx, wait)
	if err != nil {
		o.sem.Release(1)
		return nil, err
	}

	o.busy.Store(true)
	return func() {
		o.busy.Store(false)
		if err := fl.Release(); err != nil {
			o.logger.Warn("failed to release layout lock", "error", err)
		}
		o.sem.Release(1)
	}, nil
}

func (o *Orchestrator) acquireFileLock(ctx context.Context, wait bool) (*lock.FileLock, error) {
	if o.layout.LockPath == "" {
		return nil, nil
	}
	for {
		fl, err := lock.TryAcquire(o.layout.LockPath)
		if err == nil {
			return fl, nil
		}
		if !errors.Is(err, lock.ErrLocked) {
			return nil, newError(KindStaging, err, "cannot lock generation layout")
		}
		if !wait {
			o.metrics.BusyRejected()
			return nil, newError(KindBusy, nil, "another process is generating into this layout")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(flockPollInterval):
		}
	}
}

// execute runs steps stage → generate → discover → publish → verify. The
// staged input and scratch directory are cleaned before it returns.
func (o *Orchestrator) execute(ctx context.Context, jobID string, b backend.Backend, data []byte, ext string) (res *Result, err error) {
	start := time.Now()
	logger := log.ForJob(o.logger, jobID, b.Name())
	// Bookkeeping outlives the job deadline.
	bg := context.WithoutCancel(ctx)

	o.recordStart(bg, logger, jobID, b.Name(), ext, len(data))
	o.metrics.JobStarted()
	o.publish(events.JobStarted, events.JobPayload{JobID: jobID, Backend: b.Name(), Status: string(jobs.StatusRunning)})
	logger.Info("generation job started", "input_bytes", len(data), "timeout", o.gen.Timeout)

	var stagedPath string
	defer func() {
		o.cleanup(bg, logger, stagedPath)
		o.finish(bg, logger, jobID, b.Name(), start, res, err)
	}()

	staged, err := o.ws.Stage(ctx, data, ext)
	if err != nil {
		return nil, newError(KindStaging, err, "could not stage input")
	}
	stagedPath = staged.Path

	inv := backend.Invocation{JobID: jobID, InputPath: staged.Path, ScratchDir: o.ws.ScratchDir()}
	if err := b.Generate(ctx, inv); err != nil {
		return nil, classifyBackendError(ctx, err)
	}
	if ctx.Err() != nil {
		// Finished, but too late to trust.
		return nil, classifyBackendError(ctx, ctx.Err())
	}

	cand, all, err := discover(b.OutputName(inv), inv.ScratchDir, o.gen.OutputExt)
	if err != nil {
		return nil, newError(KindOutputNotFound, err, "backend produced no model")
	}
	if len(all) > 1 {
		logger.Warn("multiple candidate outputs, picked most recent", "chosen", cand.Path, "candidates", len(all))
	}
	if cand.Size < o.gen.MinModelBytes {
		return nil, newError(KindOutputNotFound,
			fmt.Errorf("%s is %d bytes (minimum %d)", cand.Path, cand.Size, o.gen.MinModelBytes),
			"backend output is too small to be a model")
	}
	if strings.EqualFold(o.gen.OutputExt, ".glb") {
		if err := checkGLBHeader(cand.Path); err != nil {
			return nil, newError(KindOutputNotFound, err, "backend output is not a GLB model")
		}
	}

	if err := publishFile(cand.Path, o.layout.PublishedPath); err != nil {
		return nil, newError(KindPublish, err, "could not publish model")
	}
	size, err := verifyPublished(o.layout.PublishedPath, o.gen.MinModelBytes)
	if err != nil {
		return nil, newError(KindPublish, err, "published model failed integrity check")
	}
	digest, err := digestFile(o.layout.PublishedPath)
	if err != nil {
		return nil, newError(KindPublish, err, "could not read published model")
	}

	elapsed := time.Since(start)
	return &Result{
		ModelURL:   o.layout.PublicURL,
		JobID:      jobID,
		Backend:    b.Name(),
		Digest:     digest,
		SizeBytes:  size,
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
	}, nil
}

func classifyBackendError(ctx context.Context, err error) *Error {
	diag := backend.Diagnostic(err)
	switch {
	case errors.Is(err, backend.ErrInvalidImage):
		return &Error{Kind: KindInvalidInput, Msg: "image could not be decoded", Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Msg: "generation exceeded its deadline", Diagnostic: diag, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindBackend, Msg: "generation was cancelled by shutdown", Diagnostic: diag, Err: err}
	default:
		return &Error{Kind: KindBackend, Msg: "generation backend failed", Diagnostic: diag, Err: err}
	}
}

func (o *Orchestrator) cleanup(ctx context.Context, logger *slog.Logger, stagedPath string) {
	report, err := o.ws.Clean(ctx, stagedPath)
	if err != nil {
		o.metrics.CleanupFailed()
		logger.Error("workspace cleanup failed", "error", err)
		return
	}
	logger.Debug("workspace cleaned", "removed_staged", report.RemovedStaged, "scratch_entries", report.DeletedEntries)
}

func (o *Orchestrator) recordStart(ctx context.Context, logger *slog.Logger, jobID, backendName, ext string, size int) {
	if o.recorder == nil {
		return
	}
	if _, err := o.recorder.Start(ctx, jobs.StartRequest{
		ID:         jobID,
		Backend:    backendName,
		InputExt:   ext,
		InputBytes: int64(size),
	}); err != nil {
		logger.Error("failed to record job start", "error", err)
	}
}

// finish records the terminal outcome in the job log, metrics and events.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, jobID, backendName string, start time.Time, res *Result, err error) {
	elapsed := time.Since(start)
	completion := jobs.Completion{Status: jobs.StatusSucceeded}
	payload := events.JobPayload{JobID: jobID, Backend: backendName, DurationMS: elapsed.Milliseconds()}
	outcome := string(jobs.StatusSucceeded)
	eventType := events.JobSucceeded

	if err != nil {
		kind := KindOf(err)
		outcome = string(kind)
		eventType = events.JobFailed
		completion.Status = jobs.StatusFailed
		if kind == KindTimeout {
			completion.Status = jobs.StatusTimedOut
		}
		completion.ErrorKind = string(kind)
		completion.LastError = err.Error()
		var gerr *Error
		if errors.As(err, &gerr) {
			completion.Stderr = gerr.Diagnostic
		}
		payload.ErrorKind = string(kind)
		payload.Error = err.Error()

		attrs := []any{"error_kind", kind, "error", err, "duration", elapsed}
		if completion.Stderr != "" {
			attrs = append(attrs, "stderr", completion.Stderr)
		}
		logger.Warn("generation job failed", attrs...)
	} else {
		completion.ArtifactDigest = res.Digest
		completion.ArtifactBytes = res.SizeBytes
		payload.ModelURL = res.ModelURL
		payload.Digest = res.Digest
		payload.SizeBytes = res.SizeBytes
		o.metrics.ModelPublished(res.SizeBytes)
		logger.Info("generation job succeeded", "size_bytes", res.SizeBytes, "digest", res.Digest, "duration", elapsed)
	}
	payload.Status = string(completion.Status)

	if o.recorder != nil {
		if rerr := o.recorder.Complete(ctx, jobID, completion); rerr != nil {
			logger.Error("failed to record job completion", "error", rerr)
		}
	}
	o.metrics.JobFinished(backendName, outcome, elapsed)
	o.publish(eventType, payload)
}

func (o *Orchestrator) publish(eventType string, payload events.JobPayload) {
	if o.events != nil {
		o.events.Publish(eventType, payload)
	}
}

// normalizeExt lowercases ext, adds the leading dot and checks it is accepted.
func normalizeExt(ext string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(ext))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	for _, ok := range AcceptedExtensions {
		if e == ok {
			return e, nil
		}
	}
	return "", newError(KindInvalidInput, nil, "unsupported file type %q (accepted: %s)", ext, strings.Join(AcceptedExtensions, ", "))
}

func validateImage(data []byte) error {
	if len(data) == 0 {
		return newError(KindInvalidInput, nil, "image is empty")
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return newError(KindInvalidInput, err, "image could not be decoded")
	}
	return nil
}
