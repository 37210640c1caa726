package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattjoyce/sketchar/internal/config"
)

// ErrInvalidImage reports image bytes a backend cannot decode.
var ErrInvalidImage = errors.New("unreadable image")

// Invocation describes one generation run.
type Invocation struct {
	JobID      string
	InputPath  string
	ScratchDir string
}

// Stem returns the staged input's base name without extension.
func (inv Invocation) Stem() string {
	base := filepath.Base(inv.InputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Availability is implemented by backends that can be registered without
// the credentials they need.
type Availability interface {
	Available() bool
}

// Backend produces zero or more candidate files in inv.ScratchDir.
type Backend interface {
	Name() string
	// OutputName returns the absolute path where the backend conventionally
	// writes its result. Callers must still verify the file exists.
	OutputName(inv Invocation) string
	Generate(ctx context.Context, inv Invocation) error
}

// ExitError is returned when a subprocess exits non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("backend exited with status %d", e.Code)
}

// TerminatedError is returned when a subprocess was stopped because its
// context ended. It unwraps to the context error.
type TerminatedError struct {
	Cause  error
	Killed bool // SIGKILL was needed
	Stderr string
}

func (e *TerminatedError) Error() string {
	how := "terminated"
	if e.Killed {
		how = "killed"
	}
	return fmt.Sprintf("backend %s: %v", how, e.Cause)
}

func (e *TerminatedError) Unwrap() error { return e.Cause }

// Diagnostic extracts captured backend output from err, if any.
func Diagnostic(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Stderr
	}
	var termErr *TerminatedError
	if errors.As(err, &termErr) {
		return termErr.Stderr
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Body
	}
	return ""
}

// expandOutputName resolves an output name template against inv.
func expandOutputName(tmpl string, inv Invocation) string {
	name := strings.ReplaceAll(tmpl, "{stem}", inv.Stem())
	name = strings.ReplaceAll(name, "{job_id}", inv.JobID)
	return filepath.Join(inv.ScratchDir, filepath.FromSlash(name))
}

// Registry holds the configured backends by name.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// FromConfig builds a registry with every backend configured in cfg.
func FromConfig(cfg *config.Config) *Registry {
	var list []Backend
	if bb := cfg.Backends.Billboard; bb != nil {
		list = append(list, NewBillboard(*bb))
	}
	if sp := cfg.Backends.Subprocess; sp != nil {
		list = append(list, NewSubprocess(*sp, cfg.Generation.TerminationGrace))
	}
	if rc := cfg.Backends.Remote; rc != nil {
		list = append(list, NewRemote(*rc, nil))
	}
	return NewRegistry(list...)
}

func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
