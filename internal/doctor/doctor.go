// Package doctor checks a sketchar configuration against the host it will
// run on.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the local environment.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	sameFS   func(a, b string) (bool, error)
	localFS  func(path string) error
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:      cfg,
		lookPath: exec.LookPath,
		sameFS:   storage.SameFilesystem,
		localFS:  storage.ValidateLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateSubprocess(r)
	d.validateRemote(r)
	d.validateState(r)
	d.validateLayout(r)
	d.validateTimeouts(r)
	d.warnVision(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateSubprocess checks that the external tool can be launched.
func (d *Doctor) validateSubprocess(r *Result) {
	sp := d.cfg.Backends.Subprocess
	if sp == nil {
		return
	}

	// An unselected subprocess backend can still be requested per job,
	// so problems there are warnings rather than errors.
	report := d.addWarning
	if d.cfg.Generation.Backend == "subprocess" {
		report = d.addError
	}

	command := sp.Command
	if !filepath.IsAbs(command) && strings.Contains(command, string(filepath.Separator)) && sp.WorkDir != "" {
		command = filepath.Join(sp.WorkDir, command)
	}
	if _, err := d.lookPath(command); err != nil {
		report(r, "backend", "backends.subprocess.command",
			fmt.Sprintf("command %q is not executable: %v", sp.Command, err))
	}

	if sp.WorkDir != "" {
		info, err := os.Stat(sp.WorkDir)
		switch {
		case err != nil:
			report(r, "backend", "backends.subprocess.workdir",
				fmt.Sprintf("workdir %q: %v", sp.WorkDir, err))
		case !info.IsDir():
			report(r, "backend", "backends.subprocess.workdir",
				fmt.Sprintf("workdir %q is not a directory", sp.WorkDir))
		}
	}
}

// validateRemote checks that the hosted backend has a credential.
func (d *Doctor) validateRemote(r *Result) {
	rc := d.cfg.Backends.Remote
	if rc == nil || rc.APIKey != "" {
		return
	}
	msg := "no API key for the remote backend; its jobs will fail with 503 (set HF_API_KEY)"
	if d.cfg.Generation.Backend == "remote" {
		d.addError(r, "backend", "backends.remote.api_key", msg)
		return
	}
	d.addWarning(r, "backend", "backends.remote.api_key", msg)
}

// validateState checks the job log database location.
func (d *Doctor) validateState(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required")
		return
	}
	if err := d.localFS(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
	if d.cfg.State.JobLogRetention < 0 {
		d.addError(r, "state", "state.job_log_retention", "job_log_retention must not be negative")
	}
}

// validateLayout checks the shared filesystem locations.
func (d *Doctor) validateLayout(r *Result) {
	l := d.cfg.Layout

	if err := d.localFS(l.LockPath); err != nil {
		d.addWarning(r, "layout", "layout.lock_path",
			"lock file may not be honoured across processes: "+err.Error())
	}

	publishDir := filepath.Dir(l.PublishedPath)
	same, err := d.sameFS(l.ScratchDir, publishDir)
	switch {
	case err != nil:
		d.addWarning(r, "layout", "layout.published_path",
			fmt.Sprintf("could not compare filesystems of scratch and publish dirs: %v", err))
	case !same:
		d.addWarning(r, "layout", "layout.published_path",
			"scratch_dir and published_path are on different filesystems; publishing will copy before renaming")
	}

	for field, dir := range map[string]string{
		"layout.staging_dir":    l.StagingDir,
		"layout.scratch_dir":    l.ScratchDir,
		"layout.published_path": publishDir,
	} {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			d.addError(r, "layout", field, fmt.Sprintf("%q exists and is not a directory", dir))
		}
	}
}

// validateTimeouts checks that HTTP clients outlive the slowest job.
func (d *Doctor) validateTimeouts(r *Result) {
	g := d.cfg.Generation
	if d.cfg.API.WriteTimeout > 0 && d.cfg.API.WriteTimeout <= g.Timeout+g.TerminationGrace {
		d.addWarning(r, "api", "api.write_timeout",
			fmt.Sprintf("write_timeout %v does not exceed generation.timeout + termination_grace (%v); slow jobs will lose their response",
				d.cfg.API.WriteTimeout, g.Timeout+g.TerminationGrace))
	}
}

// warnVision reports a missing detection credential.
func (d *Doctor) warnVision(r *Result) {
	if d.cfg.Vision.APIKey == "" {
		d.addWarning(r, "vision", "vision.api_key",
			"no vision API key configured; /detect_objects/ will answer 503 (set GEMINI_API)")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
