package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/sketchar/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(root, "data", "sketchar.db")
	cfg.Layout = config.LayoutConfig{
		StagingDir:    filepath.Join(root, "data", "staging"),
		ScratchDir:    filepath.Join(root, "data", "scratch"),
		PublishedPath: filepath.Join(root, "public", "generated_models", "output.glb"),
		PublicURL:     "/generated_models/output.glb",
		LockPath:      filepath.Join(root, "data", "generation.lock"),
	}
	cfg.Vision.APIKey = "test-key"
	return cfg
}

func newTestDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.lookPath = func(string) (string, error) { return "/usr/bin/true", nil }
	d.sameFS = func(a, b string) (bool, error) { return true, nil }
	d.localFS = func(string) error { return nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newTestDoctor(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_RealEnvironment(t *testing.T) {
	t.Parallel()
	r := New(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid on temp dirs, got errors: %v", r.Errors)
	}
}

func TestValidate_SubprocessCommandMissing(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Generation.Backend = "subprocess"
	cfg.Backends.Subprocess = &config.SubprocessConfig{Command: "triposr-run"}

	d := newTestDoctor(cfg)
	d.lookPath = func(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid when the selected backend cannot launch")
	}
	assertHasError(t, r, "backend", "not executable")
}

func TestValidate_UnselectedSubprocessOnlyWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Backends.Subprocess = &config.SubprocessConfig{Command: "triposr-run"}

	d := newTestDoctor(cfg)
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "backend", "not executable")
}

func TestValidate_RelativeCommandResolvesAgainstWorkdir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	workdir := t.TempDir()
	cfg.Generation.Backend = "subprocess"
	cfg.Backends.Subprocess = &config.SubprocessConfig{Command: "./run.sh", WorkDir: workdir}

	var looked string
	d := newTestDoctor(cfg)
	d.lookPath = func(p string) (string, error) {
		looked = p
		return p, nil
	}

	if r := d.Validate(); !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if want := filepath.Join(workdir, "run.sh"); looked != want {
		t.Fatalf("looked up %q, want %q", looked, want)
	}
}

func TestValidate_WorkdirMustBeDirectory(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Generation.Backend = "subprocess"
	cfg.Backends.Subprocess = &config.SubprocessConfig{Command: "python", WorkDir: file}

	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "backend", "is not a directory")
}

func TestValidate_NetworkStateIsError(t *testing.T) {
	t.Parallel()
	d := newTestDoctor(validConfig(t))
	d.localFS = func(path string) error { return errors.New(`database path is on network filesystem "nfs"`) }

	r := d.Validate()
	assertHasError(t, r, "state", "network filesystem")
	assertHasWarning(t, r, "layout", "lock file may not be honoured")
}

func TestValidate_CrossFilesystemPublishWarns(t *testing.T) {
	t.Parallel()
	d := newTestDoctor(validConfig(t))
	d.sameFS = func(a, b string) (bool, error) { return false, nil }

	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "layout", "different filesystems")
}

func TestValidate_LayoutPathIsFile(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	if err := os.MkdirAll(filepath.Dir(cfg.Layout.ScratchDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Layout.ScratchDir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestDoctor(cfg).Validate()
	assertHasError(t, r, "layout", "is not a directory")
}

func TestValidate_ShortWriteTimeoutWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Generation.Timeout = 10 * time.Minute
	cfg.API.WriteTimeout = 5 * time.Minute

	r := newTestDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "write_timeout")
}

func TestValidate_MissingVisionKeyWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Vision.APIKey = ""

	r := newTestDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("missing vision key must not invalidate config: %v", r.Errors)
	}
	assertHasWarning(t, r, "vision", "GEMINI_API")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}

func TestValidate_RemoteWithoutKey(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Backends.Remote = &config.RemoteConfig{}
	r := newTestDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("unselected remote backend must only warn: %v", r.Errors)
	}
	assertHasWarning(t, r, "backend", "HF_API_KEY")

	cfg = validConfig(t)
	cfg.Generation.Backend = "remote"
	cfg.Backends.Remote = &config.RemoteConfig{}
	r = newTestDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("selected remote backend without a key must be invalid")
	}
	assertHasError(t, r, "backend", "HF_API_KEY")

	cfg.Backends.Remote.APIKey = "hf_x"
	if r := newTestDoctor(cfg).Validate(); !r.Valid {
		t.Fatalf("expected valid with key, got %v", r.Errors)
	}
}
