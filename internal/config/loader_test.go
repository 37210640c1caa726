package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sketchar.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MinimalAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: test-ar
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "test-ar" {
		t.Errorf("service.name = %q, want test-ar", cfg.Service.Name)
	}
	if cfg.Generation.Timeout != 20*time.Minute {
		t.Errorf("generation.timeout = %v, want 20m", cfg.Generation.Timeout)
	}
	if cfg.Generation.MinModelBytes != 100 {
		t.Errorf("generation.min_model_bytes = %d, want 100", cfg.Generation.MinModelBytes)
	}
	if cfg.Generation.Backend != "billboard" {
		t.Errorf("generation.backend = %q, want billboard", cfg.Generation.Backend)
	}
	if cfg.Generation.BusyPolicy != BusyReject {
		t.Errorf("generation.busy_policy = %q, want reject", cfg.Generation.BusyPolicy)
	}
	if cfg.Layout.PublicURL != "/generated_models/output.glb" {
		t.Errorf("layout.public_url = %q", cfg.Layout.PublicURL)
	}
	if cfg.Layout.LockPath != filepath.Join("data", "generation.lock") {
		t.Errorf("layout.lock_path = %q", cfg.Layout.LockPath)
	}
	if cfg.API.WriteTimeout <= cfg.Generation.Timeout {
		t.Errorf("api.write_timeout %v must exceed generation.timeout %v", cfg.API.WriteTimeout, cfg.Generation.Timeout)
	}
	if cfg.Backends.Billboard == nil || cfg.Backends.Billboard.Depth != 0.01 {
		t.Errorf("billboard defaults not applied: %+v", cfg.Backends.Billboard)
	}
}

func TestLoad_DirectoryLooksForSketcharYAML(t *testing.T) {
	path := writeConfig(t, "service:\n  log_level: debug\n")

	cfg, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.Service.LogLevel)
	}
}

func TestLoad_SubprocessBackend(t *testing.T) {
	t.Setenv("TRIPOSR_HOME", "/opt/triposr")
	path := writeConfig(t, `
generation:
  backend: subprocess
  timeout: 90s
  output_ext: GLB
backends:
  subprocess:
    command: python
    args: [run.py, --model-save-format, glb]
    workdir: ${TRIPOSR_HOME}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	sp := cfg.Backends.Subprocess
	if sp == nil {
		t.Fatal("subprocess config missing")
	}
	if sp.WorkDir != "/opt/triposr" {
		t.Errorf("workdir = %q, want interpolated /opt/triposr", sp.WorkDir)
	}
	if cfg.Generation.OutputExt != ".glb" {
		t.Errorf("output_ext = %q, want .glb", cfg.Generation.OutputExt)
	}
	if sp.OutputName != "{stem}.glb" {
		t.Errorf("output_name = %q, want {stem}.glb", sp.OutputName)
	}
	if cfg.Generation.Timeout != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", cfg.Generation.Timeout)
	}
}

func TestLoad_RemoteBackend(t *testing.T) {
	t.Setenv("HF_API_KEY", "hf_test")
	path := writeConfig(t, `
generation:
  backend: remote
backends:
  remote:
    api_key: ${HF_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rc := cfg.Backends.Remote
	if rc == nil {
		t.Fatal("remote config missing")
	}
	if rc.APIKey != "hf_test" {
		t.Errorf("api_key = %q, want hf_test", rc.APIKey)
	}
	if rc.URL != "https://api-inference.huggingface.co/models" || rc.Model != "stabilityai/stable-fast-3d" {
		t.Errorf("remote defaults not applied: %+v", rc)
	}
	if rc.MaxBytes != 256<<20 {
		t.Errorf("max_bytes = %d", rc.MaxBytes)
	}
}

func TestLoad_RemoteUnresolvedKeyIsEmpty(t *testing.T) {
	os.Unsetenv("SKETCHAR_TEST_MISSING_HF")
	cfg, err := Load(writeConfig(t, "backends:\n  remote:\n    api_key: ${SKETCHAR_TEST_MISSING_HF}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backends.Remote.APIKey != "" {
		t.Errorf("api_key = %q, want empty", cfg.Backends.Remote.APIKey)
	}
}

func TestLoad_UnresolvedVisionKeyMeansNoCredential(t *testing.T) {
	os.Unsetenv("SKETCHAR_TEST_MISSING_KEY")
	path := writeConfig(t, `
vision:
  api_key: ${SKETCHAR_TEST_MISSING_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Vision.APIKey != "" {
		t.Errorf("api_key = %q, want empty for unresolved placeholder", cfg.Vision.APIKey)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad log level",
			content: "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "bad busy policy",
			content: "generation:\n  busy_policy: queue\n",
			wantErr: "generation.busy_policy",
		},
		{
			name:    "negative timeout",
			content: "generation:\n  timeout: -1s\n",
			wantErr: "generation.timeout",
		},
		{
			name:    "subprocess backend without config",
			content: "generation:\n  backend: subprocess\n",
			wantErr: "backends.subprocess is not configured",
		},
		{
			name:    "remote backend without config",
			content: "generation:\n  backend: remote\n",
			wantErr: "backends.remote is not configured",
		},
		{
			name:    "remote with bad url",
			content: "backends:\n  remote:\n    url: ftp://example.com\n",
			wantErr: "backends.remote.url",
		},
		{
			name:    "unknown backend",
			content: "generation:\n  backend: nerf\n",
			wantErr: "generation.backend",
		},
		{
			name:    "subprocess without command",
			content: "backends:\n  subprocess:\n    args: [x]\n",
			wantErr: "backends.subprocess.command is required",
		},
		{
			name:    "escaping output name",
			content: "backends:\n  subprocess:\n    command: tool\n    output_name: ../out.glb\n",
			wantErr: "output_name",
		},
		{
			name:    "same staging and scratch",
			content: "layout:\n  staging_dir: ./work\n  scratch_dir: ./work\n",
			wantErr: "must differ",
		},
		{
			name:    "publish inside scratch",
			content: "layout:\n  scratch_dir: ./scratch\n  published_path: ./scratch/out.glb\n",
			wantErr: "must not live inside",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadOrDefault_FallsBackToDefaults(t *testing.T) {
	t.Setenv("SKETCHAR_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, source, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if source != "defaults" {
		t.Errorf("source = %q, want defaults", source)
	}
	if cfg.Generation.Backend != "billboard" {
		t.Errorf("backend = %q", cfg.Generation.Backend)
	}
}

func TestLoadOrDefault_UsesEnvDiscovery(t *testing.T) {
	path := writeConfig(t, "service:\n  name: from-env\n")
	t.Setenv("SKETCHAR_CONFIG", path)

	cfg, source, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if source != path {
		t.Errorf("source = %q, want %q", source, path)
	}
	if cfg.Service.Name != "from-env" {
		t.Errorf("name = %q", cfg.Service.Name)
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("SKETCHAR_X", "value")
	got := interpolateEnv("a=${SKETCHAR_X} b=${SKETCHAR_UNSET_VAR_123}")
	want := "a=value b=${SKETCHAR_UNSET_VAR_123}"
	if got != want {
		t.Errorf("interpolateEnv() = %q, want %q", got, want)
	}
}
