package config

import "time"

// Config represents the complete sketchar configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	API        APIConfig        `yaml:"api"`
	State      StateConfig      `yaml:"state"`
	Layout     LayoutConfig     `yaml:"layout"`
	Generation GenerationConfig `yaml:"generation"`
	Backends   BackendsConfig   `yaml:"backends"`
	Vision     VisionConfig     `yaml:"vision"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen         string        `yaml:"listen"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	// WriteTimeout must exceed generation.timeout or long jobs lose their response.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StateConfig defines job log storage settings.
type StateConfig struct {
	Path            string        `yaml:"path"`
	JobLogRetention time.Duration `yaml:"job_log_retention"`
}

// LayoutConfig names every shared filesystem location a generation job touches.
type LayoutConfig struct {
	StagingDir    string `yaml:"staging_dir"`
	ScratchDir    string `yaml:"scratch_dir"`
	PublishedPath string `yaml:"published_path"`
	PublicURL     string `yaml:"public_url"`
	LockPath      string `yaml:"lock_path"`
}

// GenerationConfig defines orchestrator behavior.
type GenerationConfig struct {
	Backend          string        `yaml:"backend"`
	Timeout          time.Duration `yaml:"timeout"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
	MinModelBytes    int64         `yaml:"min_model_bytes"`
	OutputExt        string        `yaml:"output_ext"`
	BusyPolicy       string        `yaml:"busy_policy"` // "reject" or "wait"
}

// BackendsConfig holds per-backend settings.
type BackendsConfig struct {
	Billboard  *BillboardConfig  `yaml:"billboard,omitempty"`
	Subprocess *SubprocessConfig `yaml:"subprocess,omitempty"`
	Remote     *RemoteConfig     `yaml:"remote,omitempty"`
}

// BillboardConfig sizes the in-process textured plane.
type BillboardConfig struct {
	Width float64 `yaml:"width"`
	Depth float64 `yaml:"depth"`
}

// SubprocessConfig describes the external image-to-3D tool.
type SubprocessConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	WorkDir string   `yaml:"workdir,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	// OutputName is the tool's conventional output path relative to the
	// scratch dir. "{stem}" expands to the staged input's base name.
	OutputName string `yaml:"output_name,omitempty"`
}

// RemoteConfig describes a hosted image-to-3D inference endpoint. The image
// is POSTed to URL/Model and the response body is the model.
type RemoteConfig struct {
	URL      string `yaml:"url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// DefaultRemoteConf returns the Hugging Face inference defaults.
func DefaultRemoteConf() *RemoteConfig {
	return &RemoteConfig{
		URL:      "https://api-inference.huggingface.co/models",
		Model:    "stabilityai/stable-fast-3d",
		MaxBytes: 256 << 20,
	}
}

// VisionConfig configures the object detection helper.
type VisionConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "sketchar",
			LogLevel:  "info",
			LogFormat: "json",
		},
		API: APIConfig{
			Listen:         "127.0.0.1:8000",
			MaxUploadBytes: 20 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   25 * time.Minute,
		},
		State: StateConfig{
			Path:            "./data/sketchar.db",
			JobLogRetention: 30 * 24 * time.Hour,
		},
		Layout: LayoutConfig{
			StagingDir:    "./data/staging",
			ScratchDir:    "./data/scratch",
			PublishedPath: "./public/generated_models/output.glb",
			PublicURL:     "/generated_models/output.glb",
			LockPath:      "./data/generation.lock",
		},
		Generation: GenerationConfig{
			Backend:          "billboard",
			Timeout:          20 * time.Minute,
			TerminationGrace: 5 * time.Second,
			MinModelBytes:    100,
			OutputExt:        ".glb",
			BusyPolicy:       BusyReject,
		},
		Backends: BackendsConfig{
			Billboard: DefaultBillboardConf(),
		},
		Vision: VisionConfig{
			Model: "gemini-2.5-flash",
		},
	}
}

// DefaultBillboardConf returns default billboard dimensions.
func DefaultBillboardConf() *BillboardConfig {
	return &BillboardConfig{
		Width: 1.0,
		Depth: 0.01,
	}
}

const (
	BusyReject = "reject"
	BusyWait   = "wait"
)
