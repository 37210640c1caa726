package config

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applies defaults and
// validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "sketchar.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but sketchar.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configPath when given, otherwise the discovered config,
// otherwise built-in defaults. The returned string names the source.
func LoadOrDefault(configPath string) (*Config, string, error) {
	if configPath == "" {
		configPath = Discover()
	}
	if configPath == "" {
		cfg := Defaults()
		applyConfigDefaults(cfg)
		if err := validate(cfg); err != nil {
			return nil, "", fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, "defaults", nil
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// Discover finds a config file by checking standard locations.
// Priority order: $SKETCHAR_CONFIG, ./sketchar.yaml, ~/.config/sketchar/sketchar.yaml.
// Returns "" when none exist.
func Discover() string {
	if p := os.Getenv("SKETCHAR_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("./sketchar.yaml"); err == nil {
		return "./sketchar.yaml"
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "sketchar", "sketchar.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig
		}
	}

	return ""
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxUploadBytes == 0 {
		cfg.API.MaxUploadBytes = defaults.API.MaxUploadBytes
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = defaults.API.ReadTimeout
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.State.JobLogRetention == 0 {
		cfg.State.JobLogRetention = defaults.State.JobLogRetention
	}

	if cfg.Layout.StagingDir == "" {
		cfg.Layout.StagingDir = defaults.Layout.StagingDir
	}
	if cfg.Layout.ScratchDir == "" {
		cfg.Layout.ScratchDir = defaults.Layout.ScratchDir
	}
	if cfg.Layout.PublishedPath == "" {
		cfg.Layout.PublishedPath = defaults.Layout.PublishedPath
	}
	if cfg.Layout.PublicURL == "" {
		cfg.Layout.PublicURL = defaults.Layout.PublicURL
	}
	if cfg.Layout.LockPath == "" {
		cfg.Layout.LockPath = filepath.Join(filepath.Dir(cfg.State.Path), "generation.lock")
	}

	if cfg.Generation.Backend == "" {
		cfg.Generation.Backend = defaults.Generation.Backend
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = defaults.Generation.Timeout
	}
	if cfg.Generation.TerminationGrace == 0 {
		cfg.Generation.TerminationGrace = defaults.Generation.TerminationGrace
	}
	if cfg.Generation.MinModelBytes == 0 {
		cfg.Generation.MinModelBytes = defaults.Generation.MinModelBytes
	}
	if cfg.Generation.OutputExt == "" {
		cfg.Generation.OutputExt = defaults.Generation.OutputExt
	}
	if !strings.HasPrefix(cfg.Generation.OutputExt, ".") {
		cfg.Generation.OutputExt = "." + cfg.Generation.OutputExt
	}
	cfg.Generation.OutputExt = strings.ToLower(cfg.Generation.OutputExt)
	if cfg.Generation.BusyPolicy == "" {
		cfg.Generation.BusyPolicy = defaults.Generation.BusyPolicy
	}

	// The write timeout has to outlive the slowest job.
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = cfg.Generation.Timeout + cfg.Generation.TerminationGrace + 5*time.Minute
	}

	if cfg.Backends.Billboard == nil {
		cfg.Backends.Billboard = DefaultBillboardConf()
	}
	if cfg.Backends.Billboard.Width <= 0 {
		cfg.Backends.Billboard.Width = DefaultBillboardConf().Width
	}
	if cfg.Backends.Billboard.Depth <= 0 {
		cfg.Backends.Billboard.Depth = DefaultBillboardConf().Depth
	}
	if sp := cfg.Backends.Subprocess; sp != nil && sp.OutputName == "" {
		sp.OutputName = "{stem}" + cfg.Generation.OutputExt
	}

	if rc := cfg.Backends.Remote; rc != nil {
		def := DefaultRemoteConf()
		if rc.URL == "" {
			rc.URL = def.URL
		}
		if rc.Model == "" {
			rc.Model = def.Model
		}
		if rc.MaxBytes <= 0 {
			rc.MaxBytes = def.MaxBytes
		}
		if envVarPattern.MatchString(rc.APIKey) {
			rc.APIKey = ""
		}
	}

	if cfg.Vision.Model == "" {
		cfg.Vision.Model = defaults.Vision.Model
	}
	// An unresolved ${VAR} means the credential is absent, not that the
	// literal placeholder is the key.
	if envVarPattern.MatchString(cfg.Vision.APIKey) {
		cfg.Vision.APIKey = ""
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.API.MaxUploadBytes < 0 {
		return fmt.Errorf("api.max_upload_bytes must be positive")
	}

	if cfg.Generation.Timeout <= 0 {
		return fmt.Errorf("generation.timeout must be positive")
	}
	if cfg.Generation.TerminationGrace < 0 {
		return fmt.Errorf("generation.termination_grace must not be negative")
	}
	if cfg.Generation.MinModelBytes < 0 {
		return fmt.Errorf("generation.min_model_bytes must not be negative")
	}
	if p := cfg.Generation.BusyPolicy; p != BusyReject && p != BusyWait {
		return fmt.Errorf("generation.busy_policy must be %q or %q (got %q)", BusyReject, BusyWait, p)
	}

	switch cfg.Generation.Backend {
	case "billboard":
	case "subprocess":
		if cfg.Backends.Subprocess == nil {
			return fmt.Errorf("generation.backend is subprocess but backends.subprocess is not configured")
		}
	case "remote":
		if cfg.Backends.Remote == nil {
			return fmt.Errorf("generation.backend is remote but backends.remote is not configured")
		}
	default:
		return fmt.Errorf("generation.backend must be billboard, subprocess or remote (got %q)", cfg.Generation.Backend)
	}

	if rc := cfg.Backends.Remote; rc != nil {
		u, err := url.Parse(rc.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("backends.remote.url must be an http(s) URL (got %q)", rc.URL)
		}
	}

	if sp := cfg.Backends.Subprocess; sp != nil {
		if strings.TrimSpace(sp.Command) == "" {
			return fmt.Errorf("backends.subprocess.command is required")
		}
		if envVarPattern.MatchString(sp.Command) {
			return fmt.Errorf("backends.subprocess.command: environment variable ${%s} is not set",
				envVarPattern.FindStringSubmatch(sp.Command)[1])
		}
		if filepath.IsAbs(sp.OutputName) || strings.Contains(sp.OutputName, "..") {
			return fmt.Errorf("backends.subprocess.output_name must be relative to the scratch dir (got %q)", sp.OutputName)
		}
	}

	if cfg.Layout.StagingDir == cfg.Layout.ScratchDir {
		return fmt.Errorf("layout.staging_dir and layout.scratch_dir must differ")
	}
	scratch := filepath.Clean(cfg.Layout.ScratchDir)
	published := filepath.Clean(cfg.Layout.PublishedPath)
	if strings.HasPrefix(published, scratch+string(filepath.Separator)) {
		return fmt.Errorf("layout.published_path must not live inside layout.scratch_dir")
	}
	if path.Ext(cfg.Layout.PublicURL) == "" {
		return fmt.Errorf("layout.public_url must name a file (got %q)", cfg.Layout.PublicURL)
	}

	return nil
}
