package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in defaults applied by [ApplyDefaults] for fields left at their
// zero value.
const (
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultSessionTimeout     = 10 * time.Minute
	DefaultMaxRequestFailures = 3
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills fields left at their zero value with the built-in
// defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Daemon.RuntimeDir == "" {
		cfg.Daemon.RuntimeDir = defaultRuntimeDir()
	}
	if cfg.Daemon.PollInterval == 0 {
		cfg.Daemon.PollInterval = DefaultPollInterval
	}
	if cfg.Daemon.SessionTimeout == 0 {
		cfg.Daemon.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.Daemon.MaxRequestFailures == 0 {
		cfg.Daemon.MaxRequestFailures = DefaultMaxRequestFailures
	}
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = LogInfo
	}
	if cfg.Engine.ModelSize == "" {
		cfg.Engine.ModelSize = "unknown"
	}
}

// defaultRuntimeDir prefers the per-user runtime directory and falls back
// to the system temp dir.
func defaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/scribed"
	}
	return os.TempDir() + "/scribed"
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Daemon.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("daemon.poll_interval %v is negative", cfg.Daemon.PollInterval))
	}
	if cfg.Daemon.SessionTimeout < 0 {
		errs = append(errs, fmt.Errorf("daemon.session_timeout %v is negative", cfg.Daemon.SessionTimeout))
	}
	if cfg.Daemon.MaxRequestFailures < 0 {
		errs = append(errs, fmt.Errorf("daemon.max_request_failures %d is negative", cfg.Daemon.MaxRequestFailures))
	}
	if cfg.Daemon.LogLevel != "" && !cfg.Daemon.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("daemon.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Daemon.LogLevel))
	}

	if cfg.Engine.ModelPath == "" {
		errs = append(errs, errors.New("engine.model_path is required"))
	}

	if cfg.Audio.Gate.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.gate.min_duration %v is negative", cfg.Audio.Gate.MinDuration))
	}
	if cfg.Audio.Gate.MinRMS < 0 {
		errs = append(errs, fmt.Errorf("audio.gate.min_rms %v is negative", cfg.Audio.Gate.MinRMS))
	}
	if cfg.Audio.Preprocess.SpectralFactor < 0 {
		errs = append(errs, fmt.Errorf("audio.preprocess.spectral_factor %v is negative", cfg.Audio.Preprocess.SpectralFactor))
	}
	if r := cfg.Audio.Preprocess.NoiseFloorRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("audio.preprocess.noise_floor_ratio %v is out of range [0, 1]", r))
	}
	if h := cfg.Audio.Preprocess.Headroom; h < 0 || h > 1 {
		errs = append(errs, fmt.Errorf("audio.preprocess.headroom %v is out of range [0, 1]", h))
	}
	if v := cfg.Audio.VAD.Threshold; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("audio.vad.threshold %v is out of range [0, 1]", v))
	}

	// A very short timeout thrashes the model on and off the GPU.
	if t := cfg.Daemon.SessionTimeout; t > 0 && t < 10*time.Second {
		slog.Warn("daemon.session_timeout is very short; the model will reload often",
			"session_timeout", t,
		)
	}

	return errors.Join(errs...)
}
