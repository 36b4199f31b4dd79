package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribed/internal/config"
)

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
engine:
  model_path: /models/ggml-base.en.bin
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Daemon.PollInterval != config.DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.Daemon.PollInterval, config.DefaultPollInterval)
	}
	if cfg.Daemon.SessionTimeout != 10*time.Minute {
		t.Errorf("SessionTimeout = %v, want 10m", cfg.Daemon.SessionTimeout)
	}
	if cfg.Daemon.MaxRequestFailures != config.DefaultMaxRequestFailures {
		t.Errorf("MaxRequestFailures = %d, want %d", cfg.Daemon.MaxRequestFailures, config.DefaultMaxRequestFailures)
	}
	if cfg.Daemon.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want %q", cfg.Daemon.LogLevel, config.LogInfo)
	}
	if cfg.Daemon.RuntimeDir == "" {
		t.Error("RuntimeDir default is empty")
	}
	if cfg.Engine.ModelSize != "unknown" {
		t.Errorf("ModelSize = %q, want %q", cfg.Engine.ModelSize, "unknown")
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
daemon:
  runtime_dir: /run/user/1000/scribed
  poll_interval: 250ms
  session_timeout: 2m
  max_request_failures: 5
  log_level: debug
engine:
  model_path: /models/ggml-large-v3.bin
  model_size: large-v3
  language: en
  force_cpu: true
audio:
  gate:
    min_duration: 200ms
    min_rms: 0.001
  preprocess:
    high_pass_hz: 100
    spectral_factor: 2.0
    noise_floor_ratio: 0.05
    headroom: 0.9
  vad:
    threshold: 0.2
    min_silence: 700ms
    min_speech: 150ms
debug:
  listen_addr: localhost:9090
  dump_audio_dir: /tmp/scribed-dumps
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Daemon.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.Daemon.PollInterval)
	}
	if cfg.Daemon.SessionTimeout != 2*time.Minute {
		t.Errorf("SessionTimeout = %v, want 2m", cfg.Daemon.SessionTimeout)
	}
	if !cfg.Engine.ForceCPU {
		t.Error("ForceCPU = false, want true")
	}
	if cfg.Audio.VAD.MinSilence != 700*time.Millisecond {
		t.Errorf("VAD.MinSilence = %v, want 700ms", cfg.Audio.VAD.MinSilence)
	}
	if cfg.Debug.ListenAddr != "localhost:9090" {
		t.Errorf("ListenAddr = %q, want localhost:9090", cfg.Debug.ListenAddr)
	}
}

func TestLoadFromReader_PathHelpers(t *testing.T) {
	t.Parallel()
	yaml := `
daemon:
  runtime_dir: /run/scribed
engine:
  model_path: /models/m.bin
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := cfg.Daemon.InboxDir(), "/run/scribed/inbox"; got != want {
		t.Errorf("InboxDir() = %q, want %q", got, want)
	}
	if got, want := cfg.Daemon.OutboxDir(), "/run/scribed/outbox"; got != want {
		t.Errorf("OutboxDir() = %q, want %q", got, want)
	}
	if got, want := cfg.Daemon.StatusFile(), "/run/scribed/status.json"; got != want {
		t.Errorf("StatusFile() = %q, want %q", got, want)
	}
	if got, want := cfg.Daemon.PIDFile(), "/run/scribed/daemon.pid"; got != want {
		t.Errorf("PIDFile() = %q, want %q", got, want)
	}
	if got, want := cfg.Daemon.SessionMarkerFile(), "/run/scribed/session.json"; got != want {
		t.Errorf("SessionMarkerFile() = %q, want %q", got, want)
	}
}

func TestValidate_MissingModelPath(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`daemon: {}`))
	if err == nil {
		t.Fatal("expected error for missing model path, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
daemon:
  log_level: loud
engine:
  model_path: /models/m.bin
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
daemon:
  max_request_failures: -1
audio:
  vad:
    threshold: 3.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "max_request_failures") {
		t.Errorf("error should mention max_request_failures, got: %v", err)
	}
	if !strings.Contains(errStr, "vad.threshold") {
		t.Errorf("error should mention vad.threshold, got: %v", err)
	}
	if !strings.Contains(errStr, "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
engine:
  model_path: /models/m.bin
  temperture: 0.2
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scribed.yaml")
	content := `
engine:
  model_path: /models/ggml-base.en.bin
  model_size: base.en
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.ModelSize != "base.en" {
		t.Errorf("ModelSize = %q, want %q", cfg.Engine.ModelSize, "base.en")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
