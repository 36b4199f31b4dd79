// Package config provides the configuration schema and loader for the
// scribed transcription daemon.
package config

import (
	"path/filepath"
	"time"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for scribed.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Daemon Daemon `yaml:"daemon"`
	Engine Engine `yaml:"engine"`
	Audio  Audio  `yaml:"audio"`
	Debug  Debug  `yaml:"debug"`
}

// Daemon holds the IPC layout and session lifecycle settings.
type Daemon struct {
	// RuntimeDir is the directory holding all IPC state: the request
	// inbox, the response outbox, and the status, pid, and session
	// marker files. Created on startup if absent.
	RuntimeDir string `yaml:"runtime_dir"`

	// PollInterval is how often the inbox is scanned for new requests.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SessionTimeout is the idle period after which the model is
	// released from memory. The daemon keeps running and reloads the
	// model on the next request.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// MaxRequestFailures is how many times a single request identifier
	// may fail before the daemon shuts down to avoid a crash loop.
	MaxRequestFailures int `yaml:"max_request_failures"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// InboxDir returns the request drop directory under the runtime dir.
func (d Daemon) InboxDir() string { return filepath.Join(d.RuntimeDir, "inbox") }

// OutboxDir returns the response directory under the runtime dir.
func (d Daemon) OutboxDir() string { return filepath.Join(d.RuntimeDir, "outbox") }

// StatusFile returns the path of the daemon status file.
func (d Daemon) StatusFile() string { return filepath.Join(d.RuntimeDir, "status.json") }

// PIDFile returns the path of the single-instance lock file.
func (d Daemon) PIDFile() string { return filepath.Join(d.RuntimeDir, "daemon.pid") }

// SessionMarkerFile returns the path of the live-session marker file.
func (d Daemon) SessionMarkerFile() string { return filepath.Join(d.RuntimeDir, "session.json") }

// Engine holds the speech model settings.
type Engine struct {
	// ModelPath is the path of the whisper.cpp GGML model file.
	ModelPath string `yaml:"model_path"`

	// ModelSize is the human-readable model label reported in the
	// status file (e.g., "large-v3", "base.en").
	ModelSize string `yaml:"model_size"`

	// Language is the transcription language hint (e.g., "en").
	// Empty means auto-detect.
	Language string `yaml:"language"`

	// ForceCPU disables the CUDA probe and pins inference to the CPU.
	ForceCPU bool `yaml:"force_cpu"`
}

// Audio tunes the gate, noise reduction, and speech detection stages.
// Zero values select the built-in defaults.
type Audio struct {
	Gate       Gate       `yaml:"gate"`
	Preprocess Preprocess `yaml:"preprocess"`
	VAD        VAD        `yaml:"vad"`
}

// Gate configures the cheap pre-transcription rejection filter.
type Gate struct {
	// MinDuration is the shortest recording worth transcribing.
	MinDuration time.Duration `yaml:"min_duration"`

	// MinRMS is the quietest overall level worth transcribing.
	MinRMS float64 `yaml:"min_rms"`
}

// Preprocess configures the noise reduction pipeline.
type Preprocess struct {
	// HighPassHz is the rumble filter cutoff frequency.
	HighPassHz float64 `yaml:"high_pass_hz"`

	// SpectralFactor scales the noise estimate subtracted from each
	// frequency bin.
	SpectralFactor float64 `yaml:"spectral_factor"`

	// NoiseFloorRatio is the fraction of the original magnitude kept as
	// a floor after subtraction.
	NoiseFloorRatio float64 `yaml:"noise_floor_ratio"`

	// Headroom is the peak level audio is normalised to.
	Headroom float64 `yaml:"headroom"`
}

// VAD configures speech span detection.
type VAD struct {
	// Threshold is the normalised frame energy above which a frame
	// counts as speech.
	Threshold float64 `yaml:"threshold"`

	// MinSilence is the pause length that ends a speech span.
	MinSilence time.Duration `yaml:"min_silence"`

	// MinSpeech is the shortest span kept; shorter bursts are treated
	// as clicks.
	MinSpeech time.Duration `yaml:"min_speech"`
}

// Debug holds optional development and observability settings.
type Debug struct {
	// ListenAddr is the TCP address of the debug HTTP server exposing
	// Prometheus metrics and health probes (e.g., "localhost:9090").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// DumpAudioDir, when set, receives a cleaned-audio WAV copy of
	// every transcribed request for offline inspection.
	DumpAudioDir string `yaml:"dump_audio_dir"`
}
