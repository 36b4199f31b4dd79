// Package whispercpp implements engine.Engine on the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The model is loaded lazily on the first Transcribe call and held in
// memory until Unload, so a warm daemon answers follow-up requests without
// paying the multi-second load cost again. Voice activity detection runs
// before the model is engaged: audio with no detected speech returns empty
// segments without ever loading the model.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"scribed/pkg/audio"
	"scribed/pkg/engine"
)

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

const defaultLanguage = "en"

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the BCP-47 language code for transcription (e.g. "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithVAD overrides the voice activity detection tuning.
func WithVAD(params audio.VADParams) Option {
	return func(e *Engine) { e.vad = params }
}

// WithCUDAProbe replaces the accelerator detection probe. The probe is run
// once at construction; returning false selects the CPU path. Used by tests
// and by deployments that want to force a device.
func WithCUDAProbe(probe func() bool) Option {
	return func(e *Engine) { e.probe = probe }
}

// Engine implements engine.Engine using the whisper.cpp Go bindings.
// All model state is guarded by mu; the daemon serialises Transcribe calls,
// but Unload may race with a load from the idle monitor, so locking is
// explicit rather than assumed.
type Engine struct {
	modelPath string
	language  string
	vad       audio.VADParams
	probe     func() bool

	mu     sync.Mutex
	model  whisperlib.Model
	device engine.Device
}

// New creates an Engine for the whisper.cpp model file at modelPath. The
// model is not loaded until the first Transcribe (or an explicit Load).
// The accelerator probe runs here so Device is meaningful immediately.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whispercpp: modelPath must not be empty")
	}
	e := &Engine{
		modelPath: modelPath,
		language:  defaultLanguage,
		vad:       audio.DefaultVADParams(),
		probe:     probeNvidiaSMI,
	}
	for _, o := range opts {
		o(e)
	}

	if e.probe() {
		e.device = engine.DeviceCUDA
	} else {
		e.device = engine.DeviceCPU
	}
	slog.Info("transcription engine created",
		"model", modelPath,
		"device", e.device,
		"vad_threshold", e.vad.Threshold,
	)
	return e, nil
}

// Load brings the model into memory. No-op when already loaded. On
// accelerator initialisation failure whisper.cpp falls back to CPU
// internally; the reported device is downgraded accordingly.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

// loadLocked performs the actual model load. Caller must hold e.mu.
func (e *Engine) loadLocked(ctx context.Context) error {
	if e.model != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("whispercpp: load cancelled: %w", err)
	}

	start := time.Now()
	slog.Info("loading whisper model", "model", e.modelPath, "device", e.device)

	model, err := whisperlib.New(e.modelPath)
	if err != nil {
		if e.device == engine.DeviceCUDA {
			// A CUDA-built whisper.cpp that cannot initialise the
			// accelerator reports its CPU fallback in the load log;
			// downgrade what we advertise and retry once.
			slog.Warn("model load failed on accelerator, retrying on cpu", "err", err)
			e.device = engine.DeviceCPU
			model, err = whisperlib.New(e.modelPath)
		}
		if err != nil {
			return fmt.Errorf("whispercpp: load model %q: %w", e.modelPath, err)
		}
	}

	e.model = model
	slog.Info("whisper model loaded",
		"model", e.modelPath,
		"device", e.device,
		"load_time", time.Since(start).Round(10*time.Millisecond),
	)
	return nil
}

// Transcribe runs VAD, then whisper.cpp inference over the speech-bearing
// spans. Loads the model lazily. No detected speech yields empty segments
// and never engages the model.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int) (engine.Result, error) {
	spans := audio.DetectSpeech(samples, sampleRate, e.vad)
	if len(spans) == 0 {
		return engine.Result{Device: e.Device()}, nil
	}
	speech := audio.ExtractSpeech(samples, spans)
	if sampleRate != audio.EngineSampleRate {
		speech = audio.Resample(speech, sampleRate, audio.EngineSampleRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadLocked(ctx); err != nil {
		return engine.Result{Device: e.device}, err
	}

	segments, err := e.inferLocked(ctx, speech)
	if err != nil {
		return engine.Result{Device: e.device}, err
	}
	return engine.Result{Segments: segments, Device: e.device}, nil
}

// inferLocked runs one whisper.cpp inference. Caller must hold e.mu. Each
// inference uses a fresh context; contexts are not reusable across calls
// but the model handle is shared.
func (e *Engine) inferLocked(ctx context.Context, samples []float32) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whispercpp: transcribe cancelled: %w", err)
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whispercpp: create context: %w", err)
	}

	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whispercpp: failed to set language, using model default",
			"language", e.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var segments []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			segments = append(segments, text)
		}
	}
	return segments, nil
}

// Unload releases the model handle and any accelerator memory. The next
// Transcribe reloads the model.
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	if err != nil {
		return fmt.Errorf("whispercpp: close model: %w", err)
	}
	slog.Info("whisper model released", "model", e.modelPath)
	return nil
}

// Loaded reports whether the model handle is currently in memory.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model != nil
}

// Device returns the compute device selected by the accelerator probe,
// downgraded to CPU if an accelerator load failed.
func (e *Engine) Device() engine.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// ModelID returns the configured model path for status reporting.
func (e *Engine) ModelID() string {
	return e.modelPath
}

// probeNvidiaSMI reports whether an NVIDIA accelerator is visible. The
// check mirrors what the launcher environment does: a working nvidia-smi
// means the CUDA path is worth attempting.
func probeNvidiaSMI() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "nvidia-smi").Run(); err != nil {
		return false
	}
	return true
}
