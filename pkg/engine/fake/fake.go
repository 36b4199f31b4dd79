// Package fake provides a test double for the engine package.
//
// Use Engine to script transcription outcomes and inspect how the daemon
// drives the model lifecycle:
//
//	eng := &fake.Engine{Segments: []string{"hello world"}}
//	daemon := daemon.New(cfg, eng, ...)
//	...
//	if eng.TranscribeCalls() != 1 { ... }
package fake

import (
	"context"
	"sync"

	"scribed/pkg/engine"
)

// Compile-time assertion that Engine implements engine.Engine.
var _ engine.Engine = (*Engine)(nil)

// Engine is a scriptable in-memory engine.Engine. The zero value is usable:
// it reports DeviceCPU, loads instantly, and transcribes everything to
// Segments (nil by default). All methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	// Segments is returned from every successful Transcribe call.
	Segments []string

	// LoadErr, if non-nil, is returned by Load and by the implicit load
	// inside Transcribe.
	LoadErr error

	// TranscribeErr, if non-nil, is returned by Transcribe after the
	// implicit load succeeded.
	TranscribeErr error

	// TranscribeFunc, if non-nil, replaces the default Transcribe
	// behaviour entirely (after the implicit load). It receives the call
	// count (starting at 1), allowing per-call scripting.
	TranscribeFunc func(call int, samples []float32, sampleRate int) (engine.Result, error)

	// DeviceValue is the reported device. Defaults to engine.DeviceCPU.
	DeviceValue engine.Device

	// Model is the reported model identifier. Defaults to "fake".
	Model string

	loaded          bool
	loadCalls       int
	unloadCalls     int
	transcribeCalls int
}

// Load marks the engine loaded unless LoadErr is set.
func (e *Engine) Load(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadCalls++
	if e.LoadErr != nil {
		return e.LoadErr
	}
	e.loaded = true
	return nil
}

// Transcribe loads lazily, then returns the scripted outcome.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int) (engine.Result, error) {
	if err := e.Load(ctx); err != nil {
		return engine.Result{Device: e.Device()}, err
	}

	e.mu.Lock()
	e.transcribeCalls++
	call := e.transcribeCalls
	fn := e.TranscribeFunc
	scriptedErr := e.TranscribeErr
	segments := e.Segments
	e.mu.Unlock()

	if fn != nil {
		return fn(call, samples, sampleRate)
	}
	if scriptedErr != nil {
		return engine.Result{Device: e.Device()}, scriptedErr
	}
	return engine.Result{Segments: segments, Device: e.Device()}, nil
}

// Unload marks the engine unloaded.
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unloadCalls++
	e.loaded = false
	return nil
}

// Loaded reports whether Load has succeeded since the last Unload.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Device returns DeviceValue, defaulting to engine.DeviceCPU.
func (e *Engine) Device() engine.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DeviceValue == "" {
		return engine.DeviceCPU
	}
	return e.DeviceValue
}

// ModelID returns Model, defaulting to "fake".
func (e *Engine) ModelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Model == "" {
		return "fake"
	}
	return e.Model
}

// LoadCalls returns how many times Load ran (including implicit loads from
// Transcribe).
func (e *Engine) LoadCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadCalls
}

// UnloadCalls returns how many times Unload ran.
func (e *Engine) UnloadCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unloadCalls
}

// TranscribeCalls returns how many times Transcribe ran past the load step.
func (e *Engine) TranscribeCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcribeCalls
}
