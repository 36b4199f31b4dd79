// Package engine defines the transcription engine interface the daemon
// drives. An engine owns a lazily-loaded speech model: Unloaded until the
// first Transcribe, then Ready until an explicit Unload (idle-timeout
// eviction) or process exit.
//
// Implementations must serialise their own model access only if they allow
// concurrent Transcribe calls; the daemon guarantees a single in-flight
// invocation, so implementations may treat Transcribe as a critical section
// entered by one goroutine at a time.
package engine

import "context"

// Device identifies the compute device a transcription ran on.
type Device string

const (
	// DeviceCUDA is the primary accelerator path.
	DeviceCUDA Device = "cuda"

	// DeviceCPU is the fallback path when no accelerator is available or
	// accelerator initialisation failed.
	DeviceCPU Device = "cpu"
)

// Result is the outcome of a single transcription.
type Result struct {
	// Segments holds the transcribed text in utterance order. Empty (not
	// an error) when the audio contains no detected speech.
	Segments []string

	// Device is the compute device that produced the result.
	Device Device
}

// Engine converts audio to text segments and manages the model lifecycle.
type Engine interface {
	// Load brings the model into memory. Calling Load on a loaded engine
	// is a no-op. Transcribe loads lazily, so callers only need Load to
	// warm the model ahead of the first request.
	Load(ctx context.Context) error

	// Transcribe converts mono float32 samples at sampleRate into text
	// segments, loading the model first if necessary. Audio with no
	// detected speech yields a Result with empty Segments and a nil
	// error.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error)

	// Unload releases the model handle and any accelerator memory. The
	// next Transcribe reloads the model. Unloading an unloaded engine is
	// a no-op.
	Unload() error

	// Loaded reports whether a model handle is currently held in memory.
	Loaded() bool

	// Device returns the compute device the engine is using (or would
	// use, if not yet loaded).
	Device() Device

	// ModelID identifies the configured model (e.g. "large-v3",
	// "ggml-base.en.bin") for status reporting.
	ModelID() string
}
