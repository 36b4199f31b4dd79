package audio

import (
	"math"
	"time"
)

const (
	// defaultMinDuration rejects recordings shorter than an accidental
	// key tap.
	defaultMinDuration = 150 * time.Millisecond

	// defaultMinRMS is calibrated just above the measured ambient noise
	// floor so that an open microphone in a quiet room is rejected.
	defaultMinRMS = 0.0005
)

// Gate is a pure predicate that screens audio buffers before the expensive
// transcription path. It rejects buffers that are too short or too quiet to
// plausibly contain speech, so that accidental hotkey triggers never engage
// the model or the accelerator.
//
// The zero value is not useful; construct with [NewGate].
type Gate struct {
	// MinDuration is the minimum buffer duration that passes the gate.
	MinDuration time.Duration

	// MinRMS is the minimum root-mean-square amplitude (samples in
	// [-1.0, 1.0]) that passes the gate.
	MinRMS float64
}

// NewGate returns a Gate with the given thresholds. Zero values are replaced
// with defaults (150 ms, 0.0005).
func NewGate(minDuration time.Duration, minRMS float64) Gate {
	if minDuration <= 0 {
		minDuration = defaultMinDuration
	}
	if minRMS <= 0 {
		minRMS = defaultMinRMS
	}
	return Gate{MinDuration: minDuration, MinRMS: minRMS}
}

// Accepts reports whether the buffer is worth transcribing. It has no side
// effects; the caller decides whether a rejected buffer still counts as
// daemon activity.
func (g Gate) Accepts(samples []float32, sampleRate int) bool {
	if sampleRate <= 0 || len(samples) == 0 {
		return false
	}
	duration := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	if duration < g.MinDuration {
		return false
	}
	return RMS(samples) >= g.MinRMS
}

// RMS returns the root-mean-square amplitude of samples. Returns 0 for an
// empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the maximum absolute sample value. Returns 0 for an empty
// slice.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}
