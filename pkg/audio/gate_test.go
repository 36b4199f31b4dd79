package audio

import (
	"math"
	"testing"
	"time"
)

// tone generates a sine wave of the given frequency, amplitude, and
// duration at sampleRate.
func tone(freq, amplitude float64, d time.Duration, sampleRate int) []float32 {
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// silence generates d of zero samples at sampleRate.
func silence(d time.Duration, sampleRate int) []float32 {
	return make([]float32, int(d.Seconds()*float64(sampleRate)))
}

func TestGate_Accepts(t *testing.T) {
	g := NewGate(150*time.Millisecond, 0.0005)

	tests := []struct {
		name    string
		samples []float32
		rate    int
		want    bool
	}{
		{"speech-like tone", tone(440, 0.3, 2*time.Second, 16000), 16000, true},
		{"too short", tone(440, 0.3, 50*time.Millisecond, 16000), 16000, false},
		{"50ms of zeros", silence(50*time.Millisecond, 16000), 16000, false},
		{"long but silent", silence(2*time.Second, 16000), 16000, false},
		{"below rms threshold", tone(440, 0.0001, 2*time.Second, 16000), 16000, false},
		{"just above threshold", tone(440, 0.01, 2*time.Second, 16000), 16000, true},
		{"empty buffer", nil, 16000, false},
		{"invalid sample rate", tone(440, 0.3, time.Second, 16000), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Accepts(tt.samples, tt.rate); got != tt.want {
				t.Errorf("Accepts() = %v, want %v (duration %.3fs, rms %.6f)",
					got, tt.want,
					float64(len(tt.samples))/float64(max(tt.rate, 1)), RMS(tt.samples))
			}
		})
	}
}

func TestNewGate_Defaults(t *testing.T) {
	g := NewGate(0, 0)
	if g.MinDuration != 150*time.Millisecond {
		t.Errorf("MinDuration = %v, want 150ms", g.MinDuration)
	}
	if g.MinRMS != 0.0005 {
		t.Errorf("MinRMS = %v, want 0.0005", g.MinRMS)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	// A full-scale square wave has RMS 1.
	sq := []float32{1, -1, 1, -1}
	if got := RMS(sq); math.Abs(got-1) > 1e-9 {
		t.Errorf("RMS(square) = %v, want 1", got)
	}
	// Sine RMS is amplitude/√2.
	s := tone(100, 0.5, time.Second, 16000)
	want := 0.5 / math.Sqrt2
	if got := RMS(s); math.Abs(got-want) > 0.01 {
		t.Errorf("RMS(sine) = %v, want ≈%v", got, want)
	}
}

func TestPeak(t *testing.T) {
	if got := Peak([]float32{0.1, -0.7, 0.3}); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("Peak = %v, want 0.7", got)
	}
	if got := Peak(nil); got != 0 {
		t.Errorf("Peak(nil) = %v, want 0", got)
	}
}
