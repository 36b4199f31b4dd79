package audio

import (
	"math"
	"testing"
	"time"
)

func assertFinite(t *testing.T, samples []float32) {
	t.Helper()
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("sample %d is not finite: %v", i, s)
		}
	}
}

func TestPreprocessor_PreservesSampleCount(t *testing.T) {
	p := NewPreprocessor()

	tests := []struct {
		name    string
		samples []float32
	}{
		{"3s tone", tone(440, 0.5, 3*time.Second, 16000)},
		{"1s silence", silence(time.Second, 16000)},
		{"tone after silence", append(silence(500*time.Millisecond, 16000), tone(300, 0.4, time.Second, 16000)...)},
		{"short burst", tone(1000, 0.9, 120*time.Millisecond, 16000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Clean(tt.samples, 16000)
			if len(got) != len(tt.samples) {
				t.Fatalf("Clean changed sample count: got %d, want %d", len(got), len(tt.samples))
			}
			assertFinite(t, got)
		})
	}
}

func TestPreprocessor_EmptyInputPassthrough(t *testing.T) {
	p := NewPreprocessor()
	var empty []float32
	if got := p.Clean(empty, 16000); len(got) != 0 {
		t.Errorf("Clean(empty) returned %d samples, want 0", len(got))
	}
	in := tone(200, 0.2, time.Second, 16000)
	if got := p.Clean(in, 0); &got[0] != &in[0] {
		t.Error("Clean with invalid sample rate should return the input unchanged")
	}
}

func TestPreprocessor_CutoffAboveNyquistPassthrough(t *testing.T) {
	p := NewPreprocessor()
	p.HighPassHz = 9000 // above Nyquist for 16 kHz
	in := tone(200, 0.2, time.Second, 16000)
	got := p.Clean(in, 16000)
	if &got[0] != &in[0] {
		t.Error("Clean with out-of-range cutoff should return the input unchanged")
	}
}

func TestPreprocessor_NormalizesTowardHeadroom(t *testing.T) {
	p := NewPreprocessor()
	// Quiet 1 kHz tone, well above the 80 Hz cutoff.
	in := tone(1000, 0.1, 2*time.Second, 16000)
	got := p.Clean(in, 16000)

	peak := Peak(got)
	if peak > 1.0 {
		t.Errorf("peak %.4f exceeds 1.0 (clipping)", peak)
	}
	if math.Abs(peak-p.Headroom) > 0.05 {
		t.Errorf("peak = %.4f, want ≈%.2f", peak, p.Headroom)
	}
}

func TestPreprocessor_RemovesLowFrequencyHum(t *testing.T) {
	p := NewPreprocessor()
	const rate = 16000

	// 50 Hz hum under a 1 kHz tone. After the 80 Hz high-pass the hum
	// energy should be strongly attenuated relative to the tone.
	hum := tone(50, 0.5, 2*time.Second, rate)
	speech := tone(1000, 0.5, 2*time.Second, rate)
	mixed := make([]float32, len(hum))
	for i := range mixed {
		mixed[i] = hum[i] + speech[i]
	}

	got := p.Clean(mixed, rate)
	if len(got) != len(mixed) {
		t.Fatalf("sample count changed: %d -> %d", len(mixed), len(got))
	}

	humPower := goertzel(got, 50, rate)
	tonePower := goertzel(got, 1000, rate)
	if humPower*10 > tonePower {
		t.Errorf("50 Hz hum not attenuated: hum power %.6f vs tone power %.6f", humPower, tonePower)
	}
}

// goertzel returns the relative power of freq in samples, for checking
// filter behaviour without a full spectrum.
func goertzel(samples []float32, freq float64, sampleRate int) float64 {
	w := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(w)
	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = float64(x) + coeff*s1 - s2
		s2, s1 = s1, s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}
