package audio

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	defaultHighPassHz      = 80.0
	defaultSpectralFactor  = 1.5
	defaultNoiseFloorRatio = 0.1
	defaultHeadroom        = 0.95

	// minNoiseSamples is the minimum number of leading samples required
	// before spectral subtraction is attempted at all.
	minNoiseSamples = 100
)

// Preprocessor cleans a recording before it reaches the transcription
// engine:
//
//  1. 4th-order Butterworth high-pass to remove AC hum and rumble.
//  2. Spectral subtraction of a noise profile estimated from the leading
//     low-energy span, with a conservative subtraction factor and a noise
//     floor to avoid musical-noise artifacts.
//  3. Peak normalisation toward a headroom ceiling without clipping.
//  4. Sanitisation: every output sample is finite (no NaN/Inf).
//
// Preprocessing is best-effort. Clean never fails: on malformed input the
// original buffer is returned unchanged so that transcription is never
// blocked by the cleanup stage.
type Preprocessor struct {
	// HighPassHz is the high-pass cutoff frequency. Default 80 Hz.
	HighPassHz float64

	// SpectralFactor scales the estimated noise power subtracted from the
	// magnitude spectrum. Default 1.5.
	SpectralFactor float64

	// NoiseFloorRatio is the minimum fraction of the original magnitude
	// retained after subtraction. Default 0.1.
	NoiseFloorRatio float64

	// Headroom is the target peak amplitude after normalisation.
	// Default 0.95.
	Headroom float64
}

// NewPreprocessor returns a Preprocessor with the default tuning.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		HighPassHz:      defaultHighPassHz,
		SpectralFactor:  defaultSpectralFactor,
		NoiseFloorRatio: defaultNoiseFloorRatio,
		Headroom:        defaultHeadroom,
	}
}

// Clean runs the full preprocessing pipeline and returns a new slice with
// the same sample count as the input. If the input is empty or the sample
// rate is invalid, the input is returned as-is.
func (p *Preprocessor) Clean(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate <= 0 {
		return samples
	}
	// The high-pass filter needs the cutoff below Nyquist.
	if p.HighPassHz <= 0 || p.HighPassHz >= float64(sampleRate)/2 {
		slog.Warn("preprocessor: high-pass cutoff out of range, skipping cleanup",
			"cutoff_hz", p.HighPassHz, "sample_rate", sampleRate)
		return samples
	}

	work := make([]float64, len(samples))
	for i, s := range samples {
		work[i] = float64(s)
	}

	work = highPass(work, p.HighPassHz, sampleRate)
	work = p.spectralSubtract(work, sampleRate)
	normalize(work, p.Headroom)

	out := make([]float32, len(work))
	for i, v := range work {
		// Sanitise: transcription input and any serialised debug dump
		// must contain only finite values.
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[i] = float32(v)
	}
	return out
}

// spectralSubtract estimates a noise profile from the leading low-energy
// span and subtracts it conservatively from the magnitude spectrum,
// reconstructing the signal with the original phase. When the recording is
// too short for a noise estimate the input is returned unchanged.
func (p *Preprocessor) spectralSubtract(samples []float64, sampleRate int) []float64 {
	noiseLen := sampleRate / 5 // 200 ms
	if quarter := len(samples) / 4; noiseLen > quarter {
		noiseLen = quarter
	}
	if noiseLen <= minNoiseSamples {
		return samples
	}

	// Mean magnitude of the leading span is the noise power estimate.
	noiseFFT := fourier.NewFFT(noiseLen)
	noiseCoeffs := noiseFFT.Coefficients(nil, samples[:noiseLen])
	var noisePower float64
	for _, c := range noiseCoeffs {
		noisePower += cmplxAbs(c)
	}
	noisePower /= float64(len(noiseCoeffs))

	fft := fourier.NewFFT(len(samples))
	coeffs := fft.Coefficients(nil, samples)

	// Subtract in the magnitude domain, keeping phase by scaling each
	// coefficient. The floor prevents over-subtraction artifacts.
	for i, c := range coeffs {
		mag := cmplxAbs(c)
		if mag == 0 {
			continue
		}
		cleaned := mag - p.SpectralFactor*noisePower
		if floor := p.NoiseFloorRatio * mag; cleaned < floor {
			cleaned = floor
		}
		coeffs[i] = c * complex(cleaned/mag, 0)
	}

	out := fft.Sequence(nil, coeffs)
	// gonum's inverse is unnormalised.
	scale := 1 / float64(len(samples))
	for i := range out {
		out[i] *= scale
	}
	return out
}

// highPass applies a 4th-order Butterworth high-pass filter as two cascaded
// biquad sections, forward and backward for zero phase distortion.
func highPass(samples []float64, cutoffHz float64, sampleRate int) []float64 {
	// Butterworth Q values for a 4th-order filter split into two
	// second-order sections.
	sections := []float64{0.54119610, 1.30656296}

	out := samples
	for _, q := range sections {
		b, a := biquadHighPass(cutoffHz, float64(sampleRate), q)
		out = filtfilt(out, b, a)
	}
	return out
}

// biquadHighPass coefficients follow the RBJ audio EQ cookbook. Returned
// slices are b[0..2] and a[1..2] with a0 normalised to 1.
func biquadHighPass(cutoffHz, sampleRate, q float64) (b [3]float64, a [2]float64) {
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	a0 := 1 + alpha
	b[0] = (1 + cosW0) / 2 / a0
	b[1] = -(1 + cosW0) / a0
	b[2] = (1 + cosW0) / 2 / a0
	a[0] = -2 * cosW0 / a0
	a[1] = (1 - alpha) / a0
	return b, a
}

// filtfilt applies a biquad forward and then backward, cancelling the phase
// shift of a single pass.
func filtfilt(samples []float64, b [3]float64, a [2]float64) []float64 {
	forward := biquadApply(samples, b, a)
	reverse(forward)
	backward := biquadApply(forward, b, a)
	reverse(backward)
	return backward
}

// biquadApply runs a direct-form-I biquad over samples.
func biquadApply(samples []float64, b [3]float64, a [2]float64) []float64 {
	out := make([]float64, len(samples))
	var x1, x2, y1, y2 float64
	for i, x := range samples {
		y := b[0]*x + b[1]*x1 + b[2]*x2 - a[0]*y1 - a[1]*y2
		out[i] = y
		x2, x1 = x1, x
		y2, y1 = y1, y
	}
	return out
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// normalize scales the buffer in place so the peak reaches headroom. A
// silent buffer is left untouched.
func normalize(samples []float64, headroom float64) {
	var peak float64
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 || headroom <= 0 {
		return
	}
	scale := headroom / peak
	for i := range samples {
		samples[i] *= scale
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
