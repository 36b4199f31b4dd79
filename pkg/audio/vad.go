package audio

import "time"

// VAD defaults, tuned for phoneme preservation: the threshold sits just
// above the ambient floor so soft word onsets are kept.
const (
	defaultVADThreshold = 0.16
	defaultMinSilence   = 500 * time.Millisecond
	defaultMinSpeech    = 100 * time.Millisecond
	vadFrameDuration    = 30 * time.Millisecond
	speechPaddingFrames = 2 // padding frames kept around each span
)

// VADParams tunes the energy-based voice activity detector.
type VADParams struct {
	// Threshold is the speech probability above which a frame counts as
	// speech. Frame energy is normalised against the buffer peak, so the
	// value is in [0.0, 1.0]. Default 0.16.
	Threshold float64

	// MinSilence is the silence duration that ends a speech span.
	// Default 500 ms.
	MinSilence time.Duration

	// MinSpeech is the minimum span duration kept as speech; shorter
	// bursts are discarded as clicks. Default 100 ms.
	MinSpeech time.Duration
}

// DefaultVADParams returns the tuning used by the daemon when the config
// does not override it.
func DefaultVADParams() VADParams {
	return VADParams{
		Threshold:  defaultVADThreshold,
		MinSilence: defaultMinSilence,
		MinSpeech:  defaultMinSpeech,
	}
}

// withDefaults fills zero fields with the default tuning.
func (p VADParams) withDefaults() VADParams {
	if p.Threshold <= 0 {
		p.Threshold = defaultVADThreshold
	}
	if p.MinSilence <= 0 {
		p.MinSilence = defaultMinSilence
	}
	if p.MinSpeech <= 0 {
		p.MinSpeech = defaultMinSpeech
	}
	return p
}

// SpeechSpan is a half-open sample range [Start, End) detected as speech.
type SpeechSpan struct {
	Start int
	End   int
}

// DetectSpeech locates speech-bearing spans in a mono buffer using
// frame-level RMS energy. Frame energy is normalised by the loudest frame
// in the buffer and compared against the threshold, so the detector adapts
// to the recording level. Returns nil when no speech is found (including
// for empty or all-silent buffers).
func DetectSpeech(samples []float32, sampleRate int, params VADParams) []SpeechSpan {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	params = params.withDefaults()

	frameLen := int(float64(sampleRate) * vadFrameDuration.Seconds())
	if frameLen <= 0 {
		return nil
	}
	numFrames := (len(samples) + frameLen - 1) / frameLen
	if numFrames == 0 {
		return nil
	}

	// Per-frame RMS, plus the buffer-wide peak for normalisation.
	energies := make([]float64, numFrames)
	var peak float64
	for f := range numFrames {
		start := f * frameLen
		end := min(start+frameLen, len(samples))
		energies[f] = RMS(samples[start:end])
		if energies[f] > peak {
			peak = energies[f]
		}
	}
	if peak == 0 {
		return nil
	}

	minSilenceFrames := framesFor(params.MinSilence, frameLen, sampleRate)
	minSpeechFrames := framesFor(params.MinSpeech, frameLen, sampleRate)

	var (
		spans        []SpeechSpan
		inSpeech     bool
		spanStart    int
		silenceRun   int
		speechFrames int
	)

	endSpan := func(endFrame int) {
		if speechFrames >= minSpeechFrames {
			start := max(spanStart-speechPaddingFrames, 0) * frameLen
			end := min((endFrame+speechPaddingFrames)*frameLen, len(samples))
			spans = append(spans, SpeechSpan{Start: start, End: end})
		}
		inSpeech = false
		silenceRun = 0
		speechFrames = 0
	}

	for f := range numFrames {
		isSpeech := energies[f]/peak >= params.Threshold
		switch {
		case isSpeech && !inSpeech:
			inSpeech = true
			spanStart = f
			speechFrames = 1
			silenceRun = 0
		case isSpeech:
			speechFrames++
			silenceRun = 0
		case inSpeech:
			silenceRun++
			if silenceRun >= minSilenceFrames {
				endSpan(f - silenceRun + 1)
			}
		}
	}
	if inSpeech {
		endSpan(numFrames)
	}

	return mergeOverlapping(spans)
}

// ExtractSpeech concatenates the detected spans into a single buffer.
// Returns nil when spans is empty.
func ExtractSpeech(samples []float32, spans []SpeechSpan) []float32 {
	if len(spans) == 0 {
		return nil
	}
	var total int
	for _, sp := range spans {
		total += sp.End - sp.Start
	}
	out := make([]float32, 0, total)
	for _, sp := range spans {
		out = append(out, samples[sp.Start:sp.End]...)
	}
	return out
}

// framesFor converts a duration into a frame count, rounding up and
// guaranteeing at least one frame.
func framesFor(d time.Duration, frameLen, sampleRate int) int {
	samples := int(d.Seconds() * float64(sampleRate))
	frames := (samples + frameLen - 1) / frameLen
	if frames < 1 {
		frames = 1
	}
	return frames
}

// mergeOverlapping collapses spans whose padding made them overlap or touch.
func mergeOverlapping(spans []SpeechSpan) []SpeechSpan {
	if len(spans) < 2 {
		return spans
	}
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.Start <= last.End {
			if sp.End > last.End {
				last.End = sp.End
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}
