// Package audio provides the audio front end of the scribed daemon: WAV
// decoding, sample-rate conversion, the content gate that screens out silent
// or accidental recordings, the noise-reduction preprocessor, and the
// energy-based voice activity detector used by the transcription engine.
//
// All functions operate on mono float32 samples normalised to [-1.0, 1.0],
// the representation the transcription engine expects. Stereo input is
// down-mixed to mono at decode time.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	// EngineSampleRate is the sample rate (Hz) the transcription engine
	// expects. Decoded audio at any other rate is resampled to this.
	EngineSampleRate = 16000

	wavFormatPCM       = 1
	wavFormatIEEEFloat = 3
)

// ErrNotWAV is returned by Decode functions when the input does not start
// with a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// DecodeWAVFile reads the WAV file at path and returns mono float32 samples
// and the file's sample rate. See [DecodeWAV] for supported encodings.
func DecodeWAVFile(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()
	samples, rate, err := DecodeWAV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	return samples, rate, nil
}

// DecodeWAV parses a RIFF/WAVE stream and returns mono float32 samples in
// [-1.0, 1.0] plus the sample rate. Supported encodings are 16-bit signed
// integer PCM and 32-bit IEEE float, mono or multi-channel; multi-channel
// audio is down-mixed by averaging all channels per frame.
func DecodeWAV(r io.Reader) ([]float32, int, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bits       int
		haveFmt    bool
	)

	// Walk the chunk list. The fmt chunk must precede data.
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, errors.New("audio: wav has no data chunk")
			}
			return nil, 0, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(chunkHeader[0:4])
		size := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: fmt chunk too small (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, errors.New("audio: data chunk before fmt chunk")
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, 0, fmt.Errorf("audio: read data chunk: %w", err)
			}
			samples, err := decodeSamples(data, format, channels, bits)
			if err != nil {
				return nil, 0, err
			}
			return samples, sampleRate, nil

		default:
			// Skip unrelated chunks (LIST, fact, cue, …). Chunks are
			// word-aligned; odd sizes carry one padding byte.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// decodeSamples converts a raw data chunk to mono float32 according to the
// fmt chunk parameters.
func decodeSamples(data []byte, format uint16, channels, bits int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}

	var interleaved []float32
	switch {
	case format == wavFormatPCM && bits == 16:
		n := len(data) / 2
		interleaved = make([]float32, n)
		for i := range n {
			s := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
			interleaved[i] = float32(s) / 32768.0
		}
	case format == wavFormatIEEEFloat && bits == 32:
		n := len(data) / 4
		interleaved = make([]float32, n)
		for i := range n {
			interleaved[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		}
	default:
		return nil, fmt.Errorf("audio: unsupported wav encoding (format %d, %d bits)", format, bits)
	}

	if channels == 1 {
		return interleaved, nil
	}
	return downmix(interleaved, channels), nil
}

// downmix averages all channels of interleaved samples per frame.
func downmix(interleaved []float32, channels int) []float32 {
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// EncodeWAV wraps mono float32 samples in a standard RIFF/WAV container as
// 16-bit signed little-endian PCM. Samples outside [-1.0, 1.0] are clamped.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const (
		channels = 1
		bps      = 16
	)
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(samples) * 2

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size - 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)       // audio format
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bps)                // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(v))
	}

	return buf
}

// WriteWAVFile writes samples to path as a 16-bit PCM WAV file. Used for the
// optional post-preprocessing debug dump.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	if err := os.WriteFile(path, EncodeWAV(samples, sampleRate), 0o644); err != nil {
		return fmt.Errorf("audio: write %q: %w", path, err)
	}
	return nil
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match (or either is invalid) the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
