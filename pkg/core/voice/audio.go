// Package voice holds the audio primitives shared by the session engine and
// the STT/TTS adapters: PCM16 math, format bookkeeping, voice-activity
// classification, and the speech-shaping helpers (emotion rate, markdown
// stripping).
package voice

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// Format specifies the PCM shape of an audio stream.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultFormat is the capture format: 16 kHz mono PCM16.
func DefaultFormat() Format {
	return Format{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (f Format) DurationMs(bytes int) int {
	if f.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / f.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration.
func (f Format) BytesForDurationMs(ms int) int {
	return (f.BytesPerSecond() * ms) / 1000
}

// FrameBytes returns the size of one frame of frameMs milliseconds.
func (f Format) FrameBytes(frameMs int) int {
	return f.BytesForDurationMs(frameMs)
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to 0.0..1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data,
// normalized to 0.0..1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 avoids overflow when negating -32768.
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// PCM16ToFloat32 converts little-endian PCM16 to -1.0..1.0 samples.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts -1.0..1.0 samples to little-endian PCM16,
// clipping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// FadeEdges applies a short linear fade-in and fade-out in place so
// chunk boundaries do not click. The fade length is capped at half the
// chunk.
func FadeEdges(samples []float32, sampleRate int, fadeMS float64) {
	if len(samples) == 0 {
		return
	}
	n := int(float64(sampleRate) * fadeMS / 1000.0)
	if half := len(samples) / 2; n > half {
		n = half
	}
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		gain := float32(i+1) / float32(n+1)
		samples[i] *= gain
		samples[len(samples)-1-i] *= gain
	}
}

// BuildWAV wraps raw PCM16LE in a RIFF/WAVE header so HTTP model servers
// that expect audio/wav can consume buffered utterances.
func BuildWAV(pcm []byte, f Format) []byte {
	byteRate := uint32(f.BytesPerSecond())
	blockAlign := uint16(f.Channels * f.BitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(f.BitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// ParseWAV extracts the PCM payload and format from a RIFF/WAVE blob. Only
// uncompressed PCM is supported; unknown chunks are skipped.
func ParseWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("audio: not a RIFF/WAVE payload")
	}

	var f Format
	var pcm []byte
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, Format{}, errors.New("audio: truncated WAVE chunk")
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, errors.New("audio: short fmt chunk")
			}
			if enc := binary.LittleEndian.Uint16(data[body : body+2]); enc != 1 {
				return nil, Format{}, errors.New("audio: only PCM WAVE is supported")
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size
		// Chunks are word aligned.
		if size%2 == 1 {
			off++
		}
	}
	if f.SampleRate == 0 || pcm == nil {
		return nil, Format{}, errors.New("audio: missing fmt or data chunk")
	}
	return pcm, f, nil
}
