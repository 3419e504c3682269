package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

// NewWavBuffer wraps raw 16-bit little-endian mono PCM in a minimal WAV
// header, for backends (pkg/transcription's remote adapter) that need a
// file-shaped payload instead of a raw float32 buffer.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// FloatToPCM16 converts mono f32 samples in [-1, 1] to 16-bit little-endian
// PCM bytes, clamping out-of-range values rather than wrapping them.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// EncodeWAV packages mono f32 samples at sampleRate as a complete WAV
// file for remote ASR backends, so the encoder lives here once instead of
// being duplicated by every caller that needs a WAV payload.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	return NewWavBuffer(FloatToPCM16(samples), sampleRate)
}
