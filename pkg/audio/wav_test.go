package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestFloatToPCM16RoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1}
	pcm := FloatToPCM16(samples)
	if len(pcm) != len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", len(samples)*2, len(pcm))
	}
	for i, s := range samples {
		back := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32767
		if math.Abs(back-float64(s)) > 1.0/32767 {
			t.Fatalf("sample %d: got %v back, want %v", i, back, s)
		}
	}
}

func TestFloatToPCM16Clamps(t *testing.T) {
	pcm := FloatToPCM16([]float32{2.0, -2.0})
	if len(pcm) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(pcm))
	}
	if got := int16(binary.LittleEndian.Uint16(pcm[0:])); got != 32767 {
		t.Fatalf("expected 2.0 clamped to 32767, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(pcm[2:])); got != -32767 {
		t.Fatalf("expected -2.0 clamped to -32767, got %d", got)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	wav := EncodeWAV([]float32{0, 0.1, -0.1}, TargetSampleRate)
	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("expected RIFF prefix")
	}
	if len(wav) != 44+3*2 {
		t.Errorf("unexpected length %d", len(wav))
	}
}
