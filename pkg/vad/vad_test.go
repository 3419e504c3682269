package vad

import (
	"log/slog"
	"testing"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/noteloop/scribe-engine/pkg/audio"
)

// fakeDetector reports a scripted sequence of per-frame probabilities
// without touching any ONNX runtime, so the state machine can be tested in
// isolation.
type fakeDetector struct {
	probs []float32
	idx   int
}

func (f *fakeDetector) Detect(samples []float32) ([]speech.Segment, error) {
	var p float32
	if f.idx < len(f.probs) {
		p = f.probs[f.idx]
	}
	f.idx++
	if p > 0.5 {
		return []speech.Segment{{SpeechStartAt: 0, SpeechEndAt: 0}}, nil
	}
	return []speech.Segment{{SpeechStartAt: -1, SpeechEndAt: 1}}, nil
}

func (f *fakeDetector) Reset() error   { f.idx = 0; return nil }
func (f *fakeDetector) Destroy() error { return nil }

func newTestVAD(probs []float32) *VAD {
	return newWithDetector(&fakeDetector{probs: probs}, defaultThreshold, defaultOnsetFrames, defaultHangoverFrames, slog.Default())
}

func frame() []float32 { return make([]float32, audio.FrameSamples) }

// E6: 5 silence, 2 speech, 10 speech, 5 silence -> exactly one SpeechStart
// after the 2nd speech frame, exactly one SpeechEnd after the 5th silence
// frame.
func TestVADScenarioE6(t *testing.T) {
	probs := make([]float32, 0, 22)
	for i := 0; i < 5; i++ {
		probs = append(probs, 0.05)
	}
	for i := 0; i < 12; i++ {
		probs = append(probs, 0.8)
	}
	for i := 0; i < 5; i++ {
		probs = append(probs, 0.05)
	}
	v := newTestVAD(probs)

	var starts, ends int
	var startIdx, endIdx = -1, -1
	for i := range probs {
		tr := v.ProcessFrame(frame())
		switch tr {
		case SpeechStart:
			starts++
			startIdx = i
		case SpeechEnd:
			ends++
			endIdx = i
		}
	}

	if starts != 1 {
		t.Fatalf("expected exactly one SpeechStart, got %d", starts)
	}
	if ends != 1 {
		t.Fatalf("expected exactly one SpeechEnd, got %d", ends)
	}
	// index 5,6 are the 2 speech frames (0-indexed): onset triggers on the
	// 2nd one, i.e. index 6.
	if startIdx != 6 {
		t.Fatalf("expected SpeechStart at frame 6, got %d", startIdx)
	}
	// silence resumes at index 17; hangover of 5 triggers at index 21.
	if endIdx != 21 {
		t.Fatalf("expected SpeechEnd at frame 21, got %d", endIdx)
	}
}

// Invariant 7: at most one SpeechStart without an intervening SpeechEnd,
// and vice versa.
func TestVADAtMostOneUnpairedTransition(t *testing.T) {
	probs := []float32{0.05, 0.05, 0.8, 0.8, 0.8, 0.8, 0.8, 0.8, 0.8, 0.8}
	v := newTestVAD(probs)

	var pendingStart bool
	for range probs {
		switch v.ProcessFrame(frame()) {
		case SpeechStart:
			if pendingStart {
				t.Fatalf("got SpeechStart while already in an unpaired started state")
			}
			pendingStart = true
		case SpeechEnd:
			if !pendingStart {
				t.Fatalf("got SpeechEnd with no preceding SpeechStart")
			}
			pendingStart = false
		}
	}
}

func TestVADResetReturnsToSilenceWithZeroedState(t *testing.T) {
	v := newTestVAD([]float32{0.8, 0.8, 0.8})
	v.ProcessFrame(frame())
	v.ProcessFrame(frame())
	v.Reset()

	if v.State() != Silence {
		t.Fatalf("expected Silence after reset, got %v", v.State())
	}
	if v.Probability() != 0 {
		t.Fatalf("expected probability 0 after reset, got %v", v.Probability())
	}
}

func TestVADWrongFrameSizeIsNoTransition(t *testing.T) {
	v := newTestVAD([]float32{0.8})
	tr := v.ProcessFrame(make([]float32, 10))
	if tr != None {
		t.Fatalf("expected None for malformed frame, got %v", tr)
	}
}
