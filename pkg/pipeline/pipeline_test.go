package pipeline

import (
	"testing"
	"time"

	"github.com/noteloop/scribe-engine/pkg/audio"
	"github.com/noteloop/scribe-engine/pkg/vad"
)

type stubVAD struct {
	transitions []vad.Transition
	idx         int
	state       vad.State
	prob        float32
	resetCalled bool
}

func (s *stubVAD) ProcessFrame(frame []float32) vad.Transition {
	if s.idx >= len(s.transitions) {
		return vad.None
	}
	t := s.transitions[s.idx]
	s.idx++
	switch t {
	case vad.SpeechStart:
		s.state = vad.Speech
	case vad.SpeechEnd:
		s.state = vad.Silence
	}
	return t
}

func (s *stubVAD) State() vad.State      { return s.state }
func (s *stubVAD) Probability() float32  { return s.prob }
func (s *stubVAD) Reset()                { s.resetCalled = true; s.state = vad.Silence }

type stubCanceller struct {
	calls       int
	resetCalled bool
	err         error
}

func (c *stubCanceller) Process(near, far []float32) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]float32, len(near))
	for i := range out {
		out[i] = 0 // pretend perfect cancellation
	}
	return out, nil
}

func (c *stubCanceller) Reset() { c.resetCalled = true }

func frame(v float32) []float32 {
	f := make([]float32, audio.FrameSamples)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestPushMicAccumulatesRawSamples(t *testing.T) {
	p := New(Config{})
	p.PushMic(frame(0.2))
	p.PushMic(frame(0.2))
	if got := p.AccumulatedMicLen(); got != 2*audio.FrameSamples {
		t.Fatalf("got %d", got)
	}
}

func TestPushMicDrivesVADAndSetsSpeechEndedFlag(t *testing.T) {
	v := &stubVAD{transitions: []vad.Transition{vad.SpeechStart, vad.None, vad.SpeechEnd}}
	p := New(Config{VAD: v})

	p.PushMic(frame(0.3))
	if p.PollEvent().MicSpeechEnded {
		t.Fatalf("expected no speech-ended yet")
	}
	p.PushMic(frame(0.3))
	p.PushMic(frame(0.3))
	ev := p.PollEvent()
	if !ev.MicSpeechEnded {
		t.Fatalf("expected speech-ended flag set after SpeechEnd transition")
	}
	// Reading again clears it (level-triggered).
	if p.PollEvent().MicSpeechEnded {
		t.Fatalf("expected flag cleared after first read")
	}
}

func TestPollEventGatesSmoothingOnNewSamples(t *testing.T) {
	p := New(Config{})
	p.PushSpk(frame(0.5))
	first := p.PollEvent()
	_ = first
	snap1, ok := p.GetAmplitude(time.Unix(0, 0))
	if !ok {
		t.Fatalf("expected first amplitude emission")
	}
	if snap1.Speaker <= 0 {
		t.Fatalf("expected nonzero speaker amplitude after a burst")
	}

	// No new speaker samples pushed: PollEvent must not decay amplitude
	// toward zero (speaker audio is bursty).
	p.PollEvent()
	snap2, ok := p.GetAmplitude(time.Unix(0, 0).Add(200 * time.Millisecond))
	if !ok {
		t.Fatalf("expected second amplitude emission past throttle window")
	}
	if snap2.Speaker != snap1.Speaker {
		t.Fatalf("expected unchanged speaker amplitude without new samples, got %v vs %v", snap2.Speaker, snap1.Speaker)
	}
}

func TestGetAmplitudeThrottles(t *testing.T) {
	p := New(Config{})
	p.PushMic(frame(0.2))
	p.PollEvent()
	base := time.Unix(100, 0)
	if _, ok := p.GetAmplitude(base); !ok {
		t.Fatalf("expected first emission to succeed")
	}
	if _, ok := p.GetAmplitude(base.Add(50 * time.Millisecond)); ok {
		t.Fatalf("expected emission inside throttle window to be suppressed")
	}
	if _, ok := p.GetAmplitude(base.Add(150 * time.Millisecond)); !ok {
		t.Fatalf("expected emission past throttle window to succeed")
	}
}

func TestApplyAECToAccumulatedSplicesCleanedMicWhenSpeakerPresent(t *testing.T) {
	c := &stubCanceller{}
	p := New(Config{AEC: c})
	p.PushMic(frame(0.9))
	p.PushSpk(frame(0.9))

	p.ApplyAECToAccumulated()
	if c.calls != 1 {
		t.Fatalf("expected AEC invoked once, got %d", c.calls)
	}
	mic, _ := p.TakeAllAccumulated()
	for i, v := range mic {
		if v != 0 {
			t.Fatalf("expected cancelled (zeroed) mic sample at %d, got %v", i, v)
		}
	}
}

func TestApplyAECToAccumulatedSkipsCancellationWhenSpeakerEmpty(t *testing.T) {
	c := &stubCanceller{}
	p := New(Config{AEC: c})
	p.PushMic(frame(0.9))

	p.ApplyAECToAccumulated()
	if c.calls != 0 {
		t.Fatalf("expected AEC not invoked when speaker buffer is empty, got %d calls", c.calls)
	}
}

func TestApplyAECFallsBackOnError(t *testing.T) {
	c := &stubCanceller{err: errBoom{}}
	p := New(Config{AEC: c})
	p.PushMic(frame(0.9))
	p.PushSpk(frame(0.9))

	p.ApplyAECToAccumulated()
	mic, _ := p.TakeAllAccumulated()
	allZero := true
	for _, v := range mic {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatalf("expected fallback to uncancelled (preprocessed, non-zero) mic audio on AEC error")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestTakeWithOverlapReseedsTail(t *testing.T) {
	p := New(Config{})
	samples := make([]float32, 5000)
	for i := range samples {
		samples[i] = float32(i)
	}
	p.PushMic(samples)

	mic, _ := p.TakeWithOverlap(200)
	if len(mic) != len(samples) {
		t.Fatalf("expected full buffer returned, got %d", len(mic))
	}
	if got := p.AccumulatedMicLen(); got != 200 {
		t.Fatalf("expected 200-sample reseed, got %d", got)
	}
}

func TestTakeFilteredMicZeroesLoudSpeakerWindows(t *testing.T) {
	p := New(Config{})
	mic := make([]float32, 16000)
	spk := make([]float32, 16000)
	for i := range mic {
		mic[i] = 0.2
	}
	// Make the first 400ms window of speaker loud, the rest silent.
	for i := 0; i < 6400; i++ {
		spk[i] = 0.8
	}
	p.PushMic(mic)
	p.PushSpk(spk)

	filtered, zeroed := p.TakeFilteredMic(0.1, 400, 0)
	if zeroed == 0 {
		t.Fatalf("expected at least one window zeroed")
	}
	if filtered[0] != 0 {
		t.Fatalf("expected first window zeroed, got %v", filtered[0])
	}
	lastWindowStart := len(filtered) - 6400
	if filtered[lastWindowStart] == 0 {
		t.Fatalf("expected trailing quiet-speaker window left untouched")
	}
}

func TestResetClearsStateAndPropagatesToSubsystems(t *testing.T) {
	v := &stubVAD{}
	c := &stubCanceller{}
	p := New(Config{VAD: v, AEC: c})
	p.PushMic(frame(0.3))
	p.PushSpk(frame(0.3))
	p.PollEvent()

	p.Reset()

	if p.AccumulatedMicLen() != 0 || p.AccumulatedSpkLen() != 0 {
		t.Fatalf("expected buffers cleared")
	}
	if !v.resetCalled {
		t.Fatalf("expected VAD reset")
	}
	if !c.resetCalled {
		t.Fatalf("expected AEC reset")
	}
	snap, ok := p.GetAmplitude(time.Unix(0, 0))
	if !ok || snap.Mic != 0 || snap.Speaker != 0 {
		t.Fatalf("expected zeroed amplitudes after reset")
	}
}

func TestPushSpkNoopUnderMicOnly(t *testing.T) {
	p := New(Config{Mode: MicOnly})
	p.PushSpk(frame(0.5))
	if p.AccumulatedSpkLen() != 0 {
		t.Fatalf("expected speaker samples dropped under MicOnly")
	}
}

func TestPushMicNoopUnderSpeakerOnly(t *testing.T) {
	p := New(Config{Mode: SpeakerOnly})
	p.PushMic(frame(0.5))
	if p.AccumulatedMicLen() != 0 {
		t.Fatalf("expected mic samples dropped under SpeakerOnly")
	}
}

func TestApplyAECSkipsCancellationOutsideMicAndSpeaker(t *testing.T) {
	c := &stubCanceller{}
	p := New(Config{Mode: MicOnly, AEC: c})
	p.PushMic(frame(0.9))
	p.ApplyAECToAccumulated()
	if c.calls != 0 {
		t.Fatalf("expected AEC not invoked outside MicAndSpeaker, got %d calls", c.calls)
	}
}
