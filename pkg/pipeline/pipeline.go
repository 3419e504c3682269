package pipeline

import (
	"log/slog"
	"time"

	"github.com/noteloop/scribe-engine/pkg/aec"
	"github.com/noteloop/scribe-engine/pkg/audio"
	"github.com/noteloop/scribe-engine/pkg/vad"
)

const (
	smoothingAlpha      = 0.7
	amplitudeEmitMinGap = 100 * time.Millisecond

	// DefaultOverlap is the 200 ms (3200-sample) context overlap
	// TakeWithOverlap re-seeds by default; SessionLoop uses this constant.
	DefaultOverlap = 3200
	defaultWindowMs = 400
)

// Canceller is the slice of *aec.AEC that Pipeline needs; narrowed to an
// interface so tests can substitute a deterministic stub and so a missing
// AEC model (construction failure) is simply a nil field rather than a
// special case.
type Canceller interface {
	Process(near, far []float32) ([]float32, error)
	Reset()
}

var _ Canceller = (*aec.AEC)(nil)

// SpeechDetector is the slice of *vad.VAD Pipeline needs.
type SpeechDetector interface {
	ProcessFrame(frame []float32) vad.Transition
	State() vad.State
	Probability() float32
	Reset()
}

var _ SpeechDetector = (*vad.VAD)(nil)

// Config configures a Pipeline. VAD and AEC are both optional; a nil VAD
// means MicIsSpeaking/MicVADProb stay zero-valued and MicSpeechEnded never
// fires. A nil AEC means apply_aec_to_accumulated runs the mic buffer
// through its preprocessor unmodified.
type Config struct {
	Mode          Mode
	MicSampleRate int
	SpkSampleRate int
	VAD           SpeechDetector
	AEC           Canceller
	Logger        *slog.Logger
}

// Pipeline accumulates raw mic/speaker samples, drives VAD off the mic
// channel, and exposes the chunk-extraction operations SessionLoop uses to
// hand audio to the transcription engine. It is single-owner: the session
// loop holds it exclusively and performs no internal locking.
type Pipeline struct {
	mode   Mode
	vad    SpeechDetector
	aec    Canceller
	logger *slog.Logger

	micPre *audio.Preprocessor
	spkPre *audio.Preprocessor

	accMic []float32
	accSpk []float32

	vadFrameBuf     []float32
	speechEndedFlag bool

	smoothedMic, smoothedSpk     float32
	micNewSincePoll, spkNewSincePoll bool
	pendingMicRMS, pendingSpkRMS float32

	lastAmplitudeEmit time.Time
	hasEmittedOnce    bool
}

// New constructs a Pipeline per cfg. A nil Logger uses slog.Default().
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		mode:   cfg.Mode,
		vad:    cfg.VAD,
		aec:    cfg.AEC,
		logger: logger,
		micPre: audio.NewPreprocessor(audio.TargetSampleRate),
		spkPre: audio.NewPreprocessor(audio.TargetSampleRate),
	}
}

// PushMic accumulates raw samples (unmodified, for AEC), feeds the same raw
// samples to the VAD in 480-sample frames, and meters amplitude off a
// preprocessed copy. No-ops when the configured Mode is SpeakerOnly.
func (p *Pipeline) PushMic(samples []float32) {
	if len(samples) == 0 || p.mode == SpeakerOnly {
		return
	}
	p.accMic = append(p.accMic, samples...)

	if p.vad != nil {
		p.vadFrameBuf = append(p.vadFrameBuf, samples...)
		for len(p.vadFrameBuf) >= audio.FrameSamples {
			frame := p.vadFrameBuf[:audio.FrameSamples]
			if p.vad.ProcessFrame(frame) == vad.SpeechEnd {
				p.speechEndedFlag = true
			}
			p.vadFrameBuf = append(p.vadFrameBuf[:0], p.vadFrameBuf[audio.FrameSamples:]...)
		}
	}

	metered := p.micPre.ProcessCopy(samples)
	p.pendingMicRMS = audio.RMS(metered)
	p.micNewSincePoll = true
}

// PushSpk accumulates raw speaker samples and updates the pending amplitude
// reading from a preprocessed copy. No-ops when the configured Mode is
// MicOnly.
func (p *Pipeline) PushSpk(samples []float32) {
	if len(samples) == 0 || p.mode == MicOnly {
		return
	}
	p.accSpk = append(p.accSpk, samples...)
	metered := p.spkPre.ProcessCopy(samples)
	p.pendingSpkRMS = audio.RMS(metered)
	p.spkNewSincePoll = true
}

// PollEvent applies smoothing gated on new-samples-since-last-poll (so
// bursty speaker audio does not decay to zero between batches) and returns
// the current event, clearing the speech-ended flag on read.
func (p *Pipeline) PollEvent() Event {
	if p.micNewSincePoll {
		p.smoothedMic = smoothingAlpha*p.smoothedMic + (1-smoothingAlpha)*p.pendingMicRMS
		p.micNewSincePoll = false
	}
	if p.spkNewSincePoll {
		p.smoothedSpk = smoothingAlpha*p.smoothedSpk + (1-smoothingAlpha)*p.pendingSpkRMS
		p.spkNewSincePoll = false
	}

	ev := Event{MicSpeechEnded: p.speechEndedFlag}
	p.speechEndedFlag = false

	if p.vad != nil {
		ev.MicIsSpeaking = p.vad.State() == vad.Speech
		ev.MicVADProb = p.vad.Probability()
	}
	return ev
}

// GetAmplitude returns the current smoothed levels, throttled to at most
// one emission per amplitudeEmitMinGap; subsequent calls inside the
// window return (AmplitudeSnapshot{}, false).
func (p *Pipeline) GetAmplitude(now time.Time) (AmplitudeSnapshot, bool) {
	if p.hasEmittedOnce && now.Sub(p.lastAmplitudeEmit) < amplitudeEmitMinGap {
		return AmplitudeSnapshot{}, false
	}
	p.lastAmplitudeEmit = now
	p.hasEmittedOnce = true
	return AmplitudeSnapshot{Mic: p.smoothedMic, Speaker: p.smoothedSpk}, true
}

// ApplyAECToAccumulated cancels speaker echo out of the accumulated mic
// buffer in place (when an AEC is configured, Mode is MicAndSpeaker, and
// both buffers are non-empty), then runs both accumulated buffers through
// their preprocessors. A failed AEC call logs and falls back to the
// un-cancelled mic audio, per the degrade-gracefully policy.
func (p *Pipeline) ApplyAECToAccumulated() {
	if len(p.accSpk) == 0 {
		p.micPre.Process(p.accMic)
		return
	}

	n := len(p.accMic)
	if len(p.accSpk) < n {
		n = len(p.accSpk)
	}

	if p.aec != nil && p.mode == MicAndSpeaker && n > 0 {
		cleaned, err := p.aec.Process(p.accMic[:n], p.accSpk[:n])
		if err != nil {
			p.logger.Warn("pipeline: aec process failed, using uncancelled mic audio", "error", err)
		} else {
			copy(p.accMic[:n], cleaned)
		}
	}

	p.micPre.Process(p.accMic)
	p.spkPre.Process(p.accSpk)
}

// TakeAllAccumulated moves both buffers out, leaving them empty.
func (p *Pipeline) TakeAllAccumulated() (mic, spk []float32) {
	mic, p.accMic = p.accMic, nil
	spk, p.accSpk = p.accSpk, nil
	return mic, spk
}

// TakeWithOverlap moves both buffers out and re-seeds each with its last
// overlap samples so the next chunk shares context.
func (p *Pipeline) TakeWithOverlap(overlap int) (mic, spk []float32) {
	mic, spk = p.TakeAllAccumulated()
	p.accMic = seedTail(mic, overlap)
	p.accSpk = seedTail(spk, overlap)
	return mic, spk
}

func seedTail(buf []float32, overlap int) []float32 {
	if overlap <= 0 || len(buf) == 0 {
		return nil
	}
	if overlap > len(buf) {
		overlap = len(buf)
	}
	seed := make([]float32, overlap)
	copy(seed, buf[len(buf)-overlap:])
	return seed
}

// TakeFilteredMic is a variant of TakeWithOverlap that, before returning,
// divides the mic buffer into windowMs windows and zeroes any window whose
// aligned speaker-window RMS exceeds threshold. Returns the filtered mic
// buffer and the count of windows zeroed. Used as an alternative/adjunct
// to AEC when the caller opts into the skip_mic_on_speaker_energy policy.
func (p *Pipeline) TakeFilteredMic(threshold float32, windowMs, overlap int) (filteredMic []float32, windowsZeroed int) {
	mic, spk := p.TakeWithOverlap(overlap)
	if windowMs <= 0 {
		windowMs = defaultWindowMs
	}
	windowSamples := windowMs * audio.TargetSampleRate / 1000
	if windowSamples <= 0 {
		return mic, 0
	}

	for off := 0; off < len(mic); off += windowSamples {
		end := off + windowSamples
		if end > len(mic) {
			end = len(mic)
		}
		spkEnd := end
		if spkEnd > len(spk) {
			spkEnd = len(spk)
		}
		spkStart := off
		if spkStart > len(spk) {
			spkStart = len(spk)
		}
		if spkStart >= spkEnd {
			continue
		}
		if audio.RMS(spk[spkStart:spkEnd]) > threshold {
			for i := off; i < end; i++ {
				mic[i] = 0
			}
			windowsZeroed++
		}
	}
	return mic, windowsZeroed
}

// AccumulatedMicLen reports the current length of the raw mic buffer, used
// by SessionLoop's transcription-trigger thresholds.
func (p *Pipeline) AccumulatedMicLen() int {
	return len(p.accMic)
}

// AccumulatedSpkLen reports the current length of the raw speaker buffer.
func (p *Pipeline) AccumulatedSpkLen() int {
	return len(p.accSpk)
}

// Reset clears both accumulation buffers, the VAD frame buffer and flags,
// and the smoothed amplitudes, and resets the VAD/AEC subsystems if
// present. Used between sessions.
func (p *Pipeline) Reset() {
	p.accMic = nil
	p.accSpk = nil
	p.vadFrameBuf = nil
	p.speechEndedFlag = false
	p.smoothedMic = 0
	p.smoothedSpk = 0
	p.micNewSincePoll = false
	p.spkNewSincePoll = false
	p.pendingMicRMS = 0
	p.pendingSpkRMS = 0
	p.hasEmittedOnce = false
	p.micPre.Reset()
	p.spkPre.Reset()
	if p.vad != nil {
		p.vad.Reset()
	}
	if p.aec != nil {
		p.aec.Reset()
	}
}
