// Package vad implements per-frame voice activity detection with
// onset/hangover smoothing, wrapping a Silero neural speech-probability
// model.
package vad

import (
	"fmt"
	"log/slog"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/noteloop/scribe-engine/pkg/audio"
)

// State is the VAD's coarse speech/silence state.
type State int

const (
	Silence State = iota
	Speech
)

func (s State) String() string {
	if s == Speech {
		return "speech"
	}
	return "silence"
}

// Transition is returned by ProcessFrame for each frame.
type Transition int

const (
	None Transition = iota
	SpeechStart
	SpeechEnd
)

func (t Transition) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

const (
	// defaultThreshold is canonical for VAD-triggered segmentation. The
	// original source also carries a 0.5 threshold reserved for a
	// filtering mode that does not segment audio but instead decides
	// whether to keep or drop it outright; that mode is not implemented
	// by SessionLoop today; FilterThreshold documents where it would plug
	// in if that mode were added.
	defaultThreshold     = 0.15
	FilterThreshold      = 0.5
	defaultOnsetFrames   = 2
	defaultHangoverFrames = 5
)

// Detector produces a per-frame speech probability via a neural model.
// speech.Detector satisfies this directly; it is narrowed to an interface
// so tests can substitute a deterministic stub.
type Detector interface {
	Detect(samples []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

// VAD drives segmentation off a neural speech-probability model with
// onset/hangover smoothing to avoid spurious transitions on noisy frames.
type VAD struct {
	detector  Detector
	threshold float32
	logger    *slog.Logger

	state State
	prob  float32

	onsetFrames, hangoverFrames     int
	onsetCounter, hangoverCounter   int
}

// Config configures a new VAD.
type Config struct {
	ModelPath      string
	Threshold      float32
	OnsetFrames    int
	HangoverFrames int
	Logger         *slog.Logger
}

// New constructs a VAD backed by a Silero ONNX model at cfg.ModelPath. A
// missing or unloadable model is an init error: the caller should treat a
// non-nil error as "omit the VAD subsystem and continue without
// segmentation", per the degrade-gracefully policy.
func New(cfg Config) (*VAD, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("vad: model path is required")
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	onset := cfg.OnsetFrames
	if onset <= 0 {
		onset = defaultOnsetFrames
	}
	hangover := cfg.HangoverFrames
	if hangover <= 0 {
		hangover = defaultHangoverFrames
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  cfg.ModelPath,
		SampleRate: audio.TargetSampleRate,
		Threshold:  threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: create detector: %w", err)
	}

	return newWithDetector(detector, threshold, onset, hangover, logger), nil
}

func newWithDetector(d Detector, threshold float32, onset, hangover int, logger *slog.Logger) *VAD {
	return &VAD{
		detector:       d,
		threshold:      threshold,
		logger:         logger,
		state:          Silence,
		onsetFrames:    onset,
		hangoverFrames: hangover,
	}
}

// ProcessFrame consumes exactly audio.FrameSamples (480) samples at 16 kHz
// and returns the resulting transition, if any. A detector error is logged
// and treated as "no transition" for this frame, per the processing-error
// policy; the state machine is left unchanged so the next frame is
// processed normally.
func (v *VAD) ProcessFrame(frame []float32) Transition {
	if len(frame) != audio.FrameSamples {
		v.logger.Warn("vad: unexpected frame size", "got", len(frame), "want", audio.FrameSamples)
		return None
	}

	segments, err := v.detector.Detect(frame)
	if err != nil {
		v.logger.Warn("vad: detect failed, passing frame through unchanged", "error", err)
		return None
	}

	v.prob = probabilityFromSegments(segments, v.prob)
	isSpeech := v.prob > v.threshold

	switch {
	case v.state == Silence && isSpeech:
		v.onsetCounter++
		v.hangoverCounter = 0
		if v.onsetCounter >= v.onsetFrames {
			v.state = Speech
			v.onsetCounter = 0
			v.logger.Debug("vad: speech start", "prob", v.prob)
			return SpeechStart
		}
		return None
	case v.state == Silence && !isSpeech:
		v.onsetCounter = 0
		return None
	case v.state == Speech && isSpeech:
		v.hangoverCounter = 0
		return None
	default: // Speech, !isSpeech
		v.hangoverCounter++
		if v.hangoverCounter >= v.hangoverFrames {
			v.state = Silence
			v.hangoverCounter = 0
			v.logger.Debug("vad: speech end", "prob", v.prob)
			return SpeechEnd
		}
		return None
	}
}

// probabilityFromSegments extracts a per-frame probability proxy from the
// detector's segment output. The underlying library reports speech
// segments rather than a bare per-frame float, so presence of an
// in-progress segment (started, not yet ended) is treated as high
// probability and its absence as low probability, preserving the prior
// value when the detector reports nothing new for this frame.
func probabilityFromSegments(segments []speech.Segment, prev float32) float32 {
	for _, seg := range segments {
		if seg.SpeechStartAt >= 0 && seg.SpeechEndAt <= 0 {
			return 1.0
		}
		if seg.SpeechEndAt > 0 {
			return 0.0
		}
	}
	return prev
}

// State returns the current coarse state.
func (v *VAD) State() State { return v.state }

// Probability returns the most recent per-frame speech probability.
func (v *VAD) Probability() float32 { return v.prob }

// Reset returns to Silence with both counters and probability zeroed.
func (v *VAD) Reset() {
	v.state = Silence
	v.prob = 0
	v.onsetCounter = 0
	v.hangoverCounter = 0
	if err := v.detector.Reset(); err != nil {
		v.logger.Warn("vad: reset failed", "error", err)
	}
}

// Close releases the underlying model.
func (v *VAD) Close() error {
	return v.detector.Destroy()
}
