package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/noteloop/scribe-engine/pkg/audio"
	"github.com/noteloop/scribe-engine/pkg/pipeline"
	"github.com/noteloop/scribe-engine/pkg/transcription"
)

// Tick-level constants governing chunk sizing and triggering.
const (
	MinChunk        = 16000    // 1 s at 16 kHz
	MaxChunk        = 16000 * 15 // 15 s
	Overlap         = pipeline.DefaultOverlap
	SpkSilencePolls = 8
	TickInterval    = 250 * time.Millisecond

	dedupWindowMs  = 5000
	windowMs       = 400
	minOverlapWord = 2
)

// Transcriber is the narrow transcription.Engine surface SessionLoop
// needs.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, opts transcription.DecodeOptions) (string, error)
}

// TextProcessor is the narrow text.Processor surface SessionLoop needs
// beyond what the transcription engine already applies per chunk.
type TextProcessor interface {
	RemovePrefixOverlap(newText, prev string) string
	IsDuplicate(newText string, newStart, newEnd int64, existingText string, existingStart, existingEnd int64) bool
}

// Config configures a Loop. SpeakerEnergyThreshold is clamped to
// [0.001, 0.5] by NewLoop.
type Config struct {
	Session       *Session
	Pipeline      *pipeline.Pipeline
	Engine        Transcriber
	Text          TextProcessor
	Store         Store
	MicSource     MicSource
	SpeakerSource SpeakerSource
	DecodeOptions transcription.DecodeOptions

	SkipMicOnSpeakerEnergy bool
	SpeakerEnergyThreshold float32

	Events chan<- Event
	Logger *slog.Logger

	// Now defaults to time.Now; overridable so tests can drive the clock.
	Now func() time.Time
}

// Loop is the 250 ms SessionLoop control loop: one cooperative task per
// recording pass, owning the pending-speaker buffer and all chunk-start
// timestamps (the pipeline owns its own internal accumulation for AEC
// alignment, which is a separate buffer from this one).
type Loop struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	stopped atomic.Bool

	sessionStart time.Time

	pendingSpk     []float32
	spkChunkStart  time.Time
	spkSilentPolls int

	micChunkStart time.Time

	prevMicText string
}

// NewLoop constructs a Loop ready to Tick. The session must already be
// Recording (via Manager.Start or Session.Start) before the first Tick;
// otherwise that Tick runs the final flush and reports done.
func NewLoop(cfg Config) *Loop {
	threshold := cfg.SpeakerEnergyThreshold
	if threshold < 0.001 {
		threshold = 0.001
	} else if threshold > 0.5 {
		threshold = 0.5
	}
	cfg.SpeakerEnergyThreshold = threshold

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{cfg: cfg, logger: logger, now: now, sessionStart: now()}
}

// RequestStop signals cancellation; the next Tick performs the final
// flush and reports done.
func (l *Loop) RequestStop() {
	l.stopped.Store(true)
}

func (l *Loop) publish(ev Event) {
	ev.SessionID = l.cfg.Session.ID()
	if l.cfg.Events == nil {
		return
	}
	select {
	case l.cfg.Events <- ev:
	default:
	}
}

// Run ticks every TickInterval until Tick reports done or ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_, err := l.Tick(ctx, l.now())
			return err
		case <-ticker.C:
			done, err := l.Tick(ctx, l.now())
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// Tick executes one 250 ms step. done is true once the final-flush path
// has run and the loop should terminate.
func (l *Loop) Tick(ctx context.Context, now time.Time) (done bool, err error) {
	if l.stopped.Load() || (l.cfg.Session.State() != Recording) {
		l.finalFlush(ctx, now)
		return true, nil
	}

	l.ingestMic(now)
	l.ingestSpk(now)

	ev := l.cfg.Pipeline.PollEvent()
	if snap, ok := l.cfg.Pipeline.GetAmplitude(now); ok {
		l.publish(Event{Kind: Amplitude, Amplitude: AmplitudeEvent{
			Mic:     ScaleAmplitude(snap.Mic),
			Speaker: ScaleAmplitude(snap.Speaker),
		}})
	}

	micAcc := l.cfg.Pipeline.AccumulatedMicLen()
	micTriggered := micAcc >= MaxChunk || (micAcc >= MinChunk && ev.MicSpeechEnded)

	if micTriggered {
		l.preFlushSpeaker(ctx, now)
		l.cfg.Pipeline.ApplyAECToAccumulated()
		l.transcribeMicChunk(ctx, now)
	}

	pendingSpk := len(l.pendingSpk)
	spkTriggered := pendingSpk >= MaxChunk || (pendingSpk >= MinChunk && l.spkSilentPolls >= SpkSilencePolls)
	if !micTriggered && spkTriggered {
		l.transcribeSpeakerChunk(ctx, now)
	}

	return false, nil
}

func (l *Loop) ingestMic(now time.Time) {
	chunk := l.cfg.MicSource.TakeSessionChunk()
	if len(chunk) == 0 {
		return
	}
	if l.micChunkStart.IsZero() {
		l.micChunkStart = now
	}
	l.cfg.Pipeline.PushMic(chunk)
}

func (l *Loop) ingestSpk(now time.Time) {
	batch, ok := l.cfg.SpeakerSource.TakeBatch()
	if !ok || len(batch) == 0 {
		l.spkSilentPolls++
		return
	}
	if l.spkChunkStart.IsZero() {
		l.spkChunkStart = now
	}
	l.pendingSpk = append(l.pendingSpk, batch...)
	l.cfg.Pipeline.PushSpk(batch)

	if audio.RMS(batch) < silenceRMSThreshold {
		l.spkSilentPolls++
	} else {
		l.spkSilentPolls = 0
	}
}

// preFlushSpeaker transcribes and writes any pending speaker audio ahead
// of the mic chunk so mic-side dedup has a speaker segment to compare
// against.
func (l *Loop) preFlushSpeaker(ctx context.Context, now time.Time) {
	if len(l.pendingSpk) < MinChunk/4 {
		return
	}
	if audio.RMS(l.pendingSpk) < silenceRMSThreshold {
		return
	}
	l.transcribeSpeakerChunk(ctx, now)
}

func (l *Loop) chunkTimestamps(chunkStart time.Time, numSamples int) (startMs, endMs int64) {
	offset := l.cfg.Session.TimeOffsetMs()
	startMs = offset + chunkStart.Sub(l.sessionStart).Milliseconds()
	endMs = startMs + int64(numSamples)*1000/int64(audio.TargetSampleRate)
	return startMs, endMs
}

func (l *Loop) transcribeSpeakerChunk(ctx context.Context, now time.Time) {
	if len(l.pendingSpk) == 0 {
		return
	}
	samples := l.pendingSpk
	startMs, endMs := l.chunkTimestamps(l.spkChunkStart, len(samples))
	l.pendingSpk = nil
	l.spkSilentPolls = 0
	l.spkChunkStart = time.Time{}

	if audio.RMS(samples) < silenceRMSThreshold {
		return
	}

	text, err := l.cfg.Engine.Transcribe(ctx, samples, l.cfg.DecodeOptions)
	if err != nil {
		l.logger.Error("session: speaker transcription failed, dropping chunk", "error", err)
		return
	}
	if text == "" {
		return
	}

	seg, err := l.cfg.Store.AddSegment(ctx, l.cfg.Session.ID(), text, SourceSpeaker, startMs, endMs)
	if err != nil {
		l.logger.Error("session: store write failed", "error", err)
		return
	}
	l.publish(Event{Kind: SegmentWritten, Segment: seg})
}

func (l *Loop) transcribeMicChunk(ctx context.Context, now time.Time) {
	var mic []float32
	if l.cfg.SkipMicOnSpeakerEnergy {
		filtered, windowsZeroed := l.cfg.Pipeline.TakeFilteredMic(l.cfg.SpeakerEnergyThreshold, windowMs, Overlap)
		if windowsZeroed > 0 && audio.RMS(filtered) < silenceRMSThreshold {
			l.logger.Debug("session: all mic windows zeroed by speaker energy, skipping chunk")
			return
		}
		mic = filtered
	} else {
		mic, _ = l.cfg.Pipeline.TakeWithOverlap(Overlap)
	}

	startMs, endMs := l.chunkTimestamps(l.micChunkStart, len(mic))
	l.micChunkStart = time.Time{}

	if audio.RMS(mic) < silenceRMSThreshold {
		return
	}

	text, err := l.cfg.Engine.Transcribe(ctx, mic, l.cfg.DecodeOptions)
	if err != nil {
		l.logger.Error("session: mic transcription failed, dropping chunk", "error", err)
		return
	}
	if text == "" {
		return
	}

	text = l.cfg.Text.RemovePrefixOverlap(text, l.prevMicText)
	if text == "" {
		return
	}

	if l.isDuplicateOfRecentSpeaker(ctx, text, startMs, endMs) {
		l.logger.Debug("session: dropping mic segment, duplicate of recent speaker segment", "text", text)
		l.publish(Event{Kind: MicDuplicateDropped, DuplicateMic: Segment{
			SessionID: l.cfg.Session.ID(), Text: text, Source: SourceMic, StartMs: startMs, EndMs: endMs,
		}})
		return
	}

	seg, err := l.cfg.Store.AddSegment(ctx, l.cfg.Session.ID(), text, SourceMic, startMs, endMs)
	if err != nil {
		l.logger.Error("session: store write failed", "error", err)
		return
	}
	l.prevMicText = text
	l.publish(Event{Kind: SegmentWritten, Segment: seg})
}

func (l *Loop) isDuplicateOfRecentSpeaker(ctx context.Context, text string, startMs, endMs int64) bool {
	sinceMs := startMs - dedupWindowMs
	if sinceMs < 0 {
		sinceMs = 0
	}
	recent, err := l.cfg.Store.GetRecentSegments(ctx, l.cfg.Session.ID(), SourceSpeaker, sinceMs)
	if err != nil {
		l.logger.Error("session: recent-segments lookup failed, proceeding without dedup", "error", err)
		return false
	}
	for _, s := range recent {
		if l.cfg.Text.IsDuplicate(text, startMs, endMs, s.Text, s.StartMs, s.EndMs) {
			return true
		}
	}
	return false
}

// finalFlush drains both sources one last time, applies AEC, transcribes
// pending speaker first (so mic dedup has something to compare against),
// then the remainder of the mic audio, and emits a completion event. Runs
// exactly once, on exit.
func (l *Loop) finalFlush(ctx context.Context, now time.Time) {
	l.ingestMic(now)
	l.ingestSpk(now)

	l.cfg.Pipeline.ApplyAECToAccumulated()

	if len(l.pendingSpk) > 0 && audio.RMS(l.pendingSpk) >= silenceRMSThreshold {
		l.transcribeSpeakerChunk(ctx, now)
	} else {
		l.pendingSpk = nil
	}

	mic, _ := l.cfg.Pipeline.TakeAllAccumulated()
	if len(mic) > 0 && audio.RMS(mic) >= silenceRMSThreshold {
		startMs, endMs := l.chunkTimestamps(l.micChunkStart, len(mic))
		text, err := l.cfg.Engine.Transcribe(ctx, mic, l.cfg.DecodeOptions)
		if err != nil {
			l.logger.Error("session: final mic transcription failed", "error", err)
		} else if text != "" {
			text = l.cfg.Text.RemovePrefixOverlap(text, l.prevMicText)
			if text != "" && !l.isDuplicateOfRecentSpeaker(ctx, text, startMs, endMs) {
				if seg, err := l.cfg.Store.AddSegment(ctx, l.cfg.Session.ID(), text, SourceMic, startMs, endMs); err == nil {
					l.publish(Event{Kind: SegmentWritten, Segment: seg})
				}
			}
		}
	}

	l.publish(Event{Kind: FlushComplete})
}
