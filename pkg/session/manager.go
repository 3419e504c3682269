package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/noteloop/scribe-engine/pkg/pipeline"
	"github.com/noteloop/scribe-engine/pkg/transcription"
)

// Manager owns one active Session and its Loop, handling the
// resume/reactivate bookkeeping (resolving the store's time offset) that
// sits above a single recording pass. Ownership is strictly one-way:
// Manager owns {Session, Loop, Pipeline}; Loop owns the pending-speaker
// buffer and chunk-start timestamps; Pipeline owns the
// VAD/AEC/preprocessors/accumulation buffers.
type Manager struct {
	store  Store
	logger *slog.Logger

	session  *Session
	loop     *Loop
	pipeline *pipeline.Pipeline
	preload  Preloader
}

// Preloader is the non-blocking model-load kickoff Manager.Start calls so
// load latency overlaps with early audio accumulation instead of being
// paid on the session's first transcription. Satisfied by
// *transcription.Engine's InitiateLoad.
type Preloader interface {
	InitiateLoad() error
}

// NewManager constructs a Manager for a brand-new session id. newLoop
// builds the Loop given the Session and Pipeline this Manager owns; it is
// supplied by the caller because Loop.Config also needs the transcription
// engine, text processor, and audio sources, which Manager does not own.
// preload is optional; when set, Start calls InitiateLoad before entering
// Recording.
func NewManager(id string, store Store, pl *pipeline.Pipeline, events chan<- Event, logger *slog.Logger, preload Preloader, newLoop func(*Session, *pipeline.Pipeline) *Loop) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	sess := NewSession(id, events)
	return &Manager{
		store:    store,
		logger:   logger,
		session:  sess,
		pipeline: pl,
		preload:  preload,
		loop:     newLoop(sess, pl),
	}
}

// Session returns the managed session.
func (m *Manager) Session() *Session { return m.session }

// Loop returns the managed control loop.
func (m *Manager) Loop() *Loop { return m.loop }

// Start transitions Created -> Recording. It does not run the loop: the
// caller drives Loop().Run or Tick itself (goroutine vs. synchronous
// Tick-driving, e.g. in tests). It also kicks off the transcription
// model's background load, if a Preloader was supplied, so the load
// overlaps with the session's first seconds of audio instead of stalling
// the first Transcribe call.
func (m *Manager) Start() error {
	if m.preload != nil {
		if err := m.preload.InitiateLoad(); err != nil && !errors.Is(err, transcription.ErrAlreadyLoading) {
			m.logger.Warn("session: model preload kickoff failed", "error", err)
		}
	}
	return m.session.Start()
}

// Pause transitions Recording -> Paused. Pipeline state is left intact so
// Resume can continue from where the buffers stood; in practice a pause
// is expected to closely follow a flush, so buffers are normally empty.
func (m *Manager) Pause() error {
	return m.session.Pause()
}

// Resume transitions Paused -> Recording, resolving the new time offset
// from the store's COALESCE(MAX(end_ms), 0) for this session so resumed
// timestamps stay monotonic.
func (m *Manager) Resume(ctx context.Context) error {
	offset, err := m.store.GetSessionTimeOffset(ctx, m.session.ID())
	if err != nil {
		m.logger.Error("session: failed to resolve resume time offset, defaulting to 0", "error", err)
		offset = 0
	}
	return m.session.Resume(offset)
}

// End transitions Recording or Paused -> Ended, and resets pipeline state
// (buffers cleared, VAD reset, smoothed amplitudes zeroed) so a later
// Reactivate starts clean.
func (m *Manager) End() error {
	if err := m.session.End(); err != nil {
		return err
	}
	m.pipeline.Reset()
	return nil
}

// Reactivate transitions Ended -> Recording, preserving the time offset
// accumulated so far.
func (m *Manager) Reactivate() error {
	return m.session.Reactivate()
}

// SpeakerCaptureThread models the platform capture threads that sit
// outside this process's own goroutine scheduling (malgo's audio
// callback thread, or any other blocking platform capture loop a caller
// mounts): capture runs until ctx is cancelled or it returns on its own,
// with a panic inside it recovered and logged rather than taking the
// whole process down. Grounded on the same recover-and-log contract
// SafeMutex applies to critical sections, generalized here to an entire
// blocking call instead of one locked region.
func SpeakerCaptureThread(ctx context.Context, logger *slog.Logger, name string, capture func(ctx context.Context) error) {
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session: capture thread panicked", "thread", name, "panic", r)
		}
	}()
	if err := capture(ctx); err != nil && ctx.Err() == nil {
		logger.Error("session: capture thread exited with error", "thread", name, "error", err)
	}
}
