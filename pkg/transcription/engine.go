package transcription

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LifecycleState is the transcription engine's process-wide
// Unloaded/Loading/Loaded state.
type LifecycleState int

const (
	Unloaded LifecycleState = iota
	Loading
	Loaded
)

func (s LifecycleState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Special IdleTimeout values. Immediate unloads right after every
// Transcribe call returns; Never disables the idle watchdog entirely.
const (
	Immediate time.Duration = 0
	Never     time.Duration = -1
)

// LifecycleEvent is emitted on every state transition.
type LifecycleEvent struct {
	Kind string // loading_started | loading_completed | loading_failed | unloaded
	Err  error
}

// Loader constructs a Backend on demand. Engine calls it at most once per
// Loading phase; a failed load returns to Unloaded so a later Transcribe
// can retry.
type Loader func() (Backend, error)

// Engine owns one Backend for the lifetime of the process, loading it
// lazily on first use and unloading it after IdleTimeout has elapsed
// since the last Transcribe call, grounded on the condvar-guarded
// lifecycle idiom of the deleted teacher managed_stream.go.
type Engine struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   LifecycleState
	backend Backend
	loader  Loader

	idleTimeout  time.Duration
	lastActivity time.Time

	processor Processor

	events chan LifecycleEvent

	closed     bool
	watchdogWG sync.WaitGroup
	stopWatch  chan struct{}
}

// Processor is the minimal surface pkg/text.Processor exposes to Engine;
// declared here (rather than importing pkg/text directly) to keep
// pkg/transcription free of a hard dependency on the text package's
// concrete Config type. Callers pass pkg/text.Processor, which already
// satisfies this interface.
type Processor interface {
	ProcessRaw(raw string) string
}

// NewEngine constructs an Engine with the given loader and idle policy.
// post is optional and may be nil; when set, every successful
// transcription is run through ProcessRaw before being returned.
func NewEngine(loader Loader, idleTimeout time.Duration, post Processor) *Engine {
	e := &Engine{
		loader:      loader,
		idleTimeout: idleTimeout,
		processor:   post,
		events:      make(chan LifecycleEvent, 16),
		stopWatch:   make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	if idleTimeout > 0 {
		e.watchdogWG.Add(1)
		go e.runWatchdog()
	}
	return e
}

// Events returns the channel lifecycle transitions are published on.
func (e *Engine) Events() <-chan LifecycleEvent {
	return e.events
}

func (e *Engine) emit(ev LifecycleEvent) {
	select {
	case e.events <- ev:
	default:
	}
}

// Load ensures a backend is ready, blocking if another goroutine is
// already loading one. Safe to call redundantly; a Loaded engine returns
// immediately.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	for e.state == Loading {
		e.cond.Wait()
		if e.closed {
			return ErrEngineClosed
		}
	}
	if e.state == Loaded {
		return nil
	}

	e.state = Loading
	e.emit(LifecycleEvent{Kind: "loading_started"})
	e.mu.Unlock()
	backend, err := e.loader()
	e.mu.Lock()

	if err != nil {
		e.state = Unloaded
		e.emit(LifecycleEvent{Kind: "loading_failed", Err: err})
		e.cond.Broadcast()
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	e.finishLoadLocked(backend)
	return nil
}

// finishLoadLocked records a successful load; caller holds e.mu.
func (e *Engine) finishLoadLocked(backend Backend) {
	e.backend = backend
	e.state = Loaded
	e.lastActivity = time.Now()
	e.emit(LifecycleEvent{Kind: "loading_completed"})
	e.cond.Broadcast()
}

// InitiateLoad kicks off a model load in the background and returns
// immediately, so a caller can overlap load latency with early audio
// accumulation instead of paying it on the first Transcribe call.
// Idempotent: a second call while a load is already in flight or once
// the engine is Loaded returns ErrAlreadyLoading / nil without spawning
// another loader.
func (e *Engine) InitiateLoad() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	switch e.state {
	case Loading:
		return ErrAlreadyLoading
	case Loaded:
		return nil
	}

	e.state = Loading
	e.emit(LifecycleEvent{Kind: "loading_started"})
	go e.runLoad()
	return nil
}

// runLoad performs the actual loader call for InitiateLoad's background
// kickoff. Load calls the loader inline instead; both finish through
// finishLoadLocked.
func (e *Engine) runLoad() {
	backend, err := e.loader()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.state = Unloaded
		e.emit(LifecycleEvent{Kind: "loading_failed", Err: err})
		e.cond.Broadcast()
		return
	}

	e.finishLoadLocked(backend)
}

// Transcribe loads the backend on demand (waiting if a load is already in
// progress), transcribes samples, runs the optional post-processor, and
// refreshes the idle clock.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) (string, error) {
	if err := e.Load(ctx); err != nil {
		return "", err
	}

	e.mu.Lock()
	backend := e.backend
	e.mu.Unlock()

	text, err := backend.Transcribe(ctx, samples, opts)

	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()

	if err != nil {
		return "", err
	}

	if e.processor != nil {
		text = e.processor.ProcessRaw(text)
	}

	if e.idleTimeout == Immediate {
		e.Unload()
	}

	return text, nil
}

// Unload releases the backend and returns to Unloaded. Safe to call when
// already unloaded.
func (e *Engine) Unload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unloadLocked()
}

func (e *Engine) unloadLocked() error {
	if e.state != Loaded {
		return nil
	}
	backend := e.backend
	e.backend = nil
	e.state = Unloaded
	e.cond.Broadcast()
	e.emit(LifecycleEvent{Kind: "unloaded"})
	if backend != nil {
		return backend.Close()
	}
	return nil
}

// State reports the current lifecycle state.
func (e *Engine) State() LifecycleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// watchdogPollInterval is the 10s default poll cadence, shortened for
// idle timeouts smaller than that cadence so the watchdog can still
// observe them (otherwise a sub-10s timeout would never fire in time).
func watchdogPollInterval(idleTimeout time.Duration) time.Duration {
	const defaultPoll = 10 * time.Second
	if idleTimeout > 0 && idleTimeout < defaultPoll {
		half := idleTimeout / 2
		if half < time.Millisecond {
			half = time.Millisecond
		}
		return half
	}
	return defaultPoll
}

func (e *Engine) runWatchdog() {
	defer e.watchdogWG.Done()
	ticker := time.NewTicker(watchdogPollInterval(e.idleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-e.stopWatch:
			return
		case <-ticker.C:
			e.mu.Lock()
			idle := e.state == Loaded && e.idleTimeout > 0 && time.Since(e.lastActivity) >= e.idleTimeout
			e.mu.Unlock()
			if idle {
				e.Unload()
			}
		}
	}
}

// Shutdown stops the idle watchdog and unloads the backend; the engine
// rejects further Load/Transcribe calls afterward.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stopWatch)
	e.watchdogWG.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cond.Broadcast()
	return e.unloadLocked()
}
