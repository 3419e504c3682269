package transcription

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubBackend struct {
	text   string
	err    error
	closed bool
	calls  int
}

func (s *stubBackend) Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func (s *stubBackend) Close() error {
	s.closed = true
	return nil
}

type upperProcessor struct{}

func (upperProcessor) ProcessRaw(raw string) string {
	if raw == "" {
		return raw
	}
	return raw + "!"
}

func TestEngineLoadsLazilyOnFirstTranscribe(t *testing.T) {
	backend := &stubBackend{text: "hello"}
	loadCount := 0
	e := NewEngine(func() (Backend, error) {
		loadCount++
		return backend, nil
	}, Never, nil)

	if e.State() != Unloaded {
		t.Fatalf("expected Unloaded before first call")
	}

	got, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
	if e.State() != Loaded {
		t.Fatalf("expected Loaded after transcribe")
	}
	if loadCount != 1 {
		t.Fatalf("expected exactly one load, got %d", loadCount)
	}

	if _, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{}); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if loadCount != 1 {
		t.Fatalf("expected loader reused, got %d loads", loadCount)
	}
}

func TestEngineLoadFailureReturnsToUnloaded(t *testing.T) {
	wantErr := errors.New("boom")
	e := NewEngine(func() (Backend, error) {
		return nil, wantErr
	}, Never, nil)

	_, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed, got %v", err)
	}
	if e.State() != Unloaded {
		t.Fatalf("expected Unloaded after failed load, got %v", e.State())
	}
}

func TestEngineImmediateTimeoutUnloadsAfterEachCall(t *testing.T) {
	backend := &stubBackend{text: "x"}
	e := NewEngine(func() (Backend, error) { return backend, nil }, Immediate, nil)

	if _, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.State() != Unloaded {
		t.Fatalf("expected Unloaded immediately after call, got %v", e.State())
	}
	if !backend.closed {
		t.Fatalf("expected backend closed")
	}
}

func TestEngineAppliesPostProcessor(t *testing.T) {
	backend := &stubBackend{text: "hello"}
	e := NewEngine(func() (Backend, error) { return backend, nil }, Never, upperProcessor{})

	got, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello!" {
		t.Fatalf("got %q, want post-processed text", got)
	}
}

func TestEngineShutdownRejectsFurtherLoad(t *testing.T) {
	backend := &stubBackend{text: "hello"}
	e := NewEngine(func() (Backend, error) { return backend, nil }, Never, nil)

	if _, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if !backend.closed {
		t.Fatalf("expected backend closed on shutdown")
	}
	if _, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{}); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}

func TestEngineInitiateLoadIsNonBlockingAndIdempotent(t *testing.T) {
	release := make(chan struct{})
	backend := &stubBackend{text: "hello"}
	loadCount := 0
	e := NewEngine(func() (Backend, error) {
		loadCount++
		<-release
		return backend, nil
	}, Never, nil)

	if err := e.InitiateLoad(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.State() != Loading {
		t.Fatalf("expected Loading immediately after InitiateLoad, got %v", e.State())
	}

	if err := e.InitiateLoad(); !errors.Is(err, ErrAlreadyLoading) {
		t.Fatalf("expected ErrAlreadyLoading on second call, got %v", err)
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == Loaded {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if e.State() != Loaded {
		t.Fatalf("expected Loaded once background load completes, got %v", e.State())
	}

	if err := e.InitiateLoad(); err != nil {
		t.Fatalf("expected nil calling InitiateLoad once already Loaded, got %v", err)
	}
	if loadCount != 1 {
		t.Fatalf("expected loader invoked exactly once, got %d", loadCount)
	}

	got, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
	if loadCount != 1 {
		t.Fatalf("expected Transcribe to reuse the preloaded backend, got %d loads", loadCount)
	}
}

func TestEngineWatchdogUnloadsAfterIdleTimeout(t *testing.T) {
	backend := &stubBackend{text: "hello"}
	e := NewEngine(func() (Backend, error) { return backend, nil }, 10*time.Millisecond, nil)
	defer e.Shutdown()

	if _, err := e.Transcribe(context.Background(), []float32{0.1}, DecodeOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == Unloaded {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected watchdog to unload engine within deadline")
}
