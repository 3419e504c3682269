package session

import (
	"testing"

	"github.com/noteloop/scribe-engine/pkg/pipeline"
	"github.com/noteloop/scribe-engine/pkg/transcription"
)

type fakePreloader struct {
	calls int
	err   error
}

func (f *fakePreloader) InitiateLoad() error {
	f.calls++
	return f.err
}

func TestManagerStartKicksOffPreload(t *testing.T) {
	store := &memStore{}
	pl := pipeline.New(pipeline.Config{Mode: pipeline.MicAndSpeaker})
	preload := &fakePreloader{}

	mgr := NewManager("s1", store, pl, nil, nil, preload, func(s *Session, p *pipeline.Pipeline) *Loop {
		return NewLoop(Config{Session: s, Pipeline: p, Store: store})
	})

	if err := mgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if preload.calls != 1 {
		t.Fatalf("expected InitiateLoad called once, got %d", preload.calls)
	}
	if mgr.Session().State() != Recording {
		t.Fatalf("expected Recording after Start, got %v", mgr.Session().State())
	}
}

func TestManagerStartToleratesNilPreloader(t *testing.T) {
	store := &memStore{}
	pl := pipeline.New(pipeline.Config{Mode: pipeline.MicAndSpeaker})

	mgr := NewManager("s1", store, pl, nil, nil, nil, func(s *Session, p *pipeline.Pipeline) *Loop {
		return NewLoop(Config{Session: s, Pipeline: p, Store: store})
	})

	if err := mgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestManagerStartIgnoresAlreadyLoadingError(t *testing.T) {
	store := &memStore{}
	pl := pipeline.New(pipeline.Config{Mode: pipeline.MicAndSpeaker})
	preload := &fakePreloader{err: transcription.ErrAlreadyLoading}

	mgr := NewManager("s1", store, pl, nil, nil, preload, func(s *Session, p *pipeline.Pipeline) *Loop {
		return NewLoop(Config{Session: s, Pipeline: p, Store: store})
	})

	if err := mgr.Start(); err != nil {
		t.Fatalf("Start should still succeed despite a concurrent load in progress: %v", err)
	}
}
