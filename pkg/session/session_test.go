package session

import (
	"errors"
	"testing"
)

func TestSessionLifecycleHappyPath(t *testing.T) {
	events := make(chan Event, 16)
	s := NewSession("s1", events)

	if s.State() != Created {
		t.Fatalf("expected Created, got %v", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Recording {
		t.Fatalf("expected Recording, got %v", s.State())
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Resume(5000); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.TimeOffsetMs() != 5000 {
		t.Fatalf("expected offset 5000, got %d", s.TimeOffsetMs())
	}
	if err := s.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := s.Reactivate(); err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if s.TimeOffsetMs() != 5000 {
		t.Fatalf("expected offset preserved across reactivate, got %d", s.TimeOffsetMs())
	}

	close(events)
	var states []State
	for ev := range events {
		if ev.Kind == StateChanged {
			states = append(states, ev.State)
		}
		if ev.SessionID != "s1" {
			t.Fatalf("expected session id stamped on every event, got %q", ev.SessionID)
		}
	}
	want := []State{Recording, Paused, Recording, Ended, Recording}
	if len(states) != len(want) {
		t.Fatalf("got %d state events, want %d: %v", len(states), len(want), states)
	}
	for i, w := range want {
		if states[i] != w {
			t.Errorf("event %d: got %v, want %v", i, states[i], w)
		}
	}
}

func TestSessionRejectsInvalidTransitions(t *testing.T) {
	s := NewSession("s1", nil)
	if err := s.Pause(); err == nil {
		t.Fatalf("expected error pausing a Created session")
	}
	if err := s.Resume(0); err == nil {
		t.Fatalf("expected error resuming a Created session")
	}
	if err := s.End(); err == nil {
		t.Fatalf("expected error ending a Created session")
	}
	if err := s.Reactivate(); err == nil {
		t.Fatalf("expected error reactivating a Created session")
	}

	_ = s.Start()
	if err := s.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording double-starting, got %v", err)
	}
}

func TestSessionEndedReturnsErrSessionEnded(t *testing.T) {
	s := NewSession("s1", nil)
	_ = s.Start()
	_ = s.End()

	if err := s.Pause(); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded pausing an ended session, got %v", err)
	}
	if err := s.Resume(0); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded resuming an ended session, got %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded starting an ended session, got %v", err)
	}
	if err := s.Reactivate(); err != nil {
		t.Fatalf("Reactivate should still succeed from Ended: %v", err)
	}
}
