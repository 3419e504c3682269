// Package session implements the control loop that ties pipeline,
// transcription, and text-processing together into one recording pass: the
// 250 ms SessionLoop tick, the per-session state machine, and the external
// collaborator interfaces (mic/speaker sources, segment store).
package session

import (
	"context"
	"time"
)

// State is a session's position in its lifecycle.
type State int

const (
	Created State = iota
	Recording
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Source identifies which channel a transcript segment came from.
type Source int

const (
	SourceMic Source = iota
	SourceSpeaker
)

func (s Source) String() string {
	if s == SourceSpeaker {
		return "speaker"
	}
	return "mic"
}

// Segment is one committed transcript span.
type Segment struct {
	ID        string
	SessionID string
	Text      string
	Source    Source
	StartMs   int64
	EndMs     int64
	CreatedAt time.Time
}

// MicSource yields owned sample chunks at 16 kHz mono via a non-blocking
// drain, mirroring the external mic-capture collaborator.
type MicSource interface {
	TakeSessionChunk() []float32
	IsRecording() bool
	StartSessionRecording() error
	StopSessionRecording()
	CancelRecording()
}

// SpeakerSource yields speaker-loopback batches, which may be bursty or
// delayed. TakeBatch performs a non-blocking drain: ok is false when no
// batch is currently available.
type SpeakerSource interface {
	TakeBatch() (samples []float32, ok bool)
	SampleRate() int
}

// Store is the external, shared segment store. Every write is its own
// transaction; reads are best-effort snapshots.
type Store interface {
	AddSegment(ctx context.Context, sessionID, text string, source Source, startMs, endMs int64) (Segment, error)
	GetRecentSegments(ctx context.Context, sessionID string, source Source, sinceMs int64) ([]Segment, error)
	GetSessionTimeOffset(ctx context.Context, sessionID string) (int64, error)
}

// silenceRMSThreshold is the shared RMS silence cutoff (~ -40 dB) used throughout
// SessionLoop to skip hallucination-prone silent chunks.
const silenceRMSThreshold = 0.01
