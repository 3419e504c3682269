package session

import "errors"

var (
	// ErrInvalidTransition is returned when a state-machine method is
	// called from a state that does not permit it.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrAlreadyRecording is returned by Start, Resume, or Reactivate on a
	// session already in the Recording state.
	ErrAlreadyRecording = errors.New("session: already recording")

	// ErrSessionEnded is returned by any transition attempted on a
	// session already in the Ended state, except Reactivate.
	ErrSessionEnded = errors.New("session: session has ended")
)
