package session

// Session is the per-recording state machine:
//
//	Created   -> Recording  (Start)
//	Recording -> Paused     (Pause)
//	Paused    -> Recording  (Resume, time offset advances to max end_ms)
//	Recording | Paused -> Ended (End)
//	Ended -> Recording (Reactivate)
//
// All transitions publish a StateChanged Event. TimeOffsetMs is added to
// every timestamp SessionLoop derives from wall-clock capture time, so
// that resuming after a pause preserves monotonicity of segment
// timestamps for the session's lifetime.
type Session struct {
	mu *SafeMutex

	id           string
	state        State
	timeOffsetMs int64

	events chan<- Event
}

// NewSession constructs a session in the Created state. events may be nil,
// in which case transitions are silent.
func NewSession(id string, events chan<- Event) *Session {
	return &Session{id: id, state: Created, events: events, mu: NewSafeMutex(nil)}
}

func (s *Session) ID() string { return s.id }

func (s *Session) publish(ev Event) {
	ev.SessionID = s.id
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	var state State
	s.mu.Do(func() { state = s.state })
	return state
}

// TimeOffsetMs returns the wall-clock-to-session-relative offset currently
// in effect.
func (s *Session) TimeOffsetMs() int64 {
	var offset int64
	s.mu.Do(func() { offset = s.timeOffsetMs })
	return offset
}

// Start transitions Created -> Recording.
func (s *Session) Start() error {
	var err error
	s.mu.Do(func() {
		switch s.state {
		case Recording:
			err = ErrAlreadyRecording
		case Ended:
			err = ErrSessionEnded
		case Created:
			s.state = Recording
			s.publish(Event{Kind: StateChanged, State: Recording})
		default:
			err = ErrInvalidTransition
		}
	})
	return err
}

// Pause transitions Recording -> Paused. Timestamps accumulated so far are
// preserved (TimeOffsetMs is unchanged).
func (s *Session) Pause() error {
	var err error
	s.mu.Do(func() {
		switch s.state {
		case Ended:
			err = ErrSessionEnded
		case Recording:
			s.state = Paused
			s.publish(Event{Kind: StateChanged, State: Paused})
		default:
			err = ErrInvalidTransition
		}
	})
	return err
}

// Resume transitions Paused -> Recording, advancing TimeOffsetMs to
// maxEndMs (the store's COALESCE(MAX(end_ms), 0) for this session) so new
// segments continue monotonically from where the prior pass left off.
func (s *Session) Resume(maxEndMs int64) error {
	var err error
	s.mu.Do(func() {
		switch s.state {
		case Recording:
			err = ErrAlreadyRecording
		case Ended:
			err = ErrSessionEnded
		case Paused:
			s.timeOffsetMs = maxEndMs
			s.state = Recording
			s.publish(Event{Kind: StateChanged, State: Recording})
		default:
			err = ErrInvalidTransition
		}
	})
	return err
}

// End transitions Recording or Paused -> Ended.
func (s *Session) End() error {
	var err error
	s.mu.Do(func() {
		switch s.state {
		case Ended:
			err = ErrSessionEnded
		case Recording, Paused:
			s.state = Ended
			s.publish(Event{Kind: StateChanged, State: Ended})
		default:
			err = ErrInvalidTransition
		}
	})
	return err
}

// Reactivate transitions Ended -> Recording, preserving TimeOffsetMs.
func (s *Session) Reactivate() error {
	var err error
	s.mu.Do(func() {
		switch s.state {
		case Recording:
			err = ErrAlreadyRecording
		case Ended:
			s.state = Recording
			s.publish(Event{Kind: StateChanged, State: Recording})
		default:
			err = ErrInvalidTransition
		}
	})
	return err
}
