// Package playout implements the externally-facing control state machine
// (spec.md §4.9): Idle/Buffering/Ready/Playing/Paused/Error, and the
// guarded operations (begin_session, stop, pause, load_preview,
// switch_to_live) that move between them. The shape — an unexported state
// field, one method per transition, explicit guard checks returning a
// typed reason rather than a bare bool — the same shape as
// internal/rtmp/conn/session.go's session state machine.
package playout

import "fmt"

// State is the playout session's externally observable lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateBuffering
	StateReady
	StatePlaying
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Reason classifies why a gated operation was refused.
type Reason uint8

const (
	ReasonOK Reason = iota
	ReasonNotReadyVideo
	ReasonNotReadyAudio
	ReasonInvalidState
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonNotReadyVideo:
		return "NOT_READY_VIDEO"
	case ReasonNotReadyAudio:
		return "NOT_READY_AUDIO"
	case ReasonInvalidState:
		return "INVALID_STATE"
	default:
		return "unknown"
	}
}

// ReadinessCheck reports whether the pipeline currently has enough
// buffered video and audio to declare the session Ready.
type ReadinessCheck interface {
	VideoReady() bool
	AudioReady() bool
}

// Session is one playout control session.
type Session struct {
	state State
}

// New constructs a Session in the Idle state.
func New() *Session {
	return &Session{state: StateIdle}
}

func (s *Session) State() State { return s.state }

// BeginSession transitions Idle -> Buffering, the start of preroll.
func (s *Session) BeginSession() (Reason, error) {
	if s.state != StateIdle {
		return ReasonInvalidState, fmt.Errorf("begin_session: invalid from state %s", s.state)
	}
	s.state = StateBuffering
	return ReasonOK, nil
}

// MarkReady transitions Buffering -> Ready once check reports both streams
// have reached their pre-feed margins. It refuses with a typed reason
// identifying which stream is not yet ready, rather than a bare failure.
func (s *Session) MarkReady(check ReadinessCheck) (Reason, error) {
	if s.state != StateBuffering {
		return ReasonInvalidState, fmt.Errorf("mark_ready: invalid from state %s", s.state)
	}
	if !check.VideoReady() {
		return ReasonNotReadyVideo, nil
	}
	if !check.AudioReady() {
		return ReasonNotReadyAudio, nil
	}
	s.state = StateReady
	return ReasonOK, nil
}

// Play transitions Ready or Paused -> Playing.
func (s *Session) Play() (Reason, error) {
	if s.state != StateReady && s.state != StatePaused {
		return ReasonInvalidState, fmt.Errorf("play: invalid from state %s", s.state)
	}
	s.state = StatePlaying
	return ReasonOK, nil
}

// Pause transitions Playing -> Paused.
func (s *Session) Pause() (Reason, error) {
	if s.state != StatePlaying {
		return ReasonInvalidState, fmt.Errorf("pause: invalid from state %s", s.state)
	}
	s.state = StatePaused
	return ReasonOK, nil
}

// Stop transitions any non-Idle state to Idle, tearing down the session.
func (s *Session) Stop() (Reason, error) {
	if s.state == StateIdle {
		return ReasonInvalidState, fmt.Errorf("stop: already idle")
	}
	s.state = StateIdle
	return ReasonOK, nil
}

// Fault transitions to Error from any state; used when an invariant
// violation or unrecoverable producer fault is observed.
func (s *Session) Fault() {
	s.state = StateError
}

// LoadPreview is permitted from Ready, Playing, or Paused — it stages a
// block plan for the next switch_to_live without disturbing the current
// on-air state.
func (s *Session) LoadPreview() (Reason, error) {
	switch s.state {
	case StateReady, StatePlaying, StatePaused:
		return ReasonOK, nil
	default:
		return ReasonInvalidState, fmt.Errorf("load_preview: invalid from state %s", s.state)
	}
}

// SwitchToLive is permitted only while Playing, since it hands authority
// to a previously loaded preview block without stopping output. It is
// gated the same way MarkReady is: a preview block that hasn't buffered
// its own pre-feed margin must refuse the switch rather than hand
// authority to a segment with no frames to give.
func (s *Session) SwitchToLive(check ReadinessCheck) (Reason, error) {
	if s.state != StatePlaying {
		return ReasonInvalidState, fmt.Errorf("switch_to_live: invalid from state %s", s.state)
	}
	if !check.VideoReady() {
		return ReasonNotReadyVideo, nil
	}
	if !check.AudioReady() {
		return ReasonNotReadyAudio, nil
	}
	return ReasonOK, nil
}
