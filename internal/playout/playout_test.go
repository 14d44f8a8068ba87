package playout

import "testing"

type fakeReadiness struct {
	video, audio bool
}

func (f fakeReadiness) VideoReady() bool { return f.video }
func (f fakeReadiness) AudioReady() bool { return f.audio }

func TestNewSessionStartsIdle(t *testing.T) {
	s := New()
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", s.State())
	}
}

func TestHappyPathLifecycle(t *testing.T) {
	s := New()
	if reason, err := s.BeginSession(); err != nil || reason != ReasonOK {
		t.Fatalf("begin_session: reason=%v err=%v", reason, err)
	}
	if s.State() != StateBuffering {
		t.Fatalf("state = %v, want Buffering", s.State())
	}

	if reason, err := s.MarkReady(fakeReadiness{video: false, audio: true}); err != nil || reason != ReasonNotReadyVideo {
		t.Fatalf("expected NOT_READY_VIDEO, got reason=%v err=%v", reason, err)
	}
	if s.State() != StateBuffering {
		t.Fatalf("refused mark_ready must not change state, got %v", s.State())
	}

	if reason, err := s.MarkReady(fakeReadiness{video: true, audio: false}); err != nil || reason != ReasonNotReadyAudio {
		t.Fatalf("expected NOT_READY_AUDIO, got reason=%v err=%v", reason, err)
	}

	if reason, err := s.MarkReady(fakeReadiness{video: true, audio: true}); err != nil || reason != ReasonOK {
		t.Fatalf("mark_ready: reason=%v err=%v", reason, err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %v, want Ready", s.State())
	}

	if reason, err := s.Play(); err != nil || reason != ReasonOK {
		t.Fatalf("play: reason=%v err=%v", reason, err)
	}
	if s.State() != StatePlaying {
		t.Fatalf("state = %v, want Playing", s.State())
	}

	if reason, err := s.Pause(); err != nil || reason != ReasonOK {
		t.Fatalf("pause: reason=%v err=%v", reason, err)
	}
	if s.State() != StatePaused {
		t.Fatalf("state = %v, want Paused", s.State())
	}

	if reason, err := s.Play(); err != nil || reason != ReasonOK {
		t.Fatalf("resume play: reason=%v err=%v", reason, err)
	}

	if reason, err := s.Stop(); err != nil || reason != ReasonOK {
		t.Fatalf("stop: reason=%v err=%v", reason, err)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", s.State())
	}
}

func TestLoadPreviewAllowedFromOnAirStates(t *testing.T) {
	s := New()
	s.BeginSession()
	s.MarkReady(fakeReadiness{video: true, audio: true})
	if reason, err := s.LoadPreview(); err != nil || reason != ReasonOK {
		t.Fatalf("load_preview from Ready: reason=%v err=%v", reason, err)
	}
	s.Play()
	if reason, err := s.LoadPreview(); err != nil || reason != ReasonOK {
		t.Fatalf("load_preview from Playing: reason=%v err=%v", reason, err)
	}
}

func TestLoadPreviewRejectedFromIdle(t *testing.T) {
	s := New()
	if _, err := s.LoadPreview(); err == nil {
		t.Fatalf("expected load_preview to be rejected from Idle")
	}
}

func TestSwitchToLiveOnlyWhilePlaying(t *testing.T) {
	s := New()
	s.BeginSession()
	s.MarkReady(fakeReadiness{video: true, audio: true})
	if _, err := s.SwitchToLive(fakeReadiness{video: true, audio: true}); err == nil {
		t.Fatalf("expected switch_to_live to be rejected while only Ready")
	}
	s.Play()
	if reason, err := s.SwitchToLive(fakeReadiness{video: true, audio: true}); err != nil || reason != ReasonOK {
		t.Fatalf("switch_to_live while Playing: reason=%v err=%v", reason, err)
	}
}

func TestSwitchToLiveRejectedWhenPreviewNotReady(t *testing.T) {
	s := New()
	s.BeginSession()
	s.MarkReady(fakeReadiness{video: true, audio: true})
	s.Play()
	if reason, err := s.SwitchToLive(fakeReadiness{video: false, audio: true}); err != nil || reason != ReasonNotReadyVideo {
		t.Fatalf("expected NOT_READY_VIDEO, got reason=%v err=%v", reason, err)
	}
	if reason, err := s.SwitchToLive(fakeReadiness{video: true, audio: false}); err != nil || reason != ReasonNotReadyAudio {
		t.Fatalf("expected NOT_READY_AUDIO, got reason=%v err=%v", reason, err)
	}
}

func TestFaultForcesErrorFromAnyState(t *testing.T) {
	s := New()
	s.BeginSession()
	s.Fault()
	if s.State() != StateError {
		t.Fatalf("state = %v, want Error", s.State())
	}
}

func TestStopRejectedWhenAlreadyIdle(t *testing.T) {
	s := New()
	if _, err := s.Stop(); err == nil {
		t.Fatalf("expected stop to be rejected when already Idle")
	}
}
