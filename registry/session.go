package registry

import (
	"sync/atomic"
)

// Session is the per-connection record shared by the pipeline stages. Its
// identity fields are immutable; the flags and the in-flight counter are
// atomics so stages never serialize on the registry lock to touch them.
type Session struct {
	ID     string
	Fd     int
	Serial uint32

	name      atomic.Pointer[string]
	available atomic.Bool
	ready     atomic.Bool
	inflight  atomic.Int32
}

func newSession(id string, fd int, serial uint32) *Session {
	s := &Session{ID: id, Fd: fd, Serial: serial}
	s.available.Store(true)
	return s
}

// Name returns the display name, or "" before the session has joined.
func (s *Session) Name() string {
	if p := s.name.Load(); p != nil {
		return *p
	}

	return ""
}

// Available reports whether the connection is still open. It turns false
// once a disconnect is detected and never turns true again.
func (s *Session) Available() bool {
	return s.available.Load()
}

// Ready reports whether the session has joined with a display name.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// InFlight returns the number of outstanding holds and pins.
func (s *Session) InFlight() int32 {
	return s.inflight.Load()
}

// Hold records that a message referencing s has entered the pipeline. The
// caller must already keep s alive (through a pin or a prior hold); sweep
// will not reclaim s until every hold is released.
func (s *Session) Hold() {
	s.inflight.Add(1)
}

// Release drops one hold or pin.
func (s *Session) Release() {
	if s.inflight.Add(-1) < 0 {
		panic("registry: session " + s.ID + " released more than held")
	}
}
