// Package registry tracks connection sessions by socket and by identity, and
// reclaims them once they are both disconnected and drained.
package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-lobby/frame"
)

var (
	// ErrDuplicate is returned by Add when the socket or identity is taken.
	ErrDuplicate = errors.New("registry: duplicate session")

	// ErrNotFound is returned when no live session has the given identity.
	ErrNotFound = errors.New("registry: session not found")
)

// Handle addresses one registered socket. The serial lets the sender detect
// that the socket has been reused by a newer connection.
type Handle struct {
	Fd     int
	Serial uint32
	// Joined is true if the session was connected and named when the
	// snapshot was taken.
	Joined bool
}

// RemoveFunc is called for every session a sweep reclaims, while the
// registry lock is held. It must not call back into the Registry.
type RemoveFunc func(s *Session)

// Registry maps sockets and identities to sessions. Structural changes take
// the write lock; per-session counters are atomics.
type Registry struct {
	mu    sync.RWMutex
	byFd  map[int]*Session
	byID  map[string]*Session
	alive int

	generation atomic.Uint64
	onRemove   RemoveFunc
}

// New creates an empty Registry. onRemove may be nil.
func New(onRemove RemoveFunc) *Registry {
	return &Registry{
		byFd:     make(map[int]*Session),
		byID:     make(map[string]*Session),
		onRemove: onRemove,
	}
}

// Add creates an available, not yet joined session.
//
// Parameters:
//   - id: The identity token issued to the connection
//   - fd: The connection's socket
//   - serial: The connection's serial number
//
// Returns:
//   - The new Session
//   - ErrDuplicate if fd or id already belongs to a session
func (r *Registry) Add(id string, fd int, serial uint32) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byFd[fd]; ok {
		return nil, fmt.Errorf("%w: fd %d", ErrDuplicate, fd)
	}
	if _, ok := r.byID[id]; ok {
		return nil, fmt.Errorf("%w: id %s", ErrDuplicate, id)
	}

	s := newSession(id, fd, serial)
	r.byFd[fd] = s
	r.byID[id] = s
	r.alive++
	r.generation.Add(1)

	return s, nil
}

// Lookup returns the session on fd, or nil.
func (r *Registry) Lookup(fd int) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byFd[fd]
}

// LookupID returns the session with the given identity, or nil.
func (r *Registry) LookupID(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Pin takes a hold on the session on fd for the duration of a socket
// operation. It fails if there is no such session, if serial is non-zero
// and differs, or if the session is no longer available. A pinned session's
// socket is never closed by Sweep; the caller must Release it.
func (r *Registry) Pin(fd int, serial uint32) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.byFd[fd]
	if s == nil || (serial != 0 && s.Serial != serial) || !s.Available() {
		return nil
	}
	s.Hold()

	return s
}

// SetName records the display name of the session with identity id and
// marks it joined. Calling it again replaces the name.
//
// Returns:
//   - ErrNotFound if id is unknown or its session has disconnected
func (r *Registry) SetName(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.byID[id]
	if s == nil || !s.Available() {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.name.Store(&name)
	s.ready.Store(true)
	r.generation.Add(1)

	return nil
}

// MarkUnavailable flags s as disconnected.
//
// Returns:
//   - true if this call changed the flag
func (r *Registry) MarkUnavailable(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !s.available.CompareAndSwap(true, false) {
		return false
	}

	if r.byFd[s.Fd] == s {
		r.alive--
	}
	r.generation.Add(1)

	return true
}

// Remove deletes the session on fd immediately, without the sweep
// conditions or the RemoveFunc. Used when an accept is rolled back.
func (r *Registry) Remove(fd int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.byFd[fd]
	if s == nil {
		return nil
	}

	r.unlinkLocked(s)
	return s
}

// Sweep reclaims every session that is unavailable and has nothing in
// flight, calling the RemoveFunc for each.
//
// Returns:
//   - The number of sessions reclaimed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, s := range r.byFd {
		if s.Available() || s.InFlight() != 0 {
			continue
		}

		r.unlinkLocked(s)
		if r.onRemove != nil {
			r.onRemove(s)
		}
		removed++
	}

	return removed
}

// Drain removes and returns every session regardless of state. It is meant
// for teardown once no stage is running.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.byFd))
	for _, s := range r.byFd {
		out = append(out, s)
	}
	for _, s := range out {
		r.unlinkLocked(s)
	}

	return out
}

func (r *Registry) unlinkLocked(s *Session) {
	delete(r.byFd, s.Fd)
	if r.byID[s.ID] == s {
		delete(r.byID, s.ID)
	}
	if s.Available() {
		r.alive--
	}
	r.generation.Add(1)
}

// SocketHandles returns a snapshot of every registered socket, available or
// not. Broadcasts pick their recipients from it.
func (r *Registry) SocketHandles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.byFd))
	for fd, s := range r.byFd {
		out = append(out, Handle{Fd: fd, Serial: s.Serial, Joined: s.Available() && s.Ready()})
	}

	return out
}

// Peers returns every available, joined session as a roster entry, ordered
// by connection serial.
func (r *Registry) Peers() []frame.Peer {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byFd))
	for _, s := range r.byFd {
		if s.Available() && s.Ready() {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return cmp.Compare(a.Serial, b.Serial)
	})

	peers := make([]frame.Peer, len(sessions))
	for i, s := range sessions {
		peers[i] = frame.Peer{ID: s.ID, Name: s.Name()}
	}

	return peers
}

// SerializeRoster encodes the roster seen by the session on excludeFd: every
// available joined peer except that session.
//
// Parameters:
//   - excludeFd: The requesting session's socket
//   - peers: Source of the joined set, such as a cache over Peers; nil
//     scans the registry
//
// Returns:
//   - The PEER_ROSTER payload, or nil if fewer than two sessions are
//     available or nobody else has joined
//   - The number of peers left out because the payload was full
func (r *Registry) SerializeRoster(excludeFd int, peers func() []frame.Peer) ([]byte, int) {
	if r.Available() < 2 {
		return nil, 0
	}
	if peers == nil {
		peers = r.Peers
	}

	excludeID := ""
	if s := r.Lookup(excludeFd); s != nil {
		excludeID = s.ID
	}

	return EncodeRoster(peers(), excludeID)
}

// EncodeRoster builds a PEER_ROSTER payload from peers, skipping excludeID.
// Entries that would push the payload past frame.MaxPayloadSize are left out.
//
// Returns:
//   - The payload, or nil if no entry was written
//   - The number of peers left out for lack of space
func EncodeRoster(peers []frame.Peer, excludeID string) ([]byte, int) {
	roster := frame.PeerRoster{Peers: make([]frame.Peer, 0, len(peers))}
	size, omitted := 0, 0

	for _, p := range peers {
		if p.ID == excludeID {
			continue
		}

		need := p.EntryLen()
		if len(roster.Peers) > 0 {
			need++
		}
		if size+need > frame.MaxPayloadSize {
			omitted++
			continue
		}

		size += need
		roster.Peers = append(roster.Peers, p)
	}

	if len(roster.Peers) == 0 {
		return nil, omitted
	}

	return roster.AppendPayload(make([]byte, 0, size)), omitted
}

// Len returns the number of registered sessions, available or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byFd)
}

// Available returns the number of registered sessions still connected.
func (r *Registry) Available() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alive
}

// Generation changes whenever the set of sessions, their names or their
// availability changes. Roster caches key on it.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}
