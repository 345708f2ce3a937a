//go:build linux

// Package poller wraps a Linux epoll instance as an edge-triggered readiness
// set. Registrations are tracked so Remove is idempotent and safe to call from
// any goroutine after a socket has already been dropped.
package poller

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-lobby/safemap"
	"golang.org/x/sys/unix"
)

const (
	// Readable is the interest mask for sockets that are read until EAGAIN.
	Readable uint32 = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET

	// Writable is the interest mask for sockets with unsent buffered bytes.
	Writable uint32 = unix.EPOLLOUT | unix.EPOLLET
)

// ErrClosed is returned by every operation on a closed Poller.
var ErrClosed = errors.New("poller: closed")

// Event is one readiness notification.
type Event struct {
	Fd     int
	Events uint32
}

// Readable reports whether the socket has bytes (or an EOF) to read.
func (e Event) Readable() bool {
	return e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0
}

// Writable reports whether the socket accepts more bytes.
func (e Event) Writable() bool {
	return e.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0
}

// Hangup reports whether the peer closed or the socket errored.
func (e Event) Hangup() bool {
	return e.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0
}

// Poller is a readiness set. Add, Modify and Remove may be called from any
// goroutine; Wait must only be called by the single goroutine that owns it.
type Poller struct {
	epfd   int
	regs   *safemap.SafeMap[int, uint32]
	raw    []unix.EpollEvent
	events []Event
	closed atomic.Bool
}

// New creates an epoll instance able to report up to maxEvents events per Wait.
//
// Returns:
//   - The Poller, or the epoll_create1 error
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		return nil, fmt.Errorf("poller: maxEvents must be positive, got %d", maxEvents)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}

	return &Poller{
		epfd:   epfd,
		regs:   safemap.NewSafeMap[int, uint32](),
		raw:    make([]unix.EpollEvent, maxEvents),
		events: make([]Event, 0, maxEvents),
	}, nil
}

// Add registers fd with the given interest mask. Adding an fd that is
// already registered modifies its mask instead.
func (p *Poller) Add(fd int, events uint32) error {
	if p.closed.Load() {
		return ErrClosed
	}

	if _, loaded := p.regs.LoadOrStore(fd, events); loaded {
		return p.Modify(fd, events)
	}

	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.regs.Delete(fd)
		return fmt.Errorf("poller: add fd %d: %w", fd, err)
	}

	return nil
}

// Modify replaces the interest mask of a registered fd.
func (p *Poller) Modify(fd int, events uint32) error {
	if p.closed.Load() {
		return ErrClosed
	}

	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: modify fd %d: %w", fd, err)
	}
	p.regs.Store(fd, events)

	return nil
}

// Remove unregisters fd. Removing an fd that is not registered is a no-op,
// as is removal after the kernel already dropped a closed socket.
func (p *Poller) Remove(fd int) error {
	if p.closed.Load() {
		return nil
	}

	if _, ok := p.regs.LoadAndDelete(fd); !ok {
		return nil
	}

	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("poller: remove fd %d: %w", fd, err)
	}

	return nil
}

// Registered reports whether fd is currently in the set.
func (p *Poller) Registered(fd int) bool {
	return p.regs.Has(fd)
}

// Len returns the number of registered sockets.
func (p *Poller) Len() int {
	return p.regs.Len()
}

// Wait blocks for up to timeout for readiness events. A negative timeout
// waits indefinitely; zero polls without blocking. An interrupted wait
// returns no events and no error. The returned slice is reused by the next
// call.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}

	n, err := unix.EpollWait(p.epfd, p.raw, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return p.events[:0], nil
		}
		if p.closed.Load() {
			return nil, ErrClosed
		}

		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}

	p.events = p.events[:0]
	for i := 0; i < n; i++ {
		p.events = append(p.events, Event{Fd: int(p.raw[i].Fd), Events: p.raw[i].Events})
	}

	return p.events, nil
}

// Close releases the epoll instance. Registered sockets are not closed.
func (p *Poller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	return unix.Close(p.epfd)
}
