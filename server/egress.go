//go:build linux

package server

import (
	"context"
	"errors"
	"time"

	"github.com/cyberinferno/go-lobby/bufferpool"
	"github.com/cyberinferno/go-lobby/frame"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/poller"
	"github.com/cyberinferno/go-lobby/registry"
	"github.com/cyberinferno/go-lobby/safeset"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// outbox holds the bytes a connection could not take yet. A non-empty
// outbox always has its socket registered for writable readiness.
type outbox struct {
	serial uint32
	buf    []byte
}

// egress writes frames from the work queue to their sockets and flushes
// backlogged connections when they become writable. Everything here runs
// on one goroutine; pending is shared only for observation.
type egress struct {
	s   *Server
	log logger.Logger

	outboxes map[int]*outbox
	pending  *safeset.SafeSet[int]

	failures rate.Sometimes
}

func newEgress(s *Server) *egress {
	return &egress{
		s:        s,
		log:      s.log.With(logger.Field{Key: "component", Value: "egress"}),
		outboxes: make(map[int]*outbox),
		pending:  safeset.NewSafeSet[int](),
		failures: rate.Sometimes{Interval: time.Second},
	}
}

// Pending returns the number of connections with unsent buffered bytes.
func (e *egress) Pending() int {
	return e.pending.Size()
}

func (e *egress) run(ctx context.Context) error {
	e.log.Info("egress started")

	for ctx.Err() == nil {
		if e.pending.Size() > 0 {
			e.flushWritable(0)
		}

		m := e.s.pool.Work().Pop()
		if m == nil {
			if e.pending.Size() > 0 {
				e.flushWritable(e.s.cfg.EgressPollInterval)
				continue
			}

			var err error
			if m, err = e.s.pool.Work().Take(ctx); err != nil {
				break
			}
		}

		e.handle(m)
	}

	e.log.Info("egress stopped")
	return nil
}

// handle delivers m and returns it to the pool, releasing the hold its
// origin session carried.
func (e *egress) handle(m *bufferpool.Message) {
	defer e.s.pool.Release(m)

	origin := e.s.registry.Lookup(m.Conn)
	if origin == nil || origin.Serial != m.Serial {
		e.s.metrics.FramesDropped.WithLabelValues(dropStale).Inc()
		return
	}
	defer origin.Release()

	kind := m.Header.Kind
	if !origin.Available() && !announcesPresence(kind) {
		e.s.metrics.FramesDropped.WithLabelValues(dropUnavailable).Inc()
		return
	}

	data := m.Frame()
	if !kind.Broadcast() {
		e.send(m.Conn, m.Serial, kind, data)
		return
	}

	if e.s.registry.Len() < 2 {
		return
	}
	for _, h := range e.s.registry.SocketHandles() {
		if h.Fd == m.Conn || !h.Joined {
			continue
		}
		e.send(h.Fd, h.Serial, kind, data)
	}
}

// announcesPresence reports whether kind is delivered even after its origin
// disconnected. A join relabelled before the disconnect must reach peers
// ahead of the departure that follows it.
func announcesPresence(kind frame.Kind) bool {
	return kind == frame.KindPeerJoined || kind == frame.KindPeerLeft
}

// send writes data to fd, or appends it behind earlier unsent bytes so the
// connection's outbound stream is never reordered. A remainder the socket
// cannot take now is kept in the outbox.
func (e *egress) send(fd int, serial uint32, kind frame.Kind, data []byte) {
	sess := e.s.registry.Pin(fd, serial)
	if sess == nil {
		return
	}
	defer sess.Release()

	ob := e.outboxes[fd]
	if ob != nil && ob.serial != sess.Serial {
		e.discard(fd)
		ob = nil
	}

	e.s.metrics.FramesOut.WithLabelValues(kind.String()).Inc()

	if ob != nil && len(ob.buf) > 0 {
		if len(ob.buf)+len(data) > cap(ob.buf) {
			e.evict(sess, "send buffer overflow")
			return
		}
		ob.buf = append(ob.buf, data...)
		return
	}

	n, err := e.write(fd, data)
	if err != nil {
		e.evict(sess, err.Error())
		return
	}
	if n == len(data) {
		return
	}

	if ob == nil {
		ob = &outbox{serial: sess.Serial, buf: make([]byte, 0, e.s.cfg.SendBufferSize)}
		e.outboxes[fd] = ob
	}
	ob.buf = append(ob.buf[:0], data[n:]...)

	if err := e.s.outPoll.Add(fd, poller.Writable); err != nil {
		e.evict(sess, err.Error())
		return
	}
	e.pending.Add(fd)
}

// write writes as much of b as the socket takes without blocking.
//
// Returns:
//   - The number of bytes written
//   - nil if the socket would block, otherwise the write error
func (e *egress) write(fd int, b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := unix.Write(fd, b[written:])
		if n > 0 {
			written += n
			e.s.metrics.BytesWritten.Add(float64(n))
		}

		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return written, nil
		default:
			return written, err
		}
	}

	return written, nil
}

// flushWritable waits up to timeout for backlogged sockets to become
// writable and flushes them. Outboxes of sessions that disconnected in the
// meantime are dropped.
func (e *egress) flushWritable(timeout time.Duration) {
	events, err := e.s.outPoll.Wait(timeout)
	if err != nil {
		if !errors.Is(err, poller.ErrClosed) {
			e.log.Error("writable wait failed", logger.Err(err))
		}
		return
	}

	for _, ev := range events {
		e.flush(ev.Fd)
	}

	departed := e.pending.DrainFunc(func(fd int) bool {
		ob := e.outboxes[fd]
		if ob == nil {
			return true
		}
		sess := e.s.registry.Lookup(fd)
		return sess == nil || sess.Serial != ob.serial || !sess.Available()
	})
	for _, fd := range departed {
		delete(e.outboxes, fd)
		_ = e.s.outPoll.Remove(fd)
	}
}

func (e *egress) flush(fd int) {
	ob := e.outboxes[fd]
	if ob == nil {
		e.discard(fd)
		return
	}

	sess := e.s.registry.Pin(fd, ob.serial)
	if sess == nil {
		e.discard(fd)
		return
	}
	defer sess.Release()

	n, err := e.write(fd, ob.buf)
	ob.buf = ob.buf[:copy(ob.buf, ob.buf[n:])]
	if err != nil {
		e.evict(sess, err.Error())
		return
	}

	if len(ob.buf) == 0 {
		e.discard(fd)
	}
}

// discard forgets fd's outbox and writable registration.
func (e *egress) discard(fd int) {
	delete(e.outboxes, fd)
	if e.pending.Remove(fd) {
		_ = e.s.outPoll.Remove(fd)
	}
}

// evict forcibly disconnects a session whose socket cannot take any more
// bytes. Ingress observes the hangup and runs the ordinary disconnect path.
func (e *egress) evict(sess *registry.Session, reason string) {
	_ = unix.Shutdown(sess.Fd, unix.SHUT_RDWR)
	e.discard(sess.Fd)

	e.s.metrics.Evictions.Inc()
	e.failures.Do(func() {
		e.log.Warn("evicting peer",
			logger.Field{Key: "fd", Value: sess.Fd},
			logger.Field{Key: "id", Value: sess.ID},
			logger.Field{Key: "reason", Value: reason},
		)
	})
}

// close drops every outbox at teardown.
func (e *egress) close() {
	clear(e.outboxes)
	for _, fd := range e.pending.Drain() {
		_ = e.s.outPoll.Remove(fd)
	}
}
