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
	"github.com/cyberinferno/go-lobby/tcpserver"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// stallRetry bounds the readiness wait while some work is deferred on pool
// exhaustion.
const stallRetry = 10 * time.Millisecond

// inbound is the ingress-owned state of one connection.
type inbound struct {
	sess   *registry.Session
	rx     *reassembler
	hangup bool
}

// departure is a PEER_LEFT notice that could not be queued yet.
type departure struct {
	sess *registry.Session
}

// ingress accepts connections, reads sockets and publishes reassembled
// frames to the ready queue. Everything here runs on one goroutine.
type ingress struct {
	s   *Server
	log logger.Logger

	conns         map[int]*inbound
	stalled       map[int]struct{}
	acceptStalled bool
	departures    []departure

	exhausted    rate.Sometimes
	acceptFailed rate.Sometimes
}

func newIngress(s *Server) *ingress {
	return &ingress{
		s:         s,
		log:       s.log.With(logger.Field{Key: "component", Value: "ingress"}),
		conns:     make(map[int]*inbound),
		stalled:   make(map[int]struct{}),
		exhausted:    rate.Sometimes{Interval: time.Second},
		acceptFailed: rate.Sometimes{Interval: time.Second},
	}
}

func (in *ingress) run(ctx context.Context) error {
	in.log.Info("ingress started", logger.Field{Key: "addr", Value: in.s.listener.Addr().String()})

	for ctx.Err() == nil {
		timeout := in.s.cfg.PollTimeout
		if in.pendingRetries() {
			timeout = min(timeout, stallRetry)
		}

		events, err := in.s.inPoll.Wait(timeout)
		if err != nil {
			if errors.Is(err, poller.ErrClosed) {
				return nil
			}
			return err
		}

		for _, ev := range events {
			if ev.Fd == in.s.listener.Fd() {
				in.acceptAll()
				continue
			}
			in.readable(ev.Fd)
		}

		in.retry()
	}

	in.log.Info("ingress stopped")
	return nil
}

func (in *ingress) pendingRetries() bool {
	return in.acceptStalled || len(in.stalled) > 0 || len(in.departures) > 0
}

// retry re-runs work deferred on pool exhaustion.
func (in *ingress) retry() {
	pending := in.departures
	in.departures = nil
	for _, d := range pending {
		in.announceDeparture(d.sess)
	}

	if in.acceptStalled {
		in.acceptStalled = false
		in.acceptAll()
	}

	for fd := range in.stalled {
		delete(in.stalled, fd)
		in.readable(fd)
	}
}

// acceptAll accepts until the listener would block. The listener is
// edge-triggered, so stopping early for any other reason sets acceptStalled.
func (in *ingress) acceptAll() {
	for {
		buf, err := in.s.pool.Acquire()
		if err != nil {
			in.acceptStalled = true
			in.s.metrics.PoolExhausted.WithLabelValues("accept").Inc()
			in.exhausted.Do(func() {
				in.log.Warn("message pool exhausted, deferring accept")
			})
			return
		}

		done, err := in.acceptOne(buf)
		if err != nil {
			var aerr *AcceptError
			if errors.As(err, &aerr) {
				in.s.metrics.AcceptErrors.WithLabelValues(string(aerr.Stage)).Inc()
			}
			if aerr != nil && aerr.Stage == StageAccept {
				// Retried every stall cycle until descriptors free up.
				in.acceptFailed.Do(func() {
					in.log.Error("accept failing, retrying", logger.Err(err))
				})
			} else {
				in.log.Error("connection attempt abandoned", logger.Err(err))
			}
		}
		if done {
			return
		}
	}
}

// acceptOne accepts a single connection into buf. On success buf carries
// the IDENTITY_ASSIGN frame to the ready queue; otherwise it is released.
//
// Returns:
//   - true once nothing more can be accepted this cycle
//   - An *AcceptError describing an abandoned attempt
func (in *ingress) acceptOne(buf *bufferpool.Message) (bool, error) {
	fd, remote, err := in.s.listener.Accept()
	if err != nil {
		in.s.pool.Release(buf)
		if tcpserver.IsTemporary(err) {
			return errors.Is(err, unix.EAGAIN), nil
		}

		// Descriptor exhaustion and similar: try again on the next cycle.
		in.acceptStalled = true
		return true, &AcceptError{Stage: StageAccept, Err: err}
	}

	fail := func(stage AcceptStage, err error) (bool, error) {
		in.s.pool.Release(buf)
		_ = unix.Close(fd)
		return false, &AcceptError{Stage: stage, Err: err}
	}

	if err := tcpserver.ConfigureConn(fd, in.s.connOpts); err != nil {
		return fail(StageConfigure, err)
	}

	id := in.s.newID()
	if len(id) != frame.IdentityLen {
		return fail(StageIdentity, errBadIdentity(id))
	}

	serial := in.s.serials.Next()
	sess, err := in.s.registry.Add(id, fd, serial)
	if err != nil {
		return fail(StageRegister, err)
	}

	in.conns[fd] = &inbound{sess: sess, rx: newReassembler(in.s.cfg.RecvBufferSize)}
	if err := in.s.inPoll.Add(fd, poller.Readable); err != nil {
		delete(in.conns, fd)
		in.s.registry.Remove(fd)
		return fail(StagePoll, err)
	}

	_ = buf.SetPayload([]byte(id))
	buf.Seal(frame.KindIdentityAssign)
	buf.Conn = fd
	buf.Serial = serial
	buf.Local = true
	sess.Hold()
	in.s.pool.Ready().Push(buf)

	in.s.metrics.Accepted.Inc()
	in.log.Info("connection accepted",
		logger.Field{Key: "fd", Value: fd},
		logger.Field{Key: "remote", Value: remote.String()},
		logger.Field{Key: "id", Value: id},
	)

	return false, nil
}

// readable drains the socket, publishes every complete frame and detects
// disconnects. It is also the retry entry point for stalled connections.
func (in *ingress) readable(fd int) {
	c := in.conns[fd]
	if c == nil {
		return
	}

	sess := in.s.registry.Pin(fd, c.sess.Serial)
	if sess == nil {
		return
	}
	defer sess.Release()

	for {
		full := in.fill(fd, c)
		if !in.drain(fd, c) {
			return
		}
		if _, stalled := in.stalled[fd]; stalled {
			return
		}
		if !full {
			break
		}
	}

	if !c.hangup {
		if state, err := tcpserver.ConnState(fd); err != nil || state.PeerGone() {
			c.hangup = true
		}
	}

	if c.hangup {
		in.disconnect(fd, c)
	}
}

// fill reads until the socket would block, reports EOF or the accumulator
// is full.
//
// Returns:
//   - true if it stopped because the accumulator is full
func (in *ingress) fill(fd int, c *inbound) bool {
	for !c.hangup {
		if c.rx.full() {
			return true
		}

		n, err := unix.Read(fd, c.rx.space())
		switch {
		case n > 0:
			c.rx.commit(n)
			in.s.metrics.BytesRead.Add(float64(n))
		case err == nil:
			c.hangup = true
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			return false
		default:
			in.log.Debug("read failed", logger.Field{Key: "fd", Value: fd}, logger.Err(err))
			c.hangup = true
		}
	}

	return false
}

// drain publishes every complete buffered frame.
//
// Returns:
//   - false if the connection was dropped for a protocol violation
func (in *ingress) drain(fd int, c *inbound) bool {
	for {
		m, err := c.rx.next(in.s.pool.Acquire)
		if errors.Is(err, bufferpool.ErrPoolExhausted) {
			in.stalled[fd] = struct{}{}
			in.s.metrics.PoolExhausted.WithLabelValues("read").Inc()
			in.exhausted.Do(func() {
				in.log.Warn("message pool exhausted, deferring read", logger.Field{Key: "fd", Value: fd})
			})
			return true
		}
		if err != nil {
			in.log.Warn("dropping connection",
				logger.Field{Key: "fd", Value: fd},
				logger.Field{Key: "id", Value: c.sess.ID},
				logger.Err(err),
			)
			in.disconnect(fd, c)
			return false
		}
		if m == nil {
			return true
		}

		m.Conn = fd
		m.Serial = c.sess.Serial
		c.sess.Hold()
		in.s.metrics.FramesIn.WithLabelValues(m.Header.Kind.String()).Inc()
		in.s.pool.Ready().Push(m)
	}
}

// disconnect unregisters fd, marks the session unavailable and, for joined
// sessions, announces the departure. The socket stays open until a sweep
// finds the session drained.
func (in *ingress) disconnect(fd int, c *inbound) {
	_ = in.s.inPoll.Remove(fd)
	_ = in.s.outPoll.Remove(fd)

	c.rx.reset(in.s.pool.Release)
	delete(in.conns, fd)
	delete(in.stalled, fd)

	if !in.s.registry.MarkUnavailable(c.sess) {
		return
	}

	in.s.metrics.Disconnects.Inc()
	in.log.Info("peer disconnected",
		logger.Field{Key: "fd", Value: fd},
		logger.Field{Key: "id", Value: c.sess.ID},
		logger.Field{Key: "name", Value: c.sess.Name()},
	)

	if c.sess.Ready() {
		// Held until the notice is queued so the session cannot be swept
		// and its socket number reused in between.
		c.sess.Hold()
		in.announceDeparture(c.sess)
	}
}

// announceDeparture queues PEER_LEFT for sess, consuming the hold taken by
// disconnect. On pool exhaustion the notice is retried later.
func (in *ingress) announceDeparture(sess *registry.Session) {
	m, err := in.s.pool.Acquire()
	if err != nil {
		in.departures = append(in.departures, departure{sess: sess})
		in.s.metrics.PoolExhausted.WithLabelValues("departure").Inc()
		return
	}

	_ = m.SetPayload(frame.PeerLeft{ID: sess.ID}.AppendPayload(nil))
	m.Seal(frame.KindPeerLeft)
	m.Conn = sess.Fd
	m.Serial = sess.Serial
	m.Local = true
	in.s.pool.Ready().Push(m)
}

// close releases ingress-owned slots at teardown.
func (in *ingress) close() {
	for fd, c := range in.conns {
		c.rx.reset(in.s.pool.Release)
		delete(in.conns, fd)
	}
	for _, d := range in.departures {
		d.sess.Release()
	}
	in.departures = nil
}
