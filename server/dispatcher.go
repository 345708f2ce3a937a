//go:build linux

package server

import (
	"context"
	"time"

	"github.com/cyberinferno/go-lobby/bufferpool"
	"github.com/cyberinferno/go-lobby/frame"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/registry"
	"golang.org/x/time/rate"
)

// Reasons a frame is dropped by the dispatcher, used as metric labels.
const (
	dropStale       = "stale"
	dropServerOnly  = "server_only"
	dropMalformed   = "malformed"
	dropUnavailable = "unavailable"
	dropIdentity    = "identity_mismatch"
)

// dispatcher applies the lobby rules to every frame on the ready queue and
// forwards the resulting frames to the work queue. It never touches sockets.
type dispatcher struct {
	s   *Server
	log logger.Logger

	malformed rate.Sometimes
}

func newDispatcher(s *Server) *dispatcher {
	return &dispatcher{
		s:         s,
		log:       s.log.With(logger.Field{Key: "component", Value: "dispatcher"}),
		malformed: rate.Sometimes{Interval: time.Second},
	}
}

func (d *dispatcher) run(ctx context.Context) error {
	d.log.Info("dispatcher started")

	for {
		m, err := d.s.pool.Ready().Take(ctx)
		if err != nil {
			d.log.Info("dispatcher stopped")
			return nil
		}

		d.handle(ctx, m)
	}
}

// handle consumes m: it either forwards it to the work queue, carrying the
// session hold taken by ingress, or drops it and releases that hold.
func (d *dispatcher) handle(ctx context.Context, m *bufferpool.Message) {
	sess := d.s.registry.Lookup(m.Conn)
	if sess == nil || sess.Serial != m.Serial {
		d.s.metrics.FramesDropped.WithLabelValues(dropStale).Inc()
		d.s.pool.Release(m)
		return
	}

	kind := m.Header.Kind
	if kind.ServerOnly() && !m.Local {
		d.drop(m, sess, dropServerOnly, "client sent a server-only frame")
		return
	}

	body, err := frame.ParseBody(kind, m.Payload())
	if err != nil {
		d.drop(m, sess, dropMalformed, err.Error())
		return
	}

	switch b := body.(type) {
	case frame.IdentityAssign:
		if d.s.registry.LookupID(b.ID) != sess {
			d.drop(m, sess, dropIdentity, "identity not registered to this connection")
			return
		}
		d.forward(m, kind)

	case frame.IdentityCertify:
		if !sess.Available() {
			d.drop(m, sess, dropUnavailable, "")
			return
		}
		d.s.sweep()
		payload := d.s.roster(ctx, sess)
		_ = m.SetPayload(payload)
		d.forward(m, frame.KindPeerRoster)

	case frame.ClientReady:
		if b.ID != sess.ID {
			d.drop(m, sess, dropIdentity, "client ready names another identity")
			return
		}
		if err := d.s.registry.SetName(b.ID, b.Name); err != nil {
			d.drop(m, sess, dropUnavailable, err.Error())
			return
		}
		d.log.Info("peer joined",
			logger.Field{Key: "id", Value: b.ID},
			logger.Field{Key: "name", Value: b.Name},
		)
		_ = m.SetPayload(frame.PeerJoined{Peer: b.Peer}.AppendPayload(nil))
		d.forward(m, frame.KindPeerJoined)

	case frame.PeerLeft:
		d.forward(m, kind)

	case frame.GameUpdate:
		if !sess.Available() {
			d.drop(m, sess, dropUnavailable, "")
			return
		}
		d.forward(m, kind)

	case frame.PeerRoster, frame.PeerJoined:
		// Produced by the dispatcher itself, never read from the ready queue.
		d.drop(m, sess, dropServerOnly, "unexpected server frame on ready queue")
	}
}

// forward stamps kind onto m and hands it to egress.
func (d *dispatcher) forward(m *bufferpool.Message, kind frame.Kind) {
	m.Seal(kind)
	d.s.pool.Work().Push(m)
}

func (d *dispatcher) drop(m *bufferpool.Message, sess *registry.Session, reason, detail string) {
	d.s.metrics.FramesDropped.WithLabelValues(reason).Inc()
	if detail != "" {
		d.malformed.Do(func() {
			d.log.Warn("frame dropped",
				logger.Field{Key: "reason", Value: reason},
				logger.Field{Key: "kind", Value: m.Header.Kind.String()},
				logger.Field{Key: "id", Value: sess.ID},
				logger.Field{Key: "detail", Value: detail},
			)
		})
	}

	sess.Release()
	d.s.pool.Release(m)
}
