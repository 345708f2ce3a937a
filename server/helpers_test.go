//go:build linux

package server

import (
	"testing"

	"github.com/cyberinferno/go-lobby/bufferpool"
	"github.com/cyberinferno/go-lobby/cacher"
	"github.com/cyberinferno/go-lobby/config"
	"github.com/cyberinferno/go-lobby/frame"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/metrics"
	"github.com/cyberinferno/go-lobby/registry"
	"github.com/stretchr/testify/require"
)

const (
	idAlice = "0f8fad5b-d9cb-469f-a165-70867728950e"
	idBob   = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	idCarol = "16fd2706-8baf-433b-82eb-8c7fada847da"
)

// newTestServer builds a Server without sockets or readiness sets, enough
// to drive the dispatcher directly.
func newTestServer(t *testing.T, poolSize int) *Server {
	t.Helper()
	pool, err := bufferpool.New(poolSize)
	require.NoError(t, err)

	s := &Server{
		cfg:      config.Default(),
		log:      logger.NewNop(),
		metrics:  metrics.New(),
		pool:     pool,
		registry: registry.New(nil),
		instance: "test",
		rosters:  cacher.NewMemoryCacher[[]frame.Peer](config.Default().RosterCache.TTL),
	}
	s.dispatcher = newDispatcher(s)

	return s
}

// inject builds a frame as ingress would publish it, holding sess.
func inject(t *testing.T, s *Server, sess *registry.Session, body frame.Body, local bool) *bufferpool.Message {
	t.Helper()
	m, err := s.pool.Acquire()
	require.NoError(t, err)

	require.NoError(t, m.SetPayload(body.AppendPayload(nil)))
	m.Seal(body.Kind())
	m.Conn = sess.Fd
	m.Serial = sess.Serial
	m.Local = local
	sess.Hold()

	return m
}

func join(t *testing.T, s *Server, id string, fd int, serial uint32, name string) *registry.Session {
	t.Helper()
	sess, err := s.registry.Add(id, fd, serial)
	require.NoError(t, err)
	if name != "" {
		require.NoError(t, s.registry.SetName(id, name))
	}

	return sess
}
