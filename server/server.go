//go:build linux

// Package server runs the lobby: an ingress engine that accepts and reads
// connections, a dispatcher that applies the lobby rules, and an egress
// engine that writes frames back out. The three stages share a fixed pool
// of message slots and a session registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-lobby/bufferpool"
	"github.com/cyberinferno/go-lobby/cacher"
	"github.com/cyberinferno/go-lobby/config"
	"github.com/cyberinferno/go-lobby/frame"
	"github.com/cyberinferno/go-lobby/idgenerator"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/metrics"
	"github.com/cyberinferno/go-lobby/perfmonitor"
	"github.com/cyberinferno/go-lobby/poller"
	"github.com/cyberinferno/go-lobby/registry"
	"github.com/cyberinferno/go-lobby/tcpserver"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Server is the lobby server context. It is created with New, driven with
// Run and cannot be restarted.
type Server struct {
	cfg      config.Config
	log      logger.Logger
	metrics  *metrics.Metrics
	connOpts tcpserver.ConnOptions

	pool     *bufferpool.Pool
	registry *registry.Registry
	inPoll   *poller.Poller
	outPoll  *poller.Poller
	listener *tcpserver.Listener

	serials  *idgenerator.Generator
	newID    func() string
	instance string

	rosters    cacher.Cacher[[]frame.Peer]
	rosterWarn rate.Sometimes

	ingress    *ingress
	dispatcher *dispatcher
	egress     *egress

	running   atomic.Bool
	closeOnce sync.Once
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics sets the collectors the server reports to. Each Server needs
// its own Metrics since it registers gauges on it.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithIdentity replaces the identity generator. fn must return unique
// tokens of exactly frame.IdentityLen bytes.
func WithIdentity(fn func() string) Option {
	return func(s *Server) {
		s.newID = fn
	}
}

// WithRosterCache replaces the roster cache built from the configuration.
// The server closes it on shutdown.
func WithRosterCache(c cacher.Cacher[[]frame.Peer]) Option {
	return func(s *Server) {
		s.rosters = c
	}
}

// New creates the pool, both readiness sets and the listening socket.
// Connections may queue on the listener as soon as New returns.
//
// Parameters:
//   - cfg: The server configuration; Port 0 picks an ephemeral port
//   - opts: Optional overrides
//
// Returns:
//   - The Server
//   - An error if any startup resource cannot be created
func New(cfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		log:        logger.NewNop(),
		serials:    idgenerator.New(0),
		newID:      uuid.NewString,
		instance:   uuid.NewString(),
		rosterWarn: rate.Sometimes{Interval: time.Second},
		connOpts: tcpserver.ConnOptions{
			NoDelay:           true,
			KeepAlive:         cfg.KeepAlive.Idle > 0,
			KeepAliveIdle:     cfg.KeepAlive.Idle,
			KeepAliveInterval: cfg.KeepAlive.Interval,
			KeepAliveCount:    cfg.KeepAlive.Count,
			LingerZero:        cfg.LingerZero,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	var err error
	if s.pool, err = bufferpool.New(cfg.PoolSize); err != nil {
		return nil, fmt.Errorf("server: message pool: %w", err)
	}

	if s.inPoll, err = poller.New(cfg.MaxEvents); err != nil {
		return nil, fmt.Errorf("server: ingress readiness set: %w", err)
	}
	if s.outPoll, err = poller.New(cfg.MaxEvents); err != nil {
		_ = s.inPoll.Close()
		return nil, fmt.Errorf("server: egress readiness set: %w", err)
	}

	if s.listener, err = tcpserver.Listen(cfg.BindAddress, cfg.Port, cfg.ListenBacklog); err != nil {
		_ = s.inPoll.Close()
		_ = s.outPoll.Close()
		return nil, err
	}
	if err := s.inPoll.Add(s.listener.Fd(), poller.Readable); err != nil {
		_ = s.listener.Close()
		_ = s.inPoll.Close()
		_ = s.outPoll.Close()
		return nil, fmt.Errorf("server: register listener: %w", err)
	}

	if s.rosters == nil {
		if s.rosters, err = NewRosterCache(cfg.RosterCache); err != nil {
			_ = s.listener.Close()
			_ = s.inPoll.Close()
			_ = s.outPoll.Close()
			return nil, err
		}
	}

	s.registry = registry.New(s.closeSession)
	s.ingress = newIngress(s)
	s.dispatcher = newDispatcher(s)
	s.egress = newEgress(s)

	s.metrics.ObservePool(func() metrics.PoolStats {
		st := s.pool.Stats()
		return metrics.PoolStats{Free: st.Free, Ready: st.Ready, Work: st.Work, Assigned: st.Assigned}
	})
	s.metrics.ObserveGauge("sessions", "Registered sessions, including disconnected ones not yet swept", s.registry.Len)
	s.metrics.ObserveGauge("sessions_available", "Sessions still connected", s.registry.Available)
	s.metrics.ObserveGauge("pending_writers", "Connections with unsent buffered bytes", s.egress.Pending)

	return s, nil
}

// Addr returns the address the listener is bound to.
func (s *Server) Addr() netip.AddrPort {
	return s.listener.Addr()
}

// Stats is a point-in-time view of the server's resources.
type Stats struct {
	Sessions       int
	Available      int
	PendingWriters int
	Pool           bufferpool.Stats
}

// Stats returns current resource usage.
func (s *Server) Stats() Stats {
	return Stats{
		Sessions:       s.registry.Len(),
		Available:      s.registry.Available(),
		PendingWriters: s.egress.Pending(),
		Pool:           s.pool.Stats(),
	}
}

// Run starts the three stages, the periodic sweep and, if configured, the
// metrics endpoint, and blocks until ctx is cancelled or a stage fails.
// Every socket and the pool are released before Run returns.
//
// Returns:
//   - nil after a clean shutdown
//   - ErrAlreadyRunning if Run was called before
//   - The first stage error otherwise
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.Close()

	sched := cron.New()
	if _, err := sched.AddFunc(s.cfg.SweepInterval, s.sweep); err != nil {
		return fmt.Errorf("server: sweep schedule %q: %w", s.cfg.SweepInterval, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ingress.run(ctx) })
	g.Go(func() error { return s.dispatcher.run(ctx) })
	g.Go(func() error { return s.egress.run(ctx) })

	sched.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	if s.cfg.MetricsAddr != "" {
		s.serveMetrics(ctx, g)
	}

	s.log.Info("server running",
		logger.Field{Key: "addr", Value: s.Addr().String()},
		logger.Field{Key: "pool_size", Value: s.pool.Size()},
		logger.Field{Key: "instance", Value: s.instance},
	)

	return g.Wait()
}

func (s *Server) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())

	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: metrics endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// sweep reclaims drained, disconnected sessions.
func (s *Server) sweep() {
	var removed int
	mon := perfmonitor.Measure(func() { removed = s.registry.Sweep() })

	mon.ObserveTo(s.metrics.SweepDuration)
	if removed > 0 {
		s.metrics.SweepRemoved.Add(float64(removed))
		s.log.Debug("sessions reclaimed",
			logger.Field{Key: "removed", Value: removed},
			logger.Field{Key: "elapsed_ms", Value: mon.ElapsedMilliseconds()},
		)
	}
}

// closeSession is the registry's removal hook: the socket leaves both
// readiness sets and is closed.
func (s *Server) closeSession(sess *registry.Session) {
	_ = s.inPoll.Remove(sess.Fd)
	_ = s.outPoll.Remove(sess.Fd)
	if err := unix.Close(sess.Fd); err != nil {
		s.log.Warn("close failed", logger.Field{Key: "fd", Value: sess.Fd}, logger.Err(err))
	}
}

// Close releases every socket, both readiness sets, the pool and the roster
// cache. Run calls it on return; call it directly only for a Server that was
// never run.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.egress.close()
		s.ingress.close()

		for _, sess := range s.registry.Drain() {
			_ = unix.Close(sess.Fd)
		}

		err = errors.Join(s.listener.Close(), s.inPoll.Close(), s.outPoll.Close())
		s.pool.Reclaim()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, derr := s.rosters.DeleteByPrefix(ctx, s.instance); derr != nil {
			s.log.Warn("roster cache cleanup failed", logger.Err(derr))
		}
		err = errors.Join(err, s.rosters.Close())

		s.log.Info("server stopped")
	})

	return err
}
