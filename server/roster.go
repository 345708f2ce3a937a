//go:build linux

package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cyberinferno/go-lobby/cacher"
	"github.com/cyberinferno/go-lobby/config"
	"github.com/cyberinferno/go-lobby/frame"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/registry"
	"github.com/redis/go-redis/v9"
)

// rosterKeyPrefix namespaces roster snapshots in a shared Redis.
const rosterKeyPrefix = "lobby:"

// NewRosterCache builds the roster snapshot cache selected by cfg.
//
// Returns:
//   - The Cacher
//   - An error for an unknown backend
func NewRosterCache(cfg config.RosterCache) (cacher.Cacher[[]frame.Peer], error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return cacher.NewMemoryCacher[[]frame.Peer](cfg.TTL), nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return cacher.NewRedisCacher[[]frame.Peer](client, rosterKeyPrefix, cfg.TTL), nil
	case config.CacheNone, "":
		return cacher.NewNop[[]frame.Peer](), nil
	default:
		return nil, fmt.Errorf("server: unknown roster cache backend %q", cfg.Backend)
	}
}

// rosterKey identifies the snapshot of this server's registry at gen.
func (s *Server) rosterKey(gen uint64) string {
	return s.instance + ":roster:" + strconv.FormatUint(gen, 10)
}

// roster returns the PEER_ROSTER payload for requester: every other
// available joined peer. It is nil when fewer than two sessions are
// available. The joined set is cached per registry generation, so
// unchanged lobbies are not rescanned on every request.
func (s *Server) roster(ctx context.Context, requester *registry.Session) []byte {
	payload, omitted := s.registry.SerializeRoster(requester.Fd, func() []frame.Peer {
		return s.cachedPeers(ctx)
	})
	if omitted > 0 {
		s.log.Warn("roster truncated",
			logger.Field{Key: "id", Value: requester.ID},
			logger.Field{Key: "omitted", Value: omitted},
		)
	}

	return payload
}

// cachedPeers reads the joined set through the roster cache. A lookup that
// fails or outlives roster_cache.timeout falls back to a registry scan.
func (s *Server) cachedPeers(ctx context.Context) []frame.Peer {
	if d := s.cfg.RosterCache.Timeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	peers, err := s.rosters.GetOrFetch(ctx, s.rosterKey(s.registry.Generation()),
		func(context.Context) ([]frame.Peer, error) {
			return s.registry.Peers(), nil
		})
	if err != nil {
		s.rosterWarn.Do(func() {
			s.log.Warn("roster cache unavailable, scanning registry", logger.Err(err))
		})
		return s.registry.Peers()
	}

	return peers
}
