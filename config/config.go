// Package config loads and validates the lobby server configuration.
//
// Precedence (highest wins): command-line flags, LOBBY_* environment
// variables, the YAML file, built-in defaults.
package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/cyberinferno/go-lobby/frame"
	"github.com/robfig/cron/v3"
)

// Config is the complete server configuration.
type Config struct {
	Port          int    `yaml:"port"`
	BindAddress   string `yaml:"bind_address"`
	ListenBacklog int    `yaml:"listen_backlog"`

	PoolSize           int           `yaml:"pool_size"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	EgressPollInterval time.Duration `yaml:"egress_poll_interval"`
	MaxEvents          int           `yaml:"max_events"`
	RecvBufferSize     int           `yaml:"recv_buffer_size"`
	SendBufferSize     int           `yaml:"send_buffer_size"`
	SweepInterval      string        `yaml:"sweep_interval"`

	KeepAlive  KeepAlive `yaml:"keepalive"`
	LingerZero bool      `yaml:"linger_zero"`

	RosterCache RosterCache `yaml:"roster_cache"`
	MetricsAddr string      `yaml:"metrics_addr"`
	Log         Log         `yaml:"log"`
}

// KeepAlive tunes TCP keepalive on accepted sockets.
type KeepAlive struct {
	Idle     time.Duration `yaml:"idle"`
	Interval time.Duration `yaml:"interval"`
	Count    int           `yaml:"count"`
}

// RosterCache selects where roster snapshots are cached.
type RosterCache struct {
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	// Timeout bounds one lookup made by the dispatcher; on expiry the
	// registry is scanned directly.
	Timeout   time.Duration `yaml:"timeout"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
}

// Log configures the logger package.
type Log struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Dir     string `yaml:"dir"`
	Service string `yaml:"service"`
}

// Roster cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Default returns the built-in configuration. Port is left at zero and must
// be supplied.
func Default() Config {
	return Config{
		BindAddress:        "0.0.0.0",
		ListenBacklog:      128,
		PoolSize:           5000,
		PollTimeout:        time.Second,
		EgressPollInterval: 5 * time.Millisecond,
		MaxEvents:          500,
		RecvBufferSize:     10240,
		SendBufferSize:     10240,
		SweepInterval:      "@every 5s",
		KeepAlive: KeepAlive{
			Idle:     60 * time.Second,
			Interval: 5 * time.Second,
			Count:    3,
		},
		LingerZero: true,
		RosterCache: RosterCache{
			Backend:   CacheMemory,
			TTL:       30 * time.Second,
			Timeout:   50 * time.Millisecond,
			RedisAddr: "localhost:6379",
		},
		Log: Log{
			Level:   "info",
			Format:  "console",
			Service: "lobbyd",
		},
	}
}

// Error describes one invalid setting.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Message)
}

// Validate checks every field and returns the first problem as an *Error.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &Error{"port", c.Port, "must be in 1..65535"}
	}

	if _, err := netip.ParseAddr(c.BindAddress); err != nil {
		return &Error{"bind_address", c.BindAddress, "must be an IP literal"}
	}

	positive := []struct {
		field string
		value int
	}{
		{"listen_backlog", c.ListenBacklog},
		{"pool_size", c.PoolSize},
		{"max_events", c.MaxEvents},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &Error{p.field, p.value, "must be positive"}
		}
	}

	if c.RecvBufferSize < frame.MaxFrameSize {
		return &Error{"recv_buffer_size", c.RecvBufferSize, fmt.Sprintf("must hold one frame (%d bytes)", frame.MaxFrameSize)}
	}
	if c.SendBufferSize < frame.MaxFrameSize {
		return &Error{"send_buffer_size", c.SendBufferSize, fmt.Sprintf("must hold one frame (%d bytes)", frame.MaxFrameSize)}
	}

	if c.PollTimeout <= 0 {
		return &Error{"poll_timeout", c.PollTimeout, "must be positive"}
	}
	if c.EgressPollInterval <= 0 {
		return &Error{"egress_poll_interval", c.EgressPollInterval, "must be positive"}
	}

	if _, err := cron.ParseStandard(c.SweepInterval); err != nil {
		return &Error{"sweep_interval", c.SweepInterval, err.Error()}
	}

	if c.KeepAlive.Idle < 0 || c.KeepAlive.Interval < 0 || c.KeepAlive.Count < 0 {
		return &Error{"keepalive", c.KeepAlive, "must not be negative"}
	}

	switch c.RosterCache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.RosterCache.RedisAddr == "" {
			return &Error{"roster_cache.redis_addr", "", "required for the redis backend"}
		}
	default:
		return &Error{"roster_cache.backend", c.RosterCache.Backend, "must be memory, redis or none"}
	}
	if c.RosterCache.Backend != CacheNone && c.RosterCache.TTL <= 0 {
		return &Error{"roster_cache.ttl", c.RosterCache.TTL, "must be positive"}
	}
	if c.RosterCache.Timeout < 0 {
		return &Error{"roster_cache.timeout", c.RosterCache.Timeout, "must not be negative"}
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return &Error{"log.format", c.Log.Format, "must be console or json"}
	}

	return nil
}
