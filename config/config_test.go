package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Port = 9000
	return cfg
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5000, cfg.PoolSize)
	assert.Equal(t, time.Second, cfg.PollTimeout)
	assert.Equal(t, 10240, cfg.RecvBufferSize)
	assert.Equal(t, CacheMemory, cfg.RosterCache.Backend)

	var cerr *Error
	require.ErrorAs(t, cfg.Validate(), &cerr)
	assert.Equal(t, "port", cerr.Field)

	valid := validConfig()
	assert.NoError(t, valid.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port too large", func(c *Config) { c.Port = 70000 }, "port"},
		{"bind not an ip", func(c *Config) { c.BindAddress = "localhost" }, "bind_address"},
		{"zero pool", func(c *Config) { c.PoolSize = 0 }, "pool_size"},
		{"zero events", func(c *Config) { c.MaxEvents = 0 }, "max_events"},
		{"tiny recv buffer", func(c *Config) { c.RecvBufferSize = 100 }, "recv_buffer_size"},
		{"tiny send buffer", func(c *Config) { c.SendBufferSize = 511 }, "send_buffer_size"},
		{"zero poll timeout", func(c *Config) { c.PollTimeout = 0 }, "poll_timeout"},
		{"zero egress interval", func(c *Config) { c.EgressPollInterval = 0 }, "egress_poll_interval"},
		{"bad sweep spec", func(c *Config) { c.SweepInterval = "every so often" }, "sweep_interval"},
		{"negative keepalive", func(c *Config) { c.KeepAlive.Count = -1 }, "keepalive"},
		{"unknown cache", func(c *Config) { c.RosterCache.Backend = "memcached" }, "roster_cache.backend"},
		{"redis without addr", func(c *Config) {
			c.RosterCache.Backend = CacheRedis
			c.RosterCache.RedisAddr = ""
		}, "roster_cache.redis_addr"},
		{"zero ttl", func(c *Config) { c.RosterCache.TTL = 0 }, "roster_cache.ttl"},
		{"negative cache timeout", func(c *Config) { c.RosterCache.Timeout = -time.Millisecond }, "roster_cache.timeout"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			var cerr *Error
			require.ErrorAs(t, cfg.Validate(), &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			assert.Contains(t, cerr.Error(), tt.field)
		})
	}

	t.Run("none cache ignores ttl", func(t *testing.T) {
		cfg := validConfig()
		cfg.RosterCache.Backend = CacheNone
		cfg.RosterCache.TTL = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("overlays present keys", func(t *testing.T) {
		path := filepath.Join(dir, "lobby.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
port: 7777
pool_size: 64
poll_timeout: 250ms
keepalive:
  idle: 30s
roster_cache:
  backend: redis
  redis_addr: cache:6379
log:
  format: json
`), 0o644))

		cfg := Default()
		require.NoError(t, LoadFile(path, &cfg))
		assert.Equal(t, 7777, cfg.Port)
		assert.Equal(t, 64, cfg.PoolSize)
		assert.Equal(t, 250*time.Millisecond, cfg.PollTimeout)
		assert.Equal(t, 30*time.Second, cfg.KeepAlive.Idle)
		assert.Equal(t, 3, cfg.KeepAlive.Count)
		assert.Equal(t, CacheRedis, cfg.RosterCache.Backend)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, "0.0.0.0", cfg.BindAddress)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		path := filepath.Join(dir, "typo.yaml")
		require.NoError(t, os.WriteFile(path, []byte("prot: 1\n"), 0o644))
		cfg := Default()
		assert.Error(t, LoadFile(path, &cfg))
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		cfg := Default()
		require.NoError(t, LoadFile(path, &cfg))
		assert.Equal(t, Default(), cfg)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := Default()
		assert.Error(t, LoadFile(filepath.Join(dir, "nope.yaml"), &cfg))
	})
}

func TestLoadFromEnv(t *testing.T) {
	cfg := Default()
	err := LoadFromEnv(&cfg, envMap(map[string]string{
		"LOBBY_PORT":             "8080",
		"LOBBY_LOG_LEVEL":        "debug",
		"LOBBY_POLL_TIMEOUT":     "2s",
		"LOBBY_LINGER_ZERO":      "false",
		"LOBBY_ROSTER_CACHE_TTL": "1m",
	}))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.PollTimeout)
	assert.False(t, cfg.LingerZero)
	assert.Equal(t, time.Minute, cfg.RosterCache.TTL)

	bad := []map[string]string{
		{"LOBBY_PORT": "eighty"},
		{"LOBBY_POLL_TIMEOUT": "soon"},
		{"LOBBY_LINGER_ZERO": "maybe"},
	}
	for _, env := range bad {
		cfg := Default()
		var cerr *Error
		assert.ErrorAs(t, LoadFromEnv(&cfg, envMap(env)), &cerr)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lobby.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 1000\npool_size: 10\nmax_events: 20\n"), 0o644))

	fs := pflag.NewFlagSet("lobbyd", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--pool-size", "30"}))

	cfg, err := Load(flags, envMap(map[string]string{
		"LOBBY_POOL_SIZE":  "20",
		"LOBBY_MAX_EVENTS": "40",
	}))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Port, "file")
	assert.Equal(t, 40, cfg.MaxEvents, "env beats file")
	assert.Equal(t, 30, cfg.PoolSize, "flag beats env")
}

func TestLoad_PositionalPort(t *testing.T) {
	fs := pflag.NewFlagSet("lobbyd", pflag.ContinueOnError)
	flags := RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{"4321"}))
	cfg, err := Load(flags, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, 4321, cfg.Port)

	fs = pflag.NewFlagSet("lobbyd", pflag.ContinueOnError)
	flags = RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"a", "b"}))
	_, err = Load(flags, envMap(nil))
	assert.Error(t, err)
}
