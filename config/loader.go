package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LoadFile overlays the YAML document at path onto cfg. Keys absent from the
// document keep their current values; unknown keys are rejected.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	return nil
}

// LoadFromEnv overlays LOBBY_* variables onto cfg. Only non-empty variables
// override. lookup is normally os.Getenv.
func LoadFromEnv(cfg *Config, lookup func(string) string) error {
	strs := map[string]*string{
		"LOBBY_BIND_ADDRESS":            &cfg.BindAddress,
		"LOBBY_SWEEP_INTERVAL":          &cfg.SweepInterval,
		"LOBBY_ROSTER_CACHE_BACKEND":    &cfg.RosterCache.Backend,
		"LOBBY_ROSTER_CACHE_REDIS_ADDR": &cfg.RosterCache.RedisAddr,
		"LOBBY_METRICS_ADDR":            &cfg.MetricsAddr,
		"LOBBY_LOG_LEVEL":               &cfg.Log.Level,
		"LOBBY_LOG_FORMAT":              &cfg.Log.Format,
		"LOBBY_LOG_DIR":                 &cfg.Log.Dir,
		"LOBBY_LOG_SERVICE":             &cfg.Log.Service,
	}
	for key, dst := range strs {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LOBBY_PORT":                  &cfg.Port,
		"LOBBY_POOL_SIZE":             &cfg.PoolSize,
		"LOBBY_LISTEN_BACKLOG":        &cfg.ListenBacklog,
		"LOBBY_MAX_EVENTS":            &cfg.MaxEvents,
		"LOBBY_RECV_BUFFER_SIZE":      &cfg.RecvBufferSize,
		"LOBBY_SEND_BUFFER_SIZE":      &cfg.SendBufferSize,
		"LOBBY_ROSTER_CACHE_REDIS_DB": &cfg.RosterCache.RedisDB,
	}
	for key, dst := range ints {
		v := lookup(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{key, v, "must be an integer"}
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"LOBBY_POLL_TIMEOUT":         &cfg.PollTimeout,
		"LOBBY_EGRESS_POLL_INTERVAL": &cfg.EgressPollInterval,
		"LOBBY_ROSTER_CACHE_TTL":     &cfg.RosterCache.TTL,
		"LOBBY_ROSTER_CACHE_TIMEOUT": &cfg.RosterCache.Timeout,
	}
	for key, dst := range durations {
		v := lookup(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return &Error{key, v, "must be a duration"}
		}
		*dst = d
	}

	if v := lookup("LOBBY_LINGER_ZERO"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			cfg.LingerZero = true
		case "0", "false", "no":
			cfg.LingerZero = false
		default:
			return &Error{"LOBBY_LINGER_ZERO", v, "must be a boolean"}
		}
	}

	return nil
}

// Flags holds the command-line overrides registered by RegisterFlags.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath  string
	port        int
	bindAddress string
	poolSize    int
	metricsAddr string
	logLevel    string
	logFormat   string
	logDir      string
	cacheMode   string
}

// RegisterFlags defines the server flags on fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "YAML configuration file")
	fs.IntVarP(&f.port, "port", "p", 0, "TCP port to listen on")
	fs.StringVar(&f.bindAddress, "bind", "", "address to bind (default 0.0.0.0)")
	fs.IntVar(&f.poolSize, "pool-size", 0, "number of message slots")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "console or json")
	fs.StringVar(&f.logDir, "log-dir", "", "also write daily log files here")
	fs.StringVar(&f.cacheMode, "roster-cache", "", "roster cache backend: memory, redis or none")
	return f
}

// Apply overlays every flag the user set explicitly onto cfg.
func (f *Flags) Apply(cfg *Config) {
	set := func(name string, apply func()) {
		if f.fs.Changed(name) {
			apply()
		}
	}

	set("port", func() { cfg.Port = f.port })
	set("bind", func() { cfg.BindAddress = f.bindAddress })
	set("pool-size", func() { cfg.PoolSize = f.poolSize })
	set("metrics-addr", func() { cfg.MetricsAddr = f.metricsAddr })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-format", func() { cfg.Log.Format = f.logFormat })
	set("log-dir", func() { cfg.Log.Dir = f.logDir })
	set("roster-cache", func() { cfg.RosterCache.Backend = f.cacheMode })
}

// Load builds the effective configuration: defaults, then the file named by
// --config, then the environment, then explicit flags. A single positional
// argument is accepted as the port, matching the classic "lobbyd PORT" usage.
func Load(f *Flags, lookup func(string) string) (Config, error) {
	cfg := Default()

	if f.ConfigPath != "" {
		if err := LoadFile(f.ConfigPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := LoadFromEnv(&cfg, lookup); err != nil {
		return cfg, err
	}

	f.Apply(&cfg)

	if args := f.fs.Args(); len(args) > 0 {
		if len(args) > 1 {
			return cfg, &Error{"args", args, "expected at most one positional argument (port)"}
		}
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return cfg, &Error{"port", args[0], "must be an integer"}
		}
		cfg.Port = port
	}

	return cfg, cfg.Validate()
}
