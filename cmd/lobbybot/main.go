// lobbybot connects a swarm of bots to a lobby server. Each bot joins with
// a random name, asks for the roster and then sends game updates at a fixed
// rate until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-lobby/frame"
	"github.com/cyberinferno/go-lobby/gameclient"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/utils"
)

type options struct {
	address  string
	bots     int
	interval time.Duration
	size     int
	duration time.Duration
	logLevel string
}

type counters struct {
	sent     atomic.Int64
	received atomic.Int64
	joined   atomic.Int64
	left     atomic.Int64
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "lobbybot: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	opts := options{}
	fs := flag.NewFlagSet("lobbybot", flag.ContinueOnError)
	fs.StringVarP(&opts.address, "address", "a", "127.0.0.1:7777", "lobby server host:port")
	fs.IntVarP(&opts.bots, "bots", "n", 10, "number of bots")
	fs.DurationVarP(&opts.interval, "interval", "i", 100*time.Millisecond, "delay between game updates per bot")
	fs.IntVarP(&opts.size, "size", "s", 64, "game update payload size in bytes")
	fs.DurationVarP(&opts.duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.bots <= 0 {
		return fmt.Errorf("--bots must be positive")
	}
	if opts.size < 0 || opts.size > frame.MaxPayloadSize {
		return fmt.Errorf("--size must be in 0..%d", frame.MaxPayloadSize)
	}

	log, err := logger.New(logger.Options{Service: "lobbybot", Level: opts.logLevel})
	if err != nil {
		return err
	}
	defer log.Close()

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	stats := &counters{}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.bots; i++ {
		g.Go(func() error {
			return runBot(ctx, opts, stats, log.With(logger.Field{Key: "bot", Value: i}))
		})
	}

	err = g.Wait()
	log.Info("swarm finished",
		logger.Field{Key: "updates_sent", Value: stats.sent.Load()},
		logger.Field{Key: "updates_received", Value: stats.received.Load()},
		logger.Field{Key: "joins_seen", Value: stats.joined.Load()},
		logger.Field{Key: "departures_seen", Value: stats.left.Load()},
	)

	return err
}

func runBot(ctx context.Context, opts options, stats *counters, log logger.Logger) error {
	assigned := make(chan struct{})
	var once atomic.Bool

	client := gameclient.New(gameclient.DefaultConfig(opts.address))
	client.OnFrame(func(ev gameclient.FrameEvent) {
		switch b := ev.Body.(type) {
		case frame.IdentityAssign:
			if once.CompareAndSwap(false, true) {
				close(assigned)
			}
		case frame.PeerRoster:
			log.Debug("roster", logger.Field{Key: "peers", Value: len(b.Peers)})
		case frame.PeerJoined:
			stats.joined.Add(1)
		case frame.PeerLeft:
			stats.left.Add(1)
		case frame.GameUpdate:
			stats.received.Add(1)
		}
	})
	client.OnError(func(ev gameclient.ErrorEvent) {
		log.Debug("client error", logger.Err(ev.Error))
	})

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	select {
	case <-assigned:
	case <-ctx.Done():
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("no identity assigned within 10s")
	}

	name := "bot-" + utils.GenerateRandomString(8)
	if err := client.Ready(name); err != nil {
		return err
	}
	if err := client.RequestRoster(); err != nil {
		return err
	}
	log.Info("bot joined", logger.Field{Key: "name", Value: name}, logger.Field{Key: "id", Value: client.ID()})

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := client.SendUpdate(utils.FixedString(name, opts.size)); err != nil {
				if errors.Is(err, gameclient.ErrNotConnected) {
					log.Warn("disconnected by server")
					return nil
				}
				return err
			}
			stats.sent.Add(1)
		}
	}
}
