//go:build linux

// lobbyd serves the lobby protocol on a TCP port.
//
//	lobbyd 7777
//	lobbyd --config lobby.yaml --metrics-addr :9100
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/cyberinferno/go-lobby/config"
	"github.com/cyberinferno/go-lobby/logger"
	"github.com/cyberinferno/go-lobby/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "lobbyd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lobbyd", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lobbyd [flags] [PORT]\n\n")
		fs.PrintDefaults()
	}
	flags := config.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flags, os.Getenv)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Service: cfg.Log.Service,
		Level:   cfg.Log.Level,
		Format:  logger.Format(cfg.Log.Format),
		Dir:     cfg.Log.Dir,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	srv, err := server.New(cfg, server.WithLogger(log))
	if err != nil {
		log.Error("startup failed", logger.Err(err))
		return err
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("server failed", logger.Err(err))
		return err
	}

	return nil
}
