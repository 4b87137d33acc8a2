// Package main runs the room server: it loads configuration, starts the
// configured transport listeners and routes every connection into a relay
// match room.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/go-rooms/allocator"
	"github.com/cyberinferno/go-rooms/config"
	"github.com/cyberinferno/go-rooms/identity"
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/managedsocket"
	"github.com/cyberinferno/go-rooms/room"
	"github.com/cyberinferno/go-rooms/server"
	"github.com/cyberinferno/go-rooms/tcpserver"
	"github.com/cyberinferno/go-rooms/wsserver"
)

const serviceName = "roomserver"

func main() {
	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and ROOMS_ environment variables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	l, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer l.Close()

	srv := newServer(cfg, l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Info("starting room server",
		logger.Field{Key: "capacity", Value: cfg.Rooms.Capacity},
		logger.Field{Key: "backfill", Value: cfg.Rooms.Backfill})

	if err := srv.Run(ctx); err != nil {
		l.Error("room server failed", logger.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}

	l.Info("room server stopped")
}

func newLogger(cfg config.LoggingConfig) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Dir != "" {
		return logger.NewZerologFileLogger(serviceName, cfg.Dir, level)
	}

	if cfg.Format == "console" {
		return logger.NewConsoleLogger(serviceName, level), nil
	}

	return logger.NewJSONLogger(os.Stdout, serviceName, level), nil
}

// newServer wires the allocator and the enabled listeners from cfg.
func newServer(cfg config.Config, l logger.Logger) *server.Server {
	alloc := allocator.New(
		func(uint32) room.Game { return newRelayGame(l) },
		allocator.WithIdentities(identity.NewAllocator(cfg.Identity.Quarantine)),
		allocator.WithRoomOptions(
			room.WithCapacity(cfg.Rooms.Capacity),
			room.WithBackfill(cfg.Rooms.Backfill),
		),
		allocator.WithLogger(l),
	)

	t := cfg.Transport
	srv := server.New(
		server.WithAllocator(alloc),
		server.WithHost(cfg.Listeners.Host),
		server.WithLogger(l),
		server.WithRawConfig(tcpserver.RawConfig{
			Framing:      t.ParsedFraming(),
			MaxPayload:   t.MaxPayload,
			SendQueue:    t.SendQueue,
			WriteTimeout: t.WriteTimeout,
		}),
		server.WithFramedConfig(wsserver.Config{
			MaxPayload:       t.MaxPayload,
			SendQueue:        t.SendQueue,
			HandshakeTimeout: wsserver.DefaultConfig().HandshakeTimeout,
			WriteTimeout:     t.WriteTimeout,
		}),
		server.WithManagedConfig(managedsocket.Config{
			PingInterval: t.PingInterval,
			PingTimeout:  t.PingTimeout,
			MaxPayload:   t.MaxPayload,
			SendQueue:    t.SendQueue,
			WriteTimeout: t.WriteTimeout,
		}),
	)

	for _, b := range []struct {
		kind server.Kind
		port int
	}{
		{server.Managed, cfg.Listeners.Managed},
		{server.Framed, cfg.Listeners.Framed},
		{server.Raw, cfg.Listeners.Raw},
	} {
		if b.port == 0 {
			continue
		}
		if !srv.BindPort(b.kind, b.port) {
			l.Warn(fmt.Sprintf("%s listener port rejected", b.kind), logger.Field{Key: "port", Value: b.port})
		}
	}

	return srv
}
