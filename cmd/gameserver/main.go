package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/battlego/internal/config"
	"github.com/udisondev/battlego/internal/crypto"
	"github.com/udisondev/battlego/internal/presence"
	"github.com/udisondev/battlego/internal/protocol"
	"github.com/udisondev/battlego/internal/server"
	"github.com/udisondev/battlego/internal/webspect"
)

const ConfigPath = "config/gameserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("BATTLEGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("battlego server starting",
		"bind", cfg.BindAddress, "port", cfg.Port, "log_level", cfg.LogLevel)

	codec, err := protocol.NewCodec(crypto.DeriveKey(cfg.KeyPassphrase))
	if err != nil {
		return fmt.Errorf("creating packet codec: %w", err)
	}

	registry := presence.NewRegistry(cfg.ReconnectTimeoutDuration())

	g, ctx := errgroup.WithContext(ctx)

	var sinks []server.Sink
	if cfg.WebSpectatorAddr != "" {
		feed := webspect.NewFeed(cfg.WebSpectatorAddr)
		sinks = append(sinks, feed)
		g.Go(func() error {
			return feed.Run(ctx)
		})
	}

	srv := server.NewServer(cfg, codec, registry, sinks...)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	return g.Wait()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
