package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/postrelay"
	"github.com/jpalmerr/postrelay/config"
	"github.com/jpalmerr/postrelay/internal/notify"
	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/internal/source"
	"github.com/jpalmerr/postrelay/usage"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates the CLI logger in the configured format and level.
func newLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// serveCmd starts polling.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll sources and relay new posts",
	Long: `Poll every enabled source that has a webhook and relay new posts.

On start each source gets an initial scan that forwards its two newest
items, then it is polled on its own interval. Only items created after the
source's last check are forwarded. The last check time is saved back to
the config file.

The relay runs until interrupted (Ctrl+C) or it receives SIGTERM.

Example:
  postrelay serve
  postrelay serve -c /etc/postrelay/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	registry, err := config.OpenRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := registry.Config()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(ctx, nil); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.Settings.LogFormat, cfg.Settings.LogLevel)
	logger.Info("config loaded",
		"path", registry.Path(),
		"sources", len(cfg.Sources),
		"notification_delay", cfg.Settings.Delay().String(),
	)

	meter, closeMeter, err := openMeter(ctx, cfg.Settings.UsageDB, logger)
	if err != nil {
		return err
	}
	defer closeMeter()

	client := poller.NewClient()
	defer client.Close()

	fetcher, err := newFetcher(ctx, cfg, registry, client, meter, logger)
	if err != nil {
		return err
	}

	factory := notify.NewFactory(client, meter, logger, notify.WithFlavor(flavorFor(registry)))

	opts := []postrelay.Option{
		postrelay.WithRegistry(registry),
		postrelay.WithFetcher(fetcher),
		postrelay.WithDelivererFactory(factory),
		postrelay.WithNotificationDelay(cfg.Settings.Delay()),
		postrelay.WithLogger(logger),
		postrelay.WithUsageMeter(meter),
	}
	if cfg.Settings.Port > 0 {
		opts = append(opts, postrelay.WithPort(cfg.Settings.Port))
	}

	relay, err := postrelay.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	return runGroup(ctx, relay, logger)
}

// runGroup runs the relay next to a signal handler. Whichever actor returns
// first interrupts the other; the relay then gets shutdownTimeout to drain
// in-flight ticks.
func runGroup(ctx context.Context, relay *postrelay.Relay, logger *slog.Logger) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	relayCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.Add(func() error {
		defer close(done)
		return relay.Start(relayCtx)
	}, func(error) {
		cancel()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
		}
	})

	err := g.Run()
	var sig run.SignalError
	if err == nil || errors.As(err, &sig) || errors.Is(err, context.Canceled) {
		logger.Info("shutdown complete")
		return nil
	}
	return fmt.Errorf("relay error: %w", err)
}

// openMeter opens the usage database, or an in-memory meter when path is
// empty. The returned func releases it.
func openMeter(ctx context.Context, path string, logger *slog.Logger) (usage.Meter, func(), error) {
	if path == "" {
		logger.Info("usage tracking in memory only")
		return usage.NewMemory(nil), func() {}, nil
	}
	db, err := usage.OpenSQLite(ctx, path, usage.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open usage database: %w", err)
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing usage database failed", "error", err)
		}
	}, nil
}

// newFetcher routes each source to Reddit or its feed. Reddit is only set up
// when credentials are present; reddit sources fail their ticks otherwise.
func newFetcher(ctx context.Context, cfg *config.Config, resolver source.Resolver, client *poller.Client, meter usage.Meter, logger *slog.Logger) (*source.Router, error) {
	var reddit poller.Fetcher
	if cfg.Settings.Reddit.Configured() {
		r, err := source.NewReddit(ctx, config.BuildRedditConfig(cfg), client, meter, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to set up reddit: %w", err)
		}
		reddit = r
	} else {
		logger.Warn("reddit credentials not configured, reddit sources will fail")
	}
	feed := source.NewFeed(client, cfg.Settings.Reddit.UserAgent, meter, logger)
	return source.NewRouter(resolver, reddit, feed), nil
}

// flavorFor words embeds by source kind.
func flavorFor(resolver source.Resolver) func(poller.Source) notify.Flavor {
	return func(src poller.Source) notify.Flavor {
		route, err := resolver.Route(context.Background(), src.Name)
		if err == nil && route.Kind == source.KindFeed {
			return notify.FlavorFeed
		}
		return notify.FlavorReddit
	}
}
