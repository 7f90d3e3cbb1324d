package postrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/postrelay/internal/metrics"
	"github.com/jpalmerr/postrelay/internal/notify"
	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/internal/server"
	"github.com/jpalmerr/postrelay/internal/store"
	"github.com/jpalmerr/postrelay/usage"
)

// Relay is the main orchestrator for polling sources and delivering items.
//
// A Relay is created using [New] with functional options and run with
// [Relay.Start]. The typical lifecycle is:
//
//	relay, err := postrelay.New(
//	    postrelay.WithRegistry(registry),
//	    postrelay.WithFetcher(fetcher),
//	)
//	if err != nil {
//	    slog.Error("failed to create relay", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	relay.Start(ctx) // blocks until context cancelled
type Relay struct {
	registry      Registry
	fetcher       Fetcher
	factory       DelivererFactory
	delay         time.Duration
	port          int
	logger        *slog.Logger
	meter         usage.Meter
	tickCallbacks []func(TickReport)
	metricsReg    *prometheus.Registry
	metrics       *metrics.Metrics
	schedulerOpts []poller.Option
	store         *store.MemoryStore
}

// New creates a new [Relay] with the given options.
//
// A fetcher and either a registry or at least one source are required.
// Other options have defaults:
//   - Notification delay: 2 seconds
//   - Delivery: Discord webhook embeds
//   - Usage meter: in memory
//   - Status server: off
//
// Returns an error if a requirement is missing or an option is invalid.
func New(opts ...Option) (*Relay, error) {
	cfg := &relayConfig{
		delay: poller.DefaultNotificationDelay,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.fetcher == nil {
		return nil, errors.New("a fetcher is required")
	}

	registry := cfg.registry
	switch {
	case registry != nil && len(cfg.sources) > 0:
		return nil, errors.New("WithRegistry and WithSources cannot be combined")
	case registry == nil && len(cfg.sources) == 0:
		return nil, errors.New("a registry or at least one source is required")
	case registry == nil:
		mem, err := NewMemoryRegistry(cfg.sources...)
		if err != nil {
			return nil, err
		}
		registry = mem
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := cfg.metricsReg
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	meter := cfg.meter
	if meter == nil {
		meter = usage.NewMemory(nil)
	}
	if err := m.WatchUsage(meter); err != nil {
		return nil, err
	}

	factory := cfg.factory
	if factory == nil {
		factory = notify.NewFactory(poller.NewClient(), meter, logger)
	}

	return &Relay{
		registry:      registry,
		fetcher:       cfg.fetcher,
		factory:       factory,
		delay:         cfg.delay,
		port:          cfg.port,
		logger:        logger,
		meter:         meter,
		tickCallbacks: cfg.tickCallbacks,
		metricsReg:    reg,
		metrics:       m,
		schedulerOpts: cfg.schedulerOpts,
		store:         store.NewMemoryStore(),
	}, nil
}

// Start runs the relay until ctx is cancelled.
//
// Start first starts the status server (when a port is configured), then
// performs the initial scan of every qualifying source and arms their
// timers. It then blocks until ctx is cancelled, stops the scheduler and
// waits for in-flight scans to finish.
//
// Returns nil on graceful shutdown. Returns an error if the server cannot
// bind its port or the registry cannot be listed.
func (r *Relay) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	r.logger.Info("postrelay starting", "notification_delay", r.delay.String())

	if r.port > 0 {
		srv := server.NewServer(r.store, r.port, r.logger,
			server.WithSources(r.registry),
			server.WithUsage(r.meter),
			server.WithGatherer(r.metricsReg),
		)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	opts := append([]poller.Option{
		poller.WithNotificationDelay(r.delay),
		poller.WithLogger(r.logger),
		poller.WithReportHandler(r.handleReport),
	}, r.schedulerOpts...)
	scheduler := poller.NewScheduler(r.registry, r.fetcher, r.factory, opts...)

	if err := scheduler.Start(ctx); err != nil {
		scheduler.Stop()
		return err
	}

	active := scheduler.Active()
	r.metrics.SetActive(len(active))
	r.logger.Info("postrelay running", "active_sources", len(active))

	<-ctx.Done()
	scheduler.Stop()
	r.metrics.SetActive(0)
	r.logger.Info("postrelay stopped")
	return nil
}

// handleReport fans a report out to the store, metrics and callbacks, in
// that order.
func (r *Relay) handleReport(rep TickReport) {
	r.store.Update(reportToStatus(rep))
	r.metrics.ObserveTick(rep)
	for _, cb := range r.tickCallbacks {
		invokeCallbackSafe(cb, rep, r.logger)
	}
}

// Registry returns the registry the relay reads.
func (r *Relay) Registry() Registry {
	return r.registry
}

// Port returns the status server port, 0 when disabled.
func (r *Relay) Port() int {
	return r.port
}

// NotificationDelay returns the pause between deliveries.
func (r *Relay) NotificationDelay() time.Duration {
	return r.delay
}

// UsageMeter returns the meter network bytes are recorded on.
func (r *Relay) UsageMeter() usage.Meter {
	return r.meter
}

// invokeCallbackSafe calls a tick callback with panic recovery.
// Panics are logged with a correlation ID but do not propagate.
func invokeCallbackSafe(cb func(TickReport), rep TickReport, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("tick callback panicked",
				"panic", rec,
				"source", rep.Source,
				"correlation_id", uuid.NewString(),
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(rep)
}
