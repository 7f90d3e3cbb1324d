package postrelay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/usage"
)

// relayConfig holds mutable state during Relay construction.
type relayConfig struct {
	registry      Registry
	sources       []Source
	fetcher       Fetcher
	factory       DelivererFactory
	delay         time.Duration
	port          int
	logger        *slog.Logger
	meter         usage.Meter
	tickCallbacks []func(TickReport)
	metricsReg    *prometheus.Registry
	schedulerOpts []poller.Option
}

// Option is a function that configures a [Relay] during construction.
// Options return an error if validation fails.
type Option func(*relayConfig) error

// WithRegistry sets the registry sources are read from and last-checked
// times are written to. Mutually exclusive with [WithSources].
func WithRegistry(r Registry) Option {
	return func(cfg *relayConfig) error {
		if r == nil {
			return errors.New("registry cannot be nil")
		}
		cfg.registry = r
		return nil
	}
}

// WithSources polls a fixed set of sources held in a [MemoryRegistry].
// Can be called multiple times. Mutually exclusive with [WithRegistry].
func WithSources(sources ...Source) Option {
	return func(cfg *relayConfig) error {
		cfg.sources = append(cfg.sources, sources...)
		return nil
	}
}

// WithFetcher sets how sources are fetched. Required.
func WithFetcher(f Fetcher) Option {
	return func(cfg *relayConfig) error {
		if f == nil {
			return errors.New("fetcher cannot be nil")
		}
		cfg.fetcher = f
		return nil
	}
}

// WithDelivererFactory replaces the default Discord delivery.
func WithDelivererFactory(f DelivererFactory) Option {
	return func(cfg *relayConfig) error {
		if f == nil {
			return errors.New("deliverer factory cannot be nil")
		}
		cfg.factory = f
		return nil
	}
}

// WithNotificationDelay sets the pause between two deliveries of one scan.
// Defaults to 2 seconds; 0 disables pacing.
//
// Returns an error if the delay is negative.
func WithNotificationDelay(d time.Duration) Option {
	return func(cfg *relayConfig) error {
		if d < 0 {
			return errors.New("notification delay cannot be negative")
		}
		cfg.delay = d
		return nil
	}
}

// WithPort enables the status server on port. The server is off by default.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *relayConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *relayConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithUsageMeter sets the meter network bytes are recorded on. Defaults to
// an in-memory meter.
func WithUsageMeter(m usage.Meter) Option {
	return func(cfg *relayConfig) error {
		if m == nil {
			return errors.New("usage meter cannot be nil")
		}
		cfg.meter = m
		return nil
	}
}

// WithTickCallback registers a function called with every [TickReport].
//
// Multiple callbacks may be registered; they execute in registration order
// on the scanning goroutine, so they must not block. Panics are recovered
// and logged.
//
// Nil callbacks are silently ignored.
func WithTickCallback(cb func(TickReport)) Option {
	return func(cfg *relayConfig) error {
		if cb == nil {
			return nil
		}
		cfg.tickCallbacks = append(cfg.tickCallbacks, cb)
		return nil
	}
}

// WithMetricsRegistry registers the relay's Prometheus collectors on reg and
// serves it at /metrics. Defaults to a private registry. A registry holds the
// collectors of one relay; [New] fails for a second relay sharing it.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(cfg *relayConfig) error {
		if reg == nil {
			return errors.New("metrics registry cannot be nil")
		}
		cfg.metricsReg = reg
		return nil
	}
}

// withSchedulerOptions passes options straight to the scheduler.
func withSchedulerOptions(opts ...poller.Option) Option {
	return func(cfg *relayConfig) error {
		cfg.schedulerOpts = append(cfg.schedulerOpts, opts...)
		return nil
	}
}
