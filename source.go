package postrelay

import (
	"errors"
	"time"

	"github.com/jpalmerr/postrelay/internal/notify"
	"github.com/jpalmerr/postrelay/internal/poller"
)

const (
	defaultSourceInterval = 5 * time.Minute

	// minSourceInterval is the timer granularity.
	minSourceInterval = time.Second
)

// Source is a polled content source. See [NewSource].
type Source = poller.Source

// Item is one post or feed entry.
type Item = poller.Item

// MediaHint classifies an item for rendering.
type MediaHint = poller.MediaHint

// Media hints.
const (
	MediaNone  = poller.MediaNone
	MediaImage = poller.MediaImage
	MediaVideo = poller.MediaVideo
	MediaLink  = poller.MediaLink
)

// Registry lists sources and records their last check.
type Registry = poller.Registry

// Fetcher returns a source's most recent items, newest first.
type Fetcher = poller.Fetcher

// Deliverer forwards one item to a source's delivery target.
type Deliverer = poller.Deliverer

// DelivererFactory builds the deliverer for a source.
type DelivererFactory = poller.DelivererFactory

// sourceConfig holds mutable state during source construction.
type sourceConfig struct {
	interval    time.Duration
	target      string
	enabled     bool
	lastChecked time.Time
}

// SourceOption configures a [Source] during construction.
// Options return an error if validation fails.
type SourceOption func(*sourceConfig) error

// NewSource creates a [Source] with the given name and options.
//
// Sources are enabled by default and polled every 5 minutes. A source is
// only polled once it has a delivery target.
//
// Example:
//
//	src, err := postrelay.NewSource("golang",
//	    postrelay.WithInterval(10*time.Minute),
//	    postrelay.WithDeliveryTarget(webhookURL),
//	)
//
// Returns an error if the name is empty or an option is invalid.
func NewSource(name string, opts ...SourceOption) (Source, error) {
	if name == "" {
		return Source{}, errors.New("source name cannot be empty")
	}

	cfg := &sourceConfig{
		interval: defaultSourceInterval,
		enabled:  true,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Source{}, err
		}
	}

	return Source{
		Name:        name,
		Interval:    cfg.interval,
		Enabled:     cfg.enabled,
		Target:      cfg.target,
		LastChecked: cfg.lastChecked,
	}, nil
}

// WithInterval sets how often the source is polled.
//
// Returns an error if the interval is shorter than one second.
func WithInterval(d time.Duration) SourceOption {
	return func(cfg *sourceConfig) error {
		if d < minSourceInterval {
			return errors.New("interval must be at least 1 second")
		}
		cfg.interval = d
		return nil
	}
}

// WithDeliveryTarget sets the Discord webhook URL items are delivered to.
//
// Returns an error unless url is an absolute http(s) URL.
func WithDeliveryTarget(url string) SourceOption {
	return func(cfg *sourceConfig) error {
		if err := notify.ValidateWebhook(url); err != nil {
			return err
		}
		cfg.target = url
		return nil
	}
}

// WithEnabled sets whether the source is polled.
func WithEnabled(enabled bool) SourceOption {
	return func(cfg *sourceConfig) error {
		cfg.enabled = enabled
		return nil
	}
}

// WithLastChecked seeds the time of the previous check.
func WithLastChecked(t time.Time) SourceOption {
	return func(cfg *sourceConfig) error {
		cfg.lastChecked = t
		return nil
	}
}
