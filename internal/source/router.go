package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmerr/postrelay/internal/poller"
)

// Kind selects the fetcher for a source.
type Kind string

const (
	KindReddit Kind = "reddit"
	KindFeed   Kind = "feed"
)

// ErrNoReddit is returned when a reddit source is polled without credentials.
var ErrNoReddit = errors.New("reddit credentials not configured")

// Route tells the [Router] how to fetch one source.
type Route struct {
	Kind Kind
	URL  string // feed document URL; unused for reddit
}

// Resolver looks up the route of a source by name.
type Resolver interface {
	Route(ctx context.Context, name string) (Route, error)
}

// Routes is a fixed name-to-route table.
type Routes map[string]Route

// Route implements [Resolver].
func (r Routes) Route(_ context.Context, name string) (Route, error) {
	route, ok := r[name]
	if !ok {
		return Route{}, fmt.Errorf("unknown source %q", name)
	}
	return route, nil
}

// Router is a [poller.Fetcher] dispatching each source to the fetcher of its kind.
type Router struct {
	resolver Resolver
	reddit   poller.Fetcher
	feed     *Feed
}

// NewRouter creates a [Router]. reddit may be nil when no credentials are
// configured; reddit sources then fail with [ErrNoReddit].
func NewRouter(resolver Resolver, reddit poller.Fetcher, feed *Feed) *Router {
	return &Router{resolver: resolver, reddit: reddit, feed: feed}
}

// FetchRecent implements [poller.Fetcher].
func (r *Router) FetchRecent(ctx context.Context, name string, limit int) ([]poller.Item, error) {
	route, err := r.resolver.Route(ctx, name)
	if err != nil {
		return nil, err
	}
	switch route.Kind {
	case KindReddit, "":
		if r.reddit == nil {
			return nil, ErrNoReddit
		}
		return r.reddit.FetchRecent(ctx, name, limit)
	case KindFeed:
		if r.feed == nil {
			return nil, errors.New("feed fetcher not configured")
		}
		return r.feed.FetchFeed(ctx, name, route.URL, limit)
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", name, route.Kind)
	}
}
