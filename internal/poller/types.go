package poller

import (
	"context"
	"time"
)

// MediaHint classifies an item by the kind of content it points at.
// Deliverers use it to pick a presentation.
type MediaHint string

const (
	MediaNone  MediaHint = "none"  // text-only item, body carries the content
	MediaImage MediaHint = "image" // URL points at an image
	MediaVideo MediaHint = "video" // URL points at a video, Thumbnail may be set
	MediaLink  MediaHint = "link"  // URL points at an external page
)

// Source is one polled content channel, identified by Name.
type Source struct {
	// Name is the unique identifier of the source (e.g. a subreddit name).
	Name string

	// Interval is the time between steady-state polls. Always positive for
	// sources produced by a registry.
	Interval time.Duration

	// Enabled reports whether the source should be polled at all.
	Enabled bool

	// Target is the opaque delivery endpoint reference (a webhook URL).
	// Empty means the source has nowhere to deliver to and is never armed.
	Target string

	// LastChecked is the cut-off for new-item detection. The zero value
	// means the source has never been checked.
	LastChecked time.Time
}

// Qualifies reports whether the scheduler should fetch and arm the source.
func (s Source) Qualifies() bool {
	return s.Enabled && s.Target != ""
}

// Item is one piece of content fetched from a source.
type Item struct {
	ID        string
	Title     string
	Author    string
	Source    string
	CreatedAt time.Time
	Body      string
	URL       string
	Media     MediaHint
	Thumbnail string
}

// Registry is the persistent store of sources.
//
// List returns the sources in a stable order. SetLastChecked persists the
// detection cut-off for one source; implementations must not move it
// backwards.
type Registry interface {
	List(ctx context.Context) ([]Source, error)
	SetLastChecked(ctx context.Context, name string, t time.Time) error
}

// Fetcher retrieves the most recent items for a source, newest first by
// convention. It returns at most limit items.
type Fetcher interface {
	FetchRecent(ctx context.Context, name string, limit int) ([]Item, error)
}

// Deliverer forwards a single item to one delivery endpoint.
type Deliverer interface {
	Send(ctx context.Context, item Item) error
}

// DelivererFactory builds the [Deliverer] for a source's Target.
type DelivererFactory func(src Source) (Deliverer, error)

// TickKind distinguishes the initial scan from steady-state ticks.
type TickKind string

const (
	KindInitial TickKind = "initial"
	KindTick    TickKind = "tick"
)

// TickReport summarises one scan of one source.
type TickReport struct {
	// RunID correlates the log lines of a single scan.
	RunID string

	Source    string
	Kind      TickKind
	StartedAt time.Time
	Duration  time.Duration

	// Fetched is the number of items the fetcher returned.
	Fetched int

	// New is the number of items selected for delivery. For initial scans
	// this equals Fetched.
	New int

	Delivered int
	Failed    int

	// LastChecked is the source's cut-off after the scan.
	LastChecked time.Time

	// Err is the error that ended the scan early, if any. Per-item delivery
	// failures are counted in Failed and do not set Err.
	Err error
}

// FilterNew returns the items strictly newer than since, in their original
// order. A zero since selects every item.
func FilterNew(items []Item, since time.Time) []Item {
	fresh := make([]Item, 0, len(items))
	for _, it := range items {
		if it.CreatedAt.After(since) {
			fresh = append(fresh, it)
		}
	}
	return fresh
}
