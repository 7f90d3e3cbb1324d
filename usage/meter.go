// Package usage accounts for the network bytes postrelay consumes.
//
// Byte counts are accumulated into day, week and month buckets. Fetchers add
// the size of every response they read; deliverers add the size of every
// payload they send plus an estimate for the reply. The totals only grow
// until explicitly cleared.
//
// Two [Meter] implementations are provided: [SQLite] persists buckets in a
// sqlite database and [Memory] keeps them in process.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNegative is returned when a caller tries to subtract usage.
var ErrNegative = errors.New("usage: negative byte count")

// Meter accumulates byte counts keyed by day, week and month.
type Meter interface {
	// AddUsage adds n bytes to the current day, week and month buckets.
	AddUsage(ctx context.Context, n int64) error

	// Stats returns the totals of the current buckets.
	Stats(ctx context.Context) (Stats, error)

	// Record returns every bucket.
	Record(ctx context.Context) (Record, error)

	// Clear drops every bucket.
	Clear(ctx context.Context) error
}

// Stats holds the totals of the buckets containing "now".
type Stats struct {
	Today     int64 `json:"today"`
	ThisWeek  int64 `json:"this_week"`
	ThisMonth int64 `json:"this_month"`
}

// Record is the full usage history.
type Record struct {
	Daily       map[string]int64 `json:"daily"`
	Weekly      map[string]int64 `json:"weekly"`
	Monthly     map[string]int64 `json:"monthly"`
	LastUpdated time.Time        `json:"last_updated"`
}

func newRecord() Record {
	return Record{
		Daily:   map[string]int64{},
		Weekly:  map[string]int64{},
		Monthly: map[string]int64{},
	}
}

// FormatBytes renders n with a binary unit and two decimals, e.g. "1.50 KB".
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%d B", n)
	case n < mb:
		return fmt.Sprintf("%.2f KB", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.2f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/gb)
	}
}
