package postrelay

import (
	"github.com/jpalmerr/postrelay/internal/poller"
	"github.com/jpalmerr/postrelay/internal/store"
)

// TickReport is the outcome of one scan of one source.
//
// A report is produced for every initial scan and every steady-state tick,
// including ticks that found nothing new or failed to fetch. Err is set when
// the scan failed as a whole; individual delivery failures are only counted
// in Failed.
type TickReport = poller.TickReport

// TickKind tells initial scans from steady-state ticks.
type TickKind = poller.TickKind

// Scan kinds.
const (
	KindInitial = poller.KindInitial
	KindTick    = poller.KindTick
)

// Typed scan errors, usable with errors.As on [TickReport.Err].
type (
	FetchError         = poller.FetchError
	DeliveryError      = poller.DeliveryError
	ConfigurationError = poller.ConfigurationError
)

// reportToStatus converts a report to its stored form.
func reportToStatus(rep TickReport) store.SourceStatus {
	var errStr *string
	if rep.Err != nil {
		s := rep.Err.Error()
		errStr = &s
	}
	return store.SourceStatus{
		Name:        rep.Source,
		Kind:        string(rep.Kind),
		RunID:       rep.RunID,
		StartedAt:   rep.StartedAt,
		DurationMs:  rep.Duration.Milliseconds(),
		Fetched:     rep.Fetched,
		New:         rep.New,
		Delivered:   rep.Delivered,
		Failed:      rep.Failed,
		LastChecked: rep.LastChecked,
		Error:       errStr,
	}
}
