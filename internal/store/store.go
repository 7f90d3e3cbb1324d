package store

import "time"

// SourceStatus is the latest scan of one source, as served by the status API.
//
// It is decoupled from the poller's report type so the JSON shape can evolve
// independently.
type SourceStatus struct {
	// Name is the source name.
	Name string `json:"name"`

	// Kind is "initial" or "tick".
	Kind string `json:"kind"`

	// RunID correlates the status with log lines of the same scan.
	RunID string `json:"run_id"`

	// StartedAt is when the scan began.
	StartedAt time.Time `json:"started_at"`

	// DurationMs is how long the scan took, pacing included.
	DurationMs int64 `json:"duration_ms"`

	Fetched   int `json:"fetched"`
	New       int `json:"new"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`

	// LastChecked is the source's recorded high-water mark after the scan.
	LastChecked time.Time `json:"last_checked"`

	// Error is set when the scan failed as a whole.
	Error *string `json:"error"`

	// Running totals, maintained by the store.
	Scans          int64 `json:"scans"`
	TotalDelivered int64 `json:"total_delivered"`
	TotalFailed    int64 `json:"total_failed"`
}

// Store defines the interface for storing and subscribing to status updates.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores the latest scan of a source and notifies all subscribers.
	// The per-scan counters replace the previous values; the totals accumulate.
	Update(status SourceStatus)

	// GetAll returns all stored statuses ordered by name.
	GetAll() []SourceStatus

	// Get returns the status of one source.
	Get(name string) (SourceStatus, bool)

	// Subscribe returns a channel that receives status updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan SourceStatus

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan SourceStatus)
}
