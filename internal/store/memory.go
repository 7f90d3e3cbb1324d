package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Subscribers receive updates via buffered channels. Updates are sent
// non-blocking; if a subscriber's buffer is full, the update is dropped for
// that subscriber.
type MemoryStore struct {
	mu          sync.RWMutex
	statuses    map[string]SourceStatus
	subscribers map[chan SourceStatus]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses:    make(map[string]SourceStatus),
		subscribers: make(map[chan SourceStatus]struct{}),
	}
}

// Update stores status, folds its counters into the running totals and
// notifies all subscribers with the merged value.
func (m *MemoryStore) Update(status SourceStatus) {
	m.mu.Lock()
	prev := m.statuses[status.Name]
	status.Scans = prev.Scans + 1
	status.TotalDelivered = prev.TotalDelivered + int64(status.Delivered)
	status.TotalFailed = prev.TotalFailed + int64(status.Failed)
	if status.LastChecked.IsZero() {
		status.LastChecked = prev.LastChecked
	}
	m.statuses[status.Name] = status
	m.mu.Unlock()

	m.notifySubscribers(status)
}

// GetAll returns a snapshot of all stored statuses, sorted by name.
func (m *MemoryStore) GetAll() []SourceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SourceStatus, 0, len(m.statuses))
	for _, status := range m.statuses {
		results = append(results, status)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Get returns the stored status of name.
func (m *MemoryStore) Get(name string) (SourceStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Subscribe creates a new subscription and returns a channel for receiving updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent resource leaks.
func (m *MemoryStore) Subscribe() <-chan SourceStatus {
	ch := make(chan SourceStatus, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan SourceStatus) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the status to all active subscribers without blocking.
func (m *MemoryStore) notifySubscribers(status SourceStatus) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- status:
		default:
			// subscriber is slow, drop the message
		}
	}
}
