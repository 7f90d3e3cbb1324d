package postrelay

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testWebhook = "https://discord.com/api/webhooks/1/token"

// staticFetcher returns the same items for every call of a source.
type staticFetcher struct {
	mu    sync.Mutex
	items map[string][]Item
	calls map[string]int
}

func newStaticFetcher() *staticFetcher {
	return &staticFetcher{items: map[string][]Item{}, calls: map[string]int{}}
}

func (f *staticFetcher) set(name string, items ...Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[name] = items
}

func (f *staticFetcher) FetchRecent(_ context.Context, name string, limit int) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	items := f.items[name]
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]Item(nil), items...), nil
}

func (f *staticFetcher) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// sink records every delivered item.
type sink struct {
	mu  sync.Mutex
	ids []string
}

func (s *sink) factory() DelivererFactory {
	return func(src Source) (Deliverer, error) {
		return sinkDeliverer{s}, nil
	}
}

func (s *sink) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type sinkDeliverer struct{ s *sink }

func (d sinkDeliverer) Send(_ context.Context, it Item) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	d.s.ids = append(d.s.ids, it.ID)
	return nil
}

// manualTimers arms nothing; tests fire ticks by name.
type manualTimers struct {
	mu  sync.Mutex
	fns map[string]func()
}

func newManualTimers() *manualTimers {
	return &manualTimers{fns: map[string]func(){}}
}

func (m *manualTimers) Arm(name string, _ time.Duration, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns[name] = fn
	return nil
}

func (m *manualTimers) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = map[string]func(){}
}

func (m *manualTimers) Close() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (m *manualTimers) fire(name string) bool {
	m.mu.Lock()
	fn := m.fns[name]
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// waitArmed blocks until name has a timer.
func (m *manualTimers) waitArmed(t *testing.T, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		_, ok := m.fns[name]
		m.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timer for %q was never armed", name)
}

func item(id string, created time.Time) Item {
	return Item{ID: id, Title: "post " + id, Source: "golang", CreatedAt: created}
}

func mustSource(t *testing.T, name string, opts ...SourceOption) Source {
	t.Helper()
	src, err := NewSource(name, opts...)
	if err != nil {
		t.Fatalf("NewSource(%q) error = %v", name, err)
	}
	return src
}
