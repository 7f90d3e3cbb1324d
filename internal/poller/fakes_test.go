package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memRegistry is an in-memory Registry recording every SetLastChecked call.
type memRegistry struct {
	mu      sync.Mutex
	sources []Source
	sets    []time.Time
	listErr error
}

func newMemRegistry(sources ...Source) *memRegistry {
	return &memRegistry{sources: sources}
}

func (r *memRegistry) List(_ context.Context) ([]Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]Source(nil), r.sources...), nil
}

func (r *memRegistry) SetLastChecked(_ context.Context, name string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sources {
		if r.sources[i].Name == name {
			r.sources[i].LastChecked = t
			r.sets = append(r.sets, t)
			return nil
		}
	}
	return fmt.Errorf("unknown source %q", name)
}

func (r *memRegistry) lastChecked(name string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.Name == name {
			return s.LastChecked
		}
	}
	return time.Time{}
}

func (r *memRegistry) setCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}

// fetchCall records one FetchRecent invocation.
type fetchCall struct {
	name  string
	limit int
}

// scriptedFetcher returns queued responses per source; once a source's
// queue is empty the last response repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchResult
	calls   []fetchCall
}

type fetchResult struct {
	items []Item
	err   error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{scripts: make(map[string][]fetchResult)}
}

func (f *scriptedFetcher) push(name string, items []Item, err error) *scriptedFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = append(f.scripts[name], fetchResult{items: items, err: err})
	return f
}

func (f *scriptedFetcher) FetchRecent(_ context.Context, name string, limit int) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{name: name, limit: limit})
	queue := f.scripts[name]
	if len(queue) == 0 {
		return nil, nil
	}
	res := queue[0]
	if len(queue) > 1 {
		f.scripts[name] = queue[1:]
	}
	items := res.items
	if len(items) > limit {
		items = items[:limit]
	}
	return items, res.err
}

func (f *scriptedFetcher) callsFor(name string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// recordingDeliverer records every attempted item, in order, across all
// sources. Items whose ID is in failIDs fail; panicIDs panic.
type recordingDeliverer struct {
	mu       sync.Mutex
	attempts []Item
	failIDs  map[string]bool
	panicIDs map[string]bool
	clock    *fakeClock
	times    []time.Time
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{failIDs: map[string]bool{}, panicIDs: map[string]bool{}}
}

func (d *recordingDeliverer) Send(_ context.Context, it Item) error {
	d.mu.Lock()
	d.attempts = append(d.attempts, it)
	if d.clock != nil {
		d.times = append(d.times, d.clock.Now())
	}
	fail, boom := d.failIDs[it.ID], d.panicIDs[it.ID]
	d.mu.Unlock()
	if boom {
		panic("deliverer exploded on " + it.ID)
	}
	if fail {
		return errors.New("webhook rejected item")
	}
	return nil
}

func (d *recordingDeliverer) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, len(d.attempts))
	for i, it := range d.attempts {
		ids[i] = it.ID
	}
	return ids
}

func (d *recordingDeliverer) factory() DelivererFactory {
	return func(Source) (Deliverer, error) { return d, nil }
}

// fakeClock is a manually advanced clock. Sleeps advance it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

// manualTimers is a Timers implementation fired explicitly by tests.
type manualTimers struct {
	mu        sync.Mutex
	tasks     map[string]func()
	intervals map[string]time.Duration
	cancelled bool
	closed    bool
}

func newManualTimers() *manualTimers {
	return &manualTimers{tasks: map[string]func(){}, intervals: map[string]time.Duration{}}
}

func (m *manualTimers) Arm(name string, every time.Duration, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[name] = fn
	m.intervals[name] = every
	return nil
}

func (m *manualTimers) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
	m.tasks = map[string]func(){}
}

func (m *manualTimers) Close() context.Context {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Fire runs the task armed under name synchronously. It reports false if
// nothing is armed.
func (m *manualTimers) Fire(name string) bool {
	m.mu.Lock()
	fn, ok := m.tasks[name]
	m.mu.Unlock()
	if !ok {
		return false
	}
	fn()
	return true
}

func (m *manualTimers) armed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tasks))
	for n := range m.tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// item builds a test item created at t.
func item(id string, t time.Time) Item {
	return Item{ID: id, Title: "post " + id, Source: "golang", CreatedAt: t, URL: "https://example.com/" + id}
}
