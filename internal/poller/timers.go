package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Timers owns the recurring tasks of a [Scheduler], one per source name.
//
// Arm replaces any task already registered under the same name. CancelAll
// removes every task; no task starts after it returns. Close releases the
// underlying runner and returns a context that is done once running tasks
// have finished.
type Timers interface {
	Arm(name string, every time.Duration, fn func()) error
	CancelAll()
	Close() context.Context
}

// CronTimers implements [Timers] on a robfig/cron runner.
//
// Each task is wrapped so a slow run is skipped rather than overlapped by
// the next firing, and a panicking run is logged instead of crashing the
// process. Intervals have second granularity and are rounded up, so a task
// never runs more often than asked.
type CronTimers struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	closed  bool
}

// NewCronTimers creates a [CronTimers] logging through logger.
func NewCronTimers(logger *slog.Logger) *CronTimers {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With("component", "timers")}
	return &CronTimers{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Arm schedules fn to run every interval under name.
func (t *CronTimers) Arm(name string, every time.Duration, fn func()) error {
	if every <= 0 {
		return fmt.Errorf("timer %s: interval must be positive, got %v", name, every)
	}
	if fn == nil {
		return fmt.Errorf("timer %s: nil task", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("timers closed")
	}

	if id, ok := t.entries[name]; ok {
		t.cron.Remove(id)
	}
	t.entries[name] = t.cron.Schedule(cron.Every(wholeSeconds(every)), cron.FuncJob(fn))

	// Start is a no-op once the runner is going
	t.cron.Start()
	return nil
}

// wholeSeconds rounds d up to the next second. cron.Every truncates.
func wholeSeconds(d time.Duration) time.Duration {
	if r := d % time.Second; r != 0 {
		d += time.Second - r
	}
	return d
}

// CancelAll removes every armed task.
func (t *CronTimers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, id := range t.entries {
		t.cron.Remove(id)
		delete(t.entries, name)
	}
}

// Close stops the runner. Further Arm calls fail.
func (t *CronTimers) Close() context.Context {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.cron.Stop()
}

// Names returns the names of the armed tasks.
func (t *CronTimers) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	return names
}

// cronLogger adapts slog to cron.Logger. Cron's chatty scheduling messages
// go to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
