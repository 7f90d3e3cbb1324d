package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultInitialLimit is the number of items forwarded by a source's
	// initial scan.
	DefaultInitialLimit = 2

	// DefaultTickLimit is the number of items requested on each steady-state tick.
	DefaultTickLimit = 25

	// DefaultNotificationDelay is the pause between consecutive delivery attempts.
	DefaultNotificationDelay = 2 * time.Second
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithTimers replaces the default [CronTimers].
func WithTimers(t Timers) Option {
	return func(s *Scheduler) { s.timers = t }
}

// WithNotificationDelay sets the pause between delivery attempts.
func WithNotificationDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.delay = d }
}

// WithInitialLimit sets how many items the initial scan forwards.
func WithInitialLimit(n int) Option {
	return func(s *Scheduler) { s.initialLimit = n }
}

// WithTickLimit sets how many items each tick requests.
func WithTickLimit(n int) Option {
	return func(s *Scheduler) { s.tickLimit = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleep replaces the pacing sleep.
func WithSleep(fn SleepFunc) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithReportHandler registers fn to receive every [TickReport]. fn runs on
// the scan's goroutine and must not block for long.
func WithReportHandler(fn func(TickReport)) Option {
	return func(s *Scheduler) { s.onReport = fn }
}

// Scheduler polls each qualifying source on its own interval and forwards
// newly discovered items to the source's deliverer.
//
// On Start every qualifying source gets an initial scan that forwards its
// most recent items unconditionally, then a recurring timer. Each timer
// firing runs [Scheduler.Tick], which forwards only items created after the
// source's LastChecked and then advances LastChecked to the current time.
//
// Deliveries within a source are strictly sequential with a pacing delay
// between attempts. Failures never escape a scan.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	registry Registry
	fetcher  Fetcher
	factory  DelivererFactory
	timers   Timers

	delay        time.Duration
	initialLimit int
	tickLimit    int
	now          func() time.Time
	sleep        SleepFunc
	logger       *slog.Logger
	onReport     func(TickReport)

	ctx context.Context
	wg  sync.WaitGroup

	mu         sync.Mutex
	started    bool
	stopped    bool
	deliverers map[string]boundDeliverer
	active     []string
}

// boundDeliverer remembers the target a deliverer was built for, so a
// changed target gets a fresh one.
type boundDeliverer struct {
	target string
	d      Deliverer
}

// NewScheduler creates a [Scheduler] over the given collaborators.
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop].
func NewScheduler(registry Registry, fetcher Fetcher, factory DelivererFactory, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:     registry,
		fetcher:      fetcher,
		factory:      factory,
		delay:        DefaultNotificationDelay,
		initialLimit: DefaultInitialLimit,
		tickLimit:    DefaultTickLimit,
		now:          time.Now,
		sleep:        sleepContext,
		deliverers:   make(map[string]boundDeliverer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.timers == nil {
		s.timers = NewCronTimers(s.logger)
	}
	return s
}

// Start performs the initial scan of every qualifying source, in registry
// order, and then arms one recurring timer per source.
//
// Start blocks until the initial scans are done. Sources whose deliverer
// cannot be built are logged and skipped; an initial-scan fetch failure is
// logged and the source is still armed. Only a failure to list the registry
// is returned.
//
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	sources, err := s.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}

	armable := make([]Source, 0, len(sources))
	for _, src := range sources {
		if !src.Qualifies() {
			s.logger.Debug("source not scheduled", "source", src.Name, "enabled", src.Enabled, "has_target", src.Target != "")
			continue
		}
		if _, err := s.delivererFor(src); err != nil {
			s.logger.Error("source excluded", "source", src.Name, "error", err)
			continue
		}
		armable = append(armable, src)
	}

	for _, src := range armable {
		if s.isStopped() {
			return nil
		}
		s.scanInitial(ctx, src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	for _, src := range armable {
		name := src.Name
		if err := s.timers.Arm(name, src.Interval, func() { s.runTick(name) }); err != nil {
			s.logger.Error("arming timer failed", "source", name, "error", err)
			continue
		}
		s.active = append(s.active, name)
		s.logger.Info("source scheduled", "source", name, "interval", src.Interval)
	}
	return nil
}

// Stop cancels every armed timer and waits for in-flight scans to finish.
// No tick starts after Stop returns.
//
// Stop is idempotent and safe to call multiple times. Calling Stop before
// Start is a safe no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.active = nil
	s.mu.Unlock()

	s.timers.CancelAll()
	s.wg.Wait()
	<-s.timers.Close().Done()
	s.logger.Info("scheduler stopped")
}

// Active returns the names of the sources with an armed timer.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.active...)
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// runTick is the timer callback. It refuses to run once Stop has begun so
// that Stop's wait covers every tick that did start.
func (s *Scheduler) runTick(name string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	defer s.wg.Done()

	s.Tick(ctx, name)
}

// Tick runs one steady-state poll of the named source and returns its report.
//
// The source is re-read from the registry so the current LastChecked is
// used. Up to the tick limit of items are fetched; those created strictly
// after LastChecked are delivered in fetch order, with the pacing delay
// between attempts. If anything new was seen LastChecked advances to the
// current time, whether or not the deliveries succeeded.
func (s *Scheduler) Tick(ctx context.Context, name string) TickReport {
	rep := s.newReport(name, KindTick)
	log := s.logger.With("source", name, "run_id", rep.RunID)

	src, err := s.lookup(ctx, name)
	if err != nil {
		rep.Err = err
		log.Error("tick aborted", "error", err)
		return s.finish(rep)
	}
	rep.LastChecked = src.LastChecked
	if !src.Qualifies() {
		log.Info("source no longer qualifies, skipping tick")
		return s.finish(rep)
	}

	items, err := s.fetcher.FetchRecent(ctx, name, s.tickLimit)
	if err != nil {
		rep.Err = &FetchError{Source: name, Err: err}
		log.Warn("fetch failed", "error", err)
		return s.finish(rep)
	}
	rep.Fetched = len(items)

	fresh := FilterNew(items, src.LastChecked)
	rep.New = len(fresh)
	if len(fresh) == 0 {
		log.Info("no new items", "fetched", len(items))
		return s.finish(rep)
	}

	d, err := s.delivererFor(src)
	if err != nil {
		rep.Err = err
		log.Error("no deliverer", "error", err)
		return s.finish(rep)
	}

	log.Info("new items found", "count", len(fresh))
	s.deliverAll(ctx, log, &rep, d, fresh)
	s.advance(ctx, log, &rep, src)
	return s.finish(rep)
}

// scanInitial forwards the most recent items of src without filtering.
func (s *Scheduler) scanInitial(ctx context.Context, src Source) {
	rep := s.newReport(src.Name, KindInitial)
	rep.LastChecked = src.LastChecked
	log := s.logger.With("source", src.Name, "run_id", rep.RunID)

	items, err := s.fetcher.FetchRecent(ctx, src.Name, s.initialLimit)
	if err != nil {
		rep.Err = &FetchError{Source: src.Name, Err: err}
		log.Warn("initial scan fetch failed", "error", err)
		s.finish(rep)
		return
	}
	rep.Fetched = len(items)
	rep.New = len(items)

	if len(items) > 0 {
		d, err := s.delivererFor(src)
		if err != nil {
			rep.Err = err
			log.Error("no deliverer", "error", err)
			s.finish(rep)
			return
		}
		log.Info("initial scan", "count", len(items))
		s.deliverAll(ctx, log, &rep, d, items)
		s.advance(ctx, log, &rep, src)
	}
	s.finish(rep)
}

// deliverAll attempts every item in order. A failed attempt is logged and
// counted; the pacing delay still applies before the next one. If ctx is
// done while pacing, the remaining items are counted as failed.
func (s *Scheduler) deliverAll(ctx context.Context, log *slog.Logger, rep *TickReport, d Deliverer, items []Item) {
	for i, it := range items {
		if i > 0 && s.delay > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				rep.Failed += len(items) - i
				rep.Err = err
				log.Warn("scan interrupted", "remaining", len(items)-i, "error", err)
				return
			}
		}

		if err := s.safeSend(ctx, d, it); err != nil {
			rep.Failed++
			derr := &DeliveryError{Source: rep.Source, ItemID: it.ID, Err: err}
			log.Error("delivery failed", "item", it.ID, "error", derr)
			continue
		}
		rep.Delivered++
		log.Info("item delivered", "item", it.ID, "title", it.Title)
	}
}

// advance moves LastChecked to now, never backwards. The write is detached
// from ctx cancellation so an interrupted scan still records its cut-off.
func (s *Scheduler) advance(ctx context.Context, log *slog.Logger, rep *TickReport, src Source) {
	now := s.now()
	if !now.After(src.LastChecked) {
		log.Warn("clock behind last check, keeping cut-off", "last_checked", src.LastChecked, "now", now)
		return
	}
	if err := s.registry.SetLastChecked(context.WithoutCancel(ctx), src.Name, now); err != nil {
		log.Error("persisting last checked failed", "error", err)
		if rep.Err == nil {
			rep.Err = fmt.Errorf("persisting last checked: %w", err)
		}
		return
	}
	rep.LastChecked = now
}

// lookup re-reads a single source from the registry.
func (s *Scheduler) lookup(ctx context.Context, name string) (Source, error) {
	sources, err := s.registry.List(ctx)
	if err != nil {
		return Source{}, fmt.Errorf("listing sources: %w", err)
	}
	for _, src := range sources {
		if src.Name == name {
			return src, nil
		}
	}
	return Source{}, fmt.Errorf("source %q not found", name)
}

// delivererFor returns the cached deliverer for src, building a new one
// when the source is new or its target changed.
func (s *Scheduler) delivererFor(src Source) (Deliverer, error) {
	s.mu.Lock()
	b, ok := s.deliverers[src.Name]
	s.mu.Unlock()
	if ok && b.target == src.Target {
		return b.d, nil
	}

	if s.factory == nil {
		return nil, &ConfigurationError{Source: src.Name, Err: errors.New("no deliverer factory")}
	}
	d, err := s.factory(src)
	if err != nil {
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &ConfigurationError{Source: src.Name, Err: err}
	}
	if d == nil {
		return nil, &ConfigurationError{Source: src.Name, Err: errors.New("factory returned nil deliverer")}
	}

	s.mu.Lock()
	s.deliverers[src.Name] = boundDeliverer{target: src.Target, d: d}
	s.mu.Unlock()
	return d, nil
}

// safeSend calls the deliverer with panic recovery.
// If the deliverer panics, it logs the full stack trace with a correlation ID
// and returns an error containing the ID.
func (s *Scheduler) safeSend(ctx context.Context, d Deliverer, it Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			s.logger.Error("deliverer panic",
				"correlation_id", correlationID,
				"source", it.Source,
				"item", it.ID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			err = fmt.Errorf("deliverer panic (correlation_id: %s)", correlationID)
		}
	}()
	return d.Send(ctx, it)
}

func (s *Scheduler) newReport(name string, kind TickKind) TickReport {
	return TickReport{
		RunID:     uuid.NewString(),
		Source:    name,
		Kind:      kind,
		StartedAt: s.now(),
	}
}

func (s *Scheduler) finish(rep TickReport) TickReport {
	rep.Duration = s.now().Sub(rep.StartedAt)
	if s.onReport != nil {
		s.onReport(rep)
	}
	return rep
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
