package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	log "watcher-hub/internal/infra/log"
	"watcher-hub/internal/infra/retry"
)

// Notifier is the slice of the dispatcher the scheduler needs. The
// implementation owns log appends and lastNotifiedAt bookkeeping.
type Notifier interface {
	NotifyAlert(ctx context.Context, m Monitor, out Outcome) error
	NotifyStatus(ctx context.Context, m Monitor, out Outcome) error
	NotifyError(ctx context.Context, m Monitor, fetchErr error) error
}

// SchedulerOptions tunes the sweep loop.
type SchedulerOptions struct {
	SweepInterval  time.Duration
	AdapterTimeout time.Duration
	MaxRetries     int
	WorkerPoolSize int
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.AdapterTimeout <= 0 {
		o.AdapterTimeout = 10 * time.Second
	}
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = 8
	}
	return o
}

// Scheduler runs the recurring sweep over every registered monitor.
// Monitors are processed independently: one slow or failing upstream
// never aborts or delays the others beyond pool contention.
type Scheduler struct {
	registry *Registry
	adapters AdapterSet
	notifier Notifier
	opts     SchedulerOptions
	now      func() time.Time

	breakerMu sync.Mutex
	breakers  map[MonitorType]*gobreaker.CircuitBreaker
}

// NewScheduler builds a sweep scheduler over a registry and adapter set.
func NewScheduler(registry *Registry, adapters AdapterSet, notifier Notifier, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		registry: registry,
		adapters: adapters,
		notifier: notifier,
		opts:     opts.withDefaults(),
		now:      time.Now,
		breakers: make(map[MonitorType]*gobreaker.CircuitBreaker),
	}
}

// SetClock overrides the time source, used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
// A sweep in progress is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) {
	log.LogInfo("Starting monitor scheduler",
		zap.Duration("sweepInterval", s.opts.SweepInterval),
		zap.Int("workerPoolSize", s.opts.WorkerPoolSize))

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.LogInfo("Monitor scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep enumerates all monitors and processes the due ones under a
// bounded worker pool so one hung upstream cannot stall the rest.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now()
	monitors := s.registry.List()

	sem := make(chan struct{}, s.opts.WorkerPoolSize)
	var wg sync.WaitGroup

	for _, m := range monitors {
		// Unbound monitors are a no-op, not an error: the user has not
		// messaged the bot yet.
		if !m.Bound() {
			continue
		}
		if m.PausedByUser {
			continue
		}
		if !m.DueForCheck(now) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(m Monitor) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processMonitor(ctx, m, now)
		}(m)
	}

	wg.Wait()
}

// processMonitor runs fetch → reconcile → dispatch for one monitor.
// Failures are contained here; nothing escapes into the sweep.
func (s *Scheduler) processMonitor(ctx context.Context, m Monitor, now time.Time) {
	sample, err := s.fetch(ctx, m)
	if err != nil {
		log.LogWarn("Adapter fetch failed",
			zap.String("id", m.ID),
			zap.String("type", string(m.Type)),
			zap.Error(err))
		s.registry.AppendLog(m.ID, LogKindError, "adapter fetch failed", map[string]interface{}{
			"error": err.Error(),
		})
		// The error channel is gated separately so a transient fetch
		// error cannot silently suppress a real alert next tick.
		if m.Notify.OnError && m.DueForErrorNotice(now) {
			if nerr := s.notifier.NotifyError(ctx, m, err); nerr != nil {
				log.LogWarn("Error notification failed", zap.String("id", m.ID), zap.Error(nerr))
			}
		}
		return
	}

	out := Reconcile(m.Type, sample, m.Threshold, m.PausedByUser)
	s.registry.RecordOutcome(m.ID, out, now)

	switch {
	case out.Status == StatusAlertTriggered && m.Notify.OnAlert:
		if err := s.notifier.NotifyAlert(ctx, m, out); err != nil {
			log.LogWarn("Alert notification failed", zap.String("id", m.ID), zap.Error(err))
		}
	case out.Status == StatusActive && m.Notify.OnStatus:
		if err := s.notifier.NotifyStatus(ctx, m, out); err != nil {
			log.LogWarn("Status notification failed", zap.String("id", m.ID), zap.Error(err))
		}
	}
}

// fetch invokes the adapter for the monitor's type under a timeout, a
// per-type circuit breaker and the usual retry policy.
func (s *Scheduler) fetch(ctx context.Context, m Monitor) (Sample, error) {
	adapter, ok := s.adapters[m.Type]
	if !ok {
		return Sample{}, fmt.Errorf("%w: no adapter for type %q", ErrAdapterFetch, m.Type)
	}

	breaker := s.breakerFor(m.Type)

	var sample Sample
	err := retry.Do(ctx, retry.Options{MaxRetries: s.opts.MaxRetries}, func() error {
		result, err := breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.opts.AdapterTimeout)
			defer cancel()
			return adapter(callCtx, m)
		})
		if err != nil {
			return err
		}
		sample = result.(Sample)
		return nil
	})
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrAdapterFetch, err)
	}
	return sample, nil
}

func (s *Scheduler) breakerFor(t MonitorType) *gobreaker.CircuitBreaker {
	s.breakerMu.Lock()
	defer s.breakerMu.Unlock()
	if cb, ok := s.breakers[t]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "adapter-" + string(t),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	s.breakers[t] = cb
	return cb
}
