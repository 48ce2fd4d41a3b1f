package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeNotifier captures dispatch calls and optionally fails them.
type fakeNotifier struct {
	mu       sync.Mutex
	alerts   []string
	statuses []string
	errs     []string
	fail     error
}

func (f *fakeNotifier) NotifyAlert(ctx context.Context, m Monitor, out Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, m.ID)
	return f.fail
}

func (f *fakeNotifier) NotifyStatus(ctx context.Context, m Monitor, out Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, m.ID)
	return f.fail
}

func (f *fakeNotifier) NotifyError(ctx context.Context, m Monitor, fetchErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, m.ID)
	return f.fail
}

func (f *fakeNotifier) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

// countingAdapter returns a fixed sample and counts invocations.
type countingAdapter struct {
	mu     sync.Mutex
	calls  int
	sample Sample
	err    error
}

func (c *countingAdapter) fetch(ctx context.Context, m Monitor) (Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.sample, c.err
}

func (c *countingAdapter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestScheduler(r *Registry, adapter *countingAdapter, n Notifier) *Scheduler {
	return NewScheduler(r, AdapterSet{TypePrice: adapter.fetch}, n, SchedulerOptions{
		SweepInterval:  time.Second,
		AdapterTimeout: time.Second,
		MaxRetries:     0,
		WorkerPoolSize: 2,
	})
}

func registerBound(t *testing.T, r *Registry, id string, intervalMin int, flags NotifyFlags) {
	t.Helper()
	cfg := validConfig(id, "token-a")
	cfg.CheckIntervalMinutes = intervalMin
	cfg.Notify = flags
	if err := r.Register(cfg); err != nil {
		t.Fatalf("register %s failed: %v", id, err)
	}
	r.Bind("token-a", 111)
}

func TestSweepSkipsUnboundMonitors(t *testing.T) {
	r := NewRegistry(0, 0)
	adapter := &countingAdapter{sample: Sample{Valid: true, Value: dec(100)}}
	notifier := &fakeNotifier{}

	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	s := newTestScheduler(r, adapter, notifier)
	s.Sweep(context.Background())

	if adapter.callCount() != 0 {
		t.Error("unbound monitor must not be fetched")
	}
	if notifier.alertCount() != 0 {
		t.Error("unbound monitor must not be notified")
	}
}

func TestSweepSkipsPausedMonitors(t *testing.T) {
	r := NewRegistry(0, 0)
	adapter := &countingAdapter{sample: Sample{Valid: true, Value: dec(100)}}
	notifier := &fakeNotifier{}

	registerBound(t, r, "w1", 30, NotifyFlags{OnAlert: true})
	if err := r.Stop("w1"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	s := newTestScheduler(r, adapter, notifier)
	s.Sweep(context.Background())

	if adapter.callCount() != 0 {
		t.Error("paused monitor must not be fetched")
	}
}

func TestSweepDueGate(t *testing.T) {
	r := NewRegistry(0, 0)
	adapter := &countingAdapter{sample: Sample{Valid: true, Value: dec(100)}}
	notifier := &fakeNotifier{}

	registerBound(t, r, "w1", 60, NotifyFlags{OnAlert: true})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.MarkNotified("w1", base)

	s := newTestScheduler(r, adapter, notifier)

	// 30 minutes in: not due yet.
	s.SetClock(func() time.Time { return base.Add(30 * time.Minute) })
	s.Sweep(context.Background())
	if adapter.callCount() != 0 {
		t.Fatalf("monitor checked %d times before its interval elapsed", adapter.callCount())
	}

	// 61 minutes in: due.
	s.SetClock(func() time.Time { return base.Add(61 * time.Minute) })
	s.Sweep(context.Background())
	if adapter.callCount() != 1 {
		t.Fatalf("expected exactly one fetch once due, got %d", adapter.callCount())
	}
}

func TestSweepAlertsWhenConditionMet(t *testing.T) {
	r := NewRegistry(0, 0)
	// threshold in validConfig is 10; a sample of 100 crosses it.
	adapter := &countingAdapter{sample: Sample{Valid: true, Value: dec(100)}}
	notifier := &fakeNotifier{}

	registerBound(t, r, "w1", 30, NotifyFlags{OnAlert: true})

	s := newTestScheduler(r, adapter, notifier)
	s.Sweep(context.Background())

	if notifier.alertCount() != 1 {
		t.Fatalf("expected one alert, got %d", notifier.alertCount())
	}
	m, _ := r.Get("w1")
	if m.LastKnownStatus == nil || m.LastKnownStatus.Status != StatusAlertTriggered {
		t.Errorf("outcome not recorded, snapshot = %+v", m.LastKnownStatus)
	}
}

func TestSweepAlertFlagDisabledStaysQuiet(t *testing.T) {
	r := NewRegistry(0, 0)
	adapter := &countingAdapter{sample: Sample{Valid: true, Value: dec(100)}}
	notifier := &fakeNotifier{}

	registerBound(t, r, "w1", 30, NotifyFlags{})

	s := newTestScheduler(r, adapter, notifier)
	s.Sweep(context.Background())

	if notifier.alertCount() != 0 {
		t.Error("alert sent despite onAlert being disabled")
	}
	// The outcome is still recorded for the /watcher query command.
	m, _ := r.Get("w1")
	if m.LastKnownStatus == nil {
		t.Error("outcome must be recorded even when no channel fires")
	}
}

func TestSweepFetchErrorPath(t *testing.T) {
	r := NewRegistry(0, 0)
	adapter := &countingAdapter{err: errors.New("upstream down")}
	notifier := &fakeNotifier{}

	registerBound(t, r, "w1", 30, NotifyFlags{OnAlert: true, OnError: true})

	s := newTestScheduler(r, adapter, notifier)
	s.Sweep(context.Background())

	notifier.mu.Lock()
	errNotices := len(notifier.errs)
	alerts := len(notifier.alerts)
	notifier.mu.Unlock()
	if errNotices != 1 {
		t.Fatalf("expected one error notice, got %d", errNotices)
	}
	if alerts != 0 {
		t.Error("fetch failure must not produce an alert")
	}

	// The failure lands in the per-watcher log and leaves the monitor due.
	var found bool
	for _, e := range r.Logs("w1") {
		if e.Kind == LogKindError {
			found = true
		}
	}
	if !found {
		t.Error("fetch failure must be appended to the watcher log")
	}
	m, _ := r.Get("w1")
	if m.LastNotifiedAt != nil {
		t.Error("fetch failure must not advance lastNotifiedAt")
	}
}

func TestSweepFetchErrorNoticeGatedSeparately(t *testing.T) {
	r := NewRegistry(0, 0)
	adapter := &countingAdapter{err: errors.New("upstream down")}
	notifier := &fakeNotifier{}

	registerBound(t, r, "w1", 60, NotifyFlags{OnError: true})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.MarkErrorNotified("w1", base)

	s := newTestScheduler(r, adapter, notifier)
	s.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	s.Sweep(context.Background())

	notifier.mu.Lock()
	errNotices := len(notifier.errs)
	notifier.mu.Unlock()
	if errNotices != 0 {
		t.Error("error notice repeated inside its interval")
	}
	// The monitor itself was still checked: the error gate is independent
	// of the check gate.
	if adapter.callCount() != 1 {
		t.Errorf("expected one fetch, got %d", adapter.callCount())
	}
}

func TestSweepMissingAdapterIsContained(t *testing.T) {
	r := NewRegistry(0, 0)
	notifier := &fakeNotifier{}

	cfg := validConfig("w1", "token-a")
	cfg.Type = TypeBalance
	cfg.Notify = NotifyFlags{OnError: true}
	if err := r.Register(cfg); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	r.Bind("token-a", 111)

	// Adapter set only covers price; the balance monitor hits the missing
	// adapter path, which must behave like any other fetch failure.
	s := NewScheduler(r, AdapterSet{}, notifier, SchedulerOptions{WorkerPoolSize: 1})
	s.Sweep(context.Background())

	notifier.mu.Lock()
	errNotices := len(notifier.errs)
	notifier.mu.Unlock()
	if errNotices != 1 {
		t.Errorf("expected one error notice for missing adapter, got %d", errNotices)
	}
}

func TestStopResumeSweepRoundTrip(t *testing.T) {
	r := NewRegistry(0, 0)
	adapter := &countingAdapter{sample: Sample{Valid: true, Value: dec(100)}}
	notifier := &fakeNotifier{}

	registerBound(t, r, "w1", 30, NotifyFlags{OnAlert: true})

	s := newTestScheduler(r, adapter, notifier)
	s.Sweep(context.Background())
	if notifier.alertCount() != 1 {
		t.Fatalf("expected one alert before stop, got %d", notifier.alertCount())
	}

	if err := r.Stop("w1"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	s.Sweep(context.Background())
	if adapter.callCount() != 1 {
		t.Error("stopped monitor was still fetched")
	}

	if err := r.Resume("w1"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	s.Sweep(context.Background())
	if adapter.callCount() != 2 {
		t.Error("resumed monitor must be checked on the next sweep")
	}
	if notifier.alertCount() != 2 {
		t.Errorf("resumed monitor must re-derive and re-alert, got %d alerts", notifier.alertCount())
	}
}
