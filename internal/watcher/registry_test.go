package watcher

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeBinder records session slot traffic without touching Telegram.
type fakeBinder struct {
	acquired []string
	released []string
	failFor  map[string]error
}

func (f *fakeBinder) Acquire(credential, monitorID string) error {
	if err, ok := f.failFor[credential]; ok {
		return err
	}
	f.acquired = append(f.acquired, credential+"/"+monitorID)
	return nil
}

func (f *fakeBinder) Release(credential, monitorID string) {
	f.released = append(f.released, credential+"/"+monitorID)
}

func validConfig(id, credential string) RegisterConfig {
	return RegisterConfig{
		ID:                   id,
		Credential:           credential,
		Type:                 TypePrice,
		CheckIntervalMinutes: 30,
		Threshold:            10,
		Notify:               NotifyFlags{OnAlert: true},
		DisplayName:          "BTC price watch",
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(0, 0)
	binder := &fakeBinder{}
	r.AttachSessions(binder)

	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m, ok := r.Get("w1")
	if !ok {
		t.Fatal("monitor not found after register")
	}
	if m.Bound() {
		t.Error("fresh monitor must be unbound")
	}
	if m.PausedByUser {
		t.Error("fresh monitor must not be paused")
	}
	if m.LastNotifiedAt != nil {
		t.Error("fresh monitor must have no lastNotifiedAt")
	}
	if len(binder.acquired) != 1 || binder.acquired[0] != "token-a/w1" {
		t.Errorf("unexpected session acquisitions: %v", binder.acquired)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(0, 0)

	tests := []struct {
		name string
		cfg  RegisterConfig
	}{
		{"missing id", RegisterConfig{Credential: "t", Type: TypePrice, CheckIntervalMinutes: 5}},
		{"missing credential", RegisterConfig{ID: "x", Type: TypePrice, CheckIntervalMinutes: 5}},
		{"unknown type", RegisterConfig{ID: "x", Credential: "t", Type: "weather", CheckIntervalMinutes: 5}},
		{"zero interval", RegisterConfig{ID: "x", Credential: "t", Type: TypePrice}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.cfg)
			if !errors.Is(err, ErrRegistration) {
				t.Errorf("expected ErrRegistration, got %v", err)
			}
		})
	}

	if got := len(r.List()); got != 0 {
		t.Errorf("rejected registrations must not leave state, found %d monitors", got)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	r := NewRegistry(0, 0)
	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(validConfig("w1", "token-b")); !errors.Is(err, ErrRegistration) {
		t.Errorf("expected ErrRegistration for duplicate id, got %v", err)
	}
}

func TestRegisterSessionFailureLeavesNoState(t *testing.T) {
	r := NewRegistry(0, 0)
	binder := &fakeBinder{failFor: map[string]error{"bad-token": errors.New("unauthorized")}}
	r.AttachSessions(binder)

	err := r.Register(validConfig("w1", "bad-token"))
	if !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected ErrRegistration, got %v", err)
	}
	if _, ok := r.Get("w1"); ok {
		t.Error("failed registration must not leave a monitor behind")
	}
}

func TestStopResumeRoundTrip(t *testing.T) {
	r := NewRegistry(0, 0)
	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	r.MarkNotified("w1", time.Now())

	if err := r.Stop("w1"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	m, _ := r.Get("w1")
	if !m.PausedByUser {
		t.Error("stop must set the pause flag")
	}

	if err := r.Resume("w1"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	m, _ = r.Get("w1")
	if m.PausedByUser {
		t.Error("resume must clear the pause flag")
	}
	if m.LastNotifiedAt != nil {
		t.Error("resume must reset lastNotifiedAt so the next sweep checks immediately")
	}
}

func TestStopResumeUnknownID(t *testing.T) {
	r := NewRegistry(0, 0)
	if err := r.Stop("ghost"); !errors.Is(err, ErrUnknownWatcher) {
		t.Errorf("stop: expected ErrUnknownWatcher, got %v", err)
	}
	if err := r.Resume("ghost"); !errors.Is(err, ErrUnknownWatcher) {
		t.Errorf("resume: expected ErrUnknownWatcher, got %v", err)
	}
	if err := r.Unregister("ghost"); !errors.Is(err, ErrUnknownWatcher) {
		t.Errorf("unregister: expected ErrUnknownWatcher, got %v", err)
	}
}

func TestUnregisterReleasesSessionSlot(t *testing.T) {
	r := NewRegistry(0, 0)
	binder := &fakeBinder{}
	r.AttachSessions(binder)

	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Unregister("w1"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}

	if _, ok := r.Get("w1"); ok {
		t.Error("monitor still present after unregister")
	}
	if len(r.Logs("w1")) != 0 {
		t.Error("logs must be dropped with the monitor")
	}
	if len(binder.released) != 1 || binder.released[0] != "token-a/w1" {
		t.Errorf("unexpected session releases: %v", binder.released)
	}
}

func TestLogsUnknownIDIsEmptyNotError(t *testing.T) {
	r := NewRegistry(0, 0)
	logs := r.Logs("never-registered")
	if logs == nil {
		t.Fatal("logs must be an empty slice, not nil")
	}
	if len(logs) != 0 {
		t.Errorf("expected no entries, got %d", len(logs))
	}
}

func TestLogRingCap(t *testing.T) {
	r := NewRegistry(5, 0)
	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		r.AppendLog("w1", LogKindNotification, fmt.Sprintf("entry %d", i), nil)
	}

	logs := r.Logs("w1")
	if len(logs) != 5 {
		t.Fatalf("expected ring capped at 5, got %d", len(logs))
	}
	if logs[len(logs)-1].Message != "entry 19" {
		t.Errorf("ring must keep the newest entries, last = %q", logs[len(logs)-1].Message)
	}
}

func TestBindLastStartWins(t *testing.T) {
	r := NewRegistry(0, 0)
	for _, id := range []string{"w1", "w2"} {
		if err := r.Register(validConfig(id, "token-a")); err != nil {
			t.Fatalf("register %s failed: %v", id, err)
		}
	}
	if err := r.Register(validConfig("other", "token-b")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	newly, matched := r.Bind("token-a", 111)
	if matched != 2 {
		t.Errorf("expected 2 matched monitors, got %d", matched)
	}
	if len(newly) != 2 {
		t.Errorf("expected 2 newly bound monitors, got %d", len(newly))
	}

	// A later start from another chat re-points everything, but nothing is
	// "newly" bound anymore.
	newly, matched = r.Bind("token-a", 222)
	if matched != 2 || len(newly) != 0 {
		t.Errorf("rebind: matched=%d newly=%d, want 2 and 0", matched, len(newly))
	}
	for _, id := range []string{"w1", "w2"} {
		m, _ := r.Get(id)
		if m.Destination == nil || *m.Destination != 222 {
			t.Errorf("%s: destination not re-pointed, got %v", id, m.Destination)
		}
	}

	// The other credential's monitor is untouched.
	other, _ := r.Get("other")
	if other.Bound() {
		t.Error("bind must not leak across credentials")
	}
}

func TestBindDoesNotCoverLaterRegistrations(t *testing.T) {
	r := NewRegistry(0, 0)
	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	r.Bind("token-a", 111)

	// A monitor registered after the start event stays unbound until the
	// next start.
	if err := r.Register(validConfig("w2", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	m, _ := r.Get("w2")
	if m.Bound() {
		t.Error("binding must not apply retroactively to later registrations")
	}
}

func TestRecordOutcomeHistoryRing(t *testing.T) {
	r := NewRegistry(0, 3)
	if err := r.Register(validConfig("w1", "token-a")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		out := Outcome{Status: StatusActive, Value: dec(float64(i))}
		r.RecordOutcome("w1", out, base.Add(time.Duration(i)*time.Minute))
	}

	points := r.History("w1")
	if len(points) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(points))
	}
	if !points[2].Value.Equal(dec(9)) {
		t.Errorf("history must keep the newest values, last = %s", points[2].Value)
	}

	m, _ := r.Get("w1")
	if m.LastKnownStatus == nil {
		t.Fatal("RecordOutcome must store the status snapshot")
	}
	if m.LastKnownStatus.Status != StatusActive {
		t.Errorf("snapshot status = %s, want %s", m.LastKnownStatus.Status, StatusActive)
	}
}
