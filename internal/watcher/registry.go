package watcher

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	log "watcher-hub/internal/infra/log"
)

// SessionBinder is the slice of the bot session manager the registry needs:
// acquire a session slot on register, release it on unregister.
type SessionBinder interface {
	Acquire(credential, monitorID string) error
	Release(credential, monitorID string)
}

// RegisterConfig carries everything an external registration call provides.
type RegisterConfig struct {
	ID                   string      `json:"id"`
	Credential           string      `json:"credential"`
	Type                 MonitorType `json:"monitorType"`
	CheckIntervalMinutes int         `json:"checkIntervalMinutes"`
	Threshold            float64     `json:"threshold"`
	Notify               NotifyFlags `json:"notifyFlags"`
	DisplayName          string      `json:"displayName"`
	EventName            string      `json:"eventName"`
	GroupTag             string      `json:"groupTag"`
	TemplateTag          string      `json:"templateTag"`
}

// Registry is the authoritative in-memory store of watcher monitors.
// It is the only shared mutable state of the core: every surface (HTTP
// handlers, session commands, scheduler sweeps) goes through its mutex, so
// each operation is atomic at the granularity of one monitor mutation.
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
	logs     map[string][]LogEntry
	history  map[string][]HistoryPoint

	logCap     int
	historyCap int

	sessions SessionBinder
	now      func() time.Time
}

// NewRegistry builds an empty registry. Construct a fresh one per test;
// there is no package-level state.
func NewRegistry(logCap, historyCap int) *Registry {
	if logCap <= 0 {
		logCap = 100
	}
	if historyCap <= 0 {
		historyCap = 48
	}
	return &Registry{
		monitors:   make(map[string]*Monitor),
		logs:       make(map[string][]LogEntry),
		history:    make(map[string][]HistoryPoint),
		logCap:     logCap,
		historyCap: historyCap,
		now:        time.Now,
	}
}

// AttachSessions wires the bot session manager after construction (the
// manager itself needs the registry, so the two are linked in two steps).
func (r *Registry) AttachSessions(s SessionBinder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = s
}

// SetClock overrides the time source, used by tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register validates the config, acquires a bot session slot and inserts
// the monitor unbound and unpaused. On any failure nothing is mutated.
func (r *Registry) Register(cfg RegisterConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: missing id", ErrRegistration)
	}
	if cfg.Credential == "" {
		return fmt.Errorf("%w: missing credential", ErrRegistration)
	}
	if !cfg.Type.Known() {
		return fmt.Errorf("%w: unknown monitor type %q", ErrRegistration, cfg.Type)
	}
	if cfg.CheckIntervalMinutes <= 0 {
		return fmt.Errorf("%w: checkIntervalMinutes must be positive", ErrRegistration)
	}

	r.mu.Lock()
	if _, exists := r.monitors[cfg.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: id %q already registered", ErrRegistration, cfg.ID)
	}
	sessions := r.sessions
	r.mu.Unlock()

	// Session construction happens outside the lock: it may dial Telegram.
	if sessions != nil {
		if err := sessions.Acquire(cfg.Credential, cfg.ID); err != nil {
			return fmt.Errorf("%w: %v", ErrRegistration, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.monitors[cfg.ID]; exists {
		// Lost the race to a concurrent register with the same id.
		if sessions != nil {
			go sessions.Release(cfg.Credential, cfg.ID)
		}
		return fmt.Errorf("%w: id %q already registered", ErrRegistration, cfg.ID)
	}

	m := &Monitor{
		ID:                   cfg.ID,
		Credential:           cfg.Credential,
		Type:                 cfg.Type,
		CheckIntervalMinutes: cfg.CheckIntervalMinutes,
		Threshold:            decimal.NewFromFloat(cfg.Threshold),
		Notify:               cfg.Notify,
		DisplayName:          cfg.DisplayName,
		EventName:            cfg.EventName,
		GroupTag:             cfg.GroupTag,
		TemplateTag:          cfg.TemplateTag,
	}
	r.monitors[cfg.ID] = m
	r.appendLogLocked(cfg.ID, LogKindSystem, "watcher registered", map[string]interface{}{
		"monitorType": string(cfg.Type),
	})

	log.LogInfo("Watcher registered",
		zap.String("id", cfg.ID),
		zap.String("type", string(cfg.Type)),
		zap.String("displayName", cfg.DisplayName))
	return nil
}

// Stop pauses a monitor. The entry stays registered; the scheduler skips
// it until an explicit resume.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWatcher, id)
	}
	m.PausedByUser = true
	r.appendLogLocked(id, LogKindSystem, "watcher stopped by user", nil)
	log.LogInfo("Watcher stopped", zap.String("id", id))
	return nil
}

// Resume clears the pause flag and resets the notification clocks so the
// next sweep re-derives the status from fresh adapter data instead of
// trusting anything recorded before the pause.
func (r *Registry) Resume(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWatcher, id)
	}
	m.PausedByUser = false
	m.LastNotifiedAt = nil
	m.LastErrorNotifiedAt = nil
	r.appendLogLocked(id, LogKindSystem, "watcher resumed by user", nil)
	log.LogInfo("Watcher resumed", zap.String("id", id))
	return nil
}

// Unregister removes the monitor, its logs and history, and releases its
// bot session slot (which may tear the session down once empty).
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	m, ok := r.monitors[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWatcher, id)
	}
	credential := m.Credential
	delete(r.monitors, id)
	delete(r.logs, id)
	delete(r.history, id)
	sessions := r.sessions
	r.mu.Unlock()

	if sessions != nil {
		sessions.Release(credential, id)
	}
	log.LogInfo("Watcher unregistered", zap.String("id", id))
	return nil
}

// Get returns a copy of the monitor.
func (r *Registry) Get(id string) (Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[id]
	if !ok {
		return Monitor{}, false
	}
	return cloneMonitor(m), true
}

// List returns copies of every registered monitor.
func (r *Registry) List() []Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, cloneMonitor(m))
	}
	return out
}

// ForCredential returns copies of the monitors configured with credential.
func (r *Registry) ForCredential(credential string) []Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Monitor
	for _, m := range r.monitors {
		if m.Credential == credential {
			out = append(out, cloneMonitor(m))
		}
	}
	return out
}

// FindByName returns monitors for credential whose display name contains
// the given substring, case-insensitively.
func (r *Registry) FindByName(credential, substr string) []Monitor {
	needle := strings.ToLower(substr)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Monitor
	for _, m := range r.monitors {
		if m.Credential != credential {
			continue
		}
		if strings.Contains(strings.ToLower(m.DisplayName), needle) {
			out = append(out, cloneMonitor(m))
		}
	}
	return out
}

// Bind sets the destination on every monitor configured with credential.
// Monitors bound for the first time are returned separately so the caller
// can send per-monitor welcomes; already-bound monitors are re-pointed at
// the new destination (last start wins).
func (r *Registry) Bind(credential string, destination int64) (newly []Monitor, matched int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.monitors {
		if m.Credential != credential {
			continue
		}
		matched++
		first := m.Destination == nil
		dest := destination
		m.Destination = &dest
		if first {
			newly = append(newly, cloneMonitor(m))
			r.appendLogLocked(m.ID, LogKindSystem, "destination bound", map[string]interface{}{
				"destination": destination,
			})
		}
	}
	return newly, matched
}

// Logs returns a copy of the notification log. Unknown ids yield an empty
// slice, not an error.
func (r *Registry) Logs(id string) []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.logs[id]
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}

// AppendLog records one audit entry for a watcher, capping the ring.
func (r *Registry) AppendLog(id string, kind LogKind, message string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.monitors[id]; !ok {
		return
	}
	r.appendLogLocked(id, kind, message, data)
}

func (r *Registry) appendLogLocked(id string, kind LogKind, message string, data map[string]interface{}) {
	entry := LogEntry{
		ID:        uuid.NewString(),
		Timestamp: r.now(),
		Kind:      kind,
		Message:   message,
		Data:      data,
	}
	entries := append(r.logs[id], entry)
	if len(entries) > r.logCap {
		entries = entries[len(entries)-r.logCap:]
	}
	r.logs[id] = entries
}

// History returns a copy of the value history ring for chart rendering.
func (r *Registry) History(id string) []HistoryPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	points := r.history[id]
	out := make([]HistoryPoint, len(points))
	copy(out, points)
	return out
}

// RecordOutcome stores the reconciled snapshot and appends the value to
// the history ring.
func (r *Registry) RecordOutcome(id string, out Outcome, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	if !ok {
		return
	}
	m.LastKnownStatus = SnapshotFor(out, m.Threshold, at)

	points := append(r.history[id], HistoryPoint{At: at, Value: out.Value})
	if len(points) > r.historyCap {
		points = points[len(points)-r.historyCap:]
	}
	r.history[id] = points
}

// MarkNotified sets lastNotifiedAt. Called only after a message was
// actually dispatched.
func (r *Registry) MarkNotified(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.monitors[id]; ok {
		t := at
		m.LastNotifiedAt = &t
	}
}

// MarkErrorNotified sets lastErrorNotifiedAt for the onError channel.
func (r *Registry) MarkErrorNotified(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.monitors[id]; ok {
		t := at
		m.LastErrorNotifiedAt = &t
	}
}

func cloneMonitor(m *Monitor) Monitor {
	out := *m
	if m.Destination != nil {
		dest := *m.Destination
		out.Destination = &dest
	}
	if m.LastNotifiedAt != nil {
		t := *m.LastNotifiedAt
		out.LastNotifiedAt = &t
	}
	if m.LastErrorNotifiedAt != nil {
		t := *m.LastErrorNotifiedAt
		out.LastErrorNotifiedAt = &t
	}
	if m.LastKnownStatus != nil {
		snap := *m.LastKnownStatus
		out.LastKnownStatus = &snap
	}
	return out
}
