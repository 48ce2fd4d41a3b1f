package watcher

// Package watcher holds the in-memory registry of deployed watcher monitors
// and the sweep scheduler that drives checks, reconciliation and dispatch.

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitorType selects which data adapter and message templates apply.
type MonitorType string

const (
	TypePrice             MonitorType = "price"
	TypeTransactionVolume MonitorType = "transaction-volume"
	TypeEvent             MonitorType = "event"
	TypeOwnership         MonitorType = "ownership"
	TypeFloorPrice        MonitorType = "floor-price"
	TypeBalance           MonitorType = "balance"
	TypeWhaleTransfer     MonitorType = "whale-transfer"
	TypePlayerStat        MonitorType = "player-stat"
	TypeVaultActivity     MonitorType = "vault-activity"
	TypeMarketplaceSale   MonitorType = "marketplace-sale"
)

// MonitorTypes lists every supported monitor type.
var MonitorTypes = []MonitorType{
	TypePrice,
	TypeTransactionVolume,
	TypeEvent,
	TypeOwnership,
	TypeFloorPrice,
	TypeBalance,
	TypeWhaleTransfer,
	TypePlayerStat,
	TypeVaultActivity,
	TypeMarketplaceSale,
}

// Known reports whether t is a supported monitor type.
func (t MonitorType) Known() bool {
	for _, known := range MonitorTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the reconciled state of a monitor.
type Status string

const (
	StatusActive         Status = "active"
	StatusAlertTriggered Status = "alert_triggered"
	StatusStopped        Status = "stopped"
	StatusUnknown        Status = "unknown"
)

// NotifyFlags controls which notification channels a monitor uses.
type NotifyFlags struct {
	OnAlert  bool `json:"onAlert"`
	OnStatus bool `json:"onStatus"`
	OnError  bool `json:"onError"`
}

// StatusSnapshot is the last reconciled status, kept for idempotent
// re-renders and the /watcher query command.
type StatusSnapshot struct {
	Status       Status          `json:"status"`
	Value        decimal.Decimal `json:"value"`
	Threshold    decimal.Decimal `json:"threshold"`
	ConditionMet bool            `json:"conditionMet"`
	CheckedAt    time.Time       `json:"checkedAt"`
}

// Monitor is one user-configured tracking task.
type Monitor struct {
	ID         string      `json:"id"`
	Credential string      `json:"-"`
	Type       MonitorType `json:"monitorType"`

	// Destination is the session-scoped chat id; nil until a start
	// event from the matching credential binds it.
	Destination *int64 `json:"destination,omitempty"`

	CheckIntervalMinutes int             `json:"checkIntervalMinutes"`
	Threshold            decimal.Decimal `json:"threshold"`
	Notify               NotifyFlags     `json:"notifyFlags"`

	// PausedByUser is set only by explicit stop/resume calls, never by
	// the scheduler or reconciliation.
	PausedByUser bool `json:"pausedByUser"`

	LastNotifiedAt      *time.Time      `json:"lastNotifiedAt,omitempty"`
	LastErrorNotifiedAt *time.Time      `json:"lastErrorNotifiedAt,omitempty"`
	LastKnownStatus     *StatusSnapshot `json:"lastKnownStatus,omitempty"`

	// Descriptive metadata, used only for formatting.
	DisplayName string `json:"displayName"`
	EventName   string `json:"eventName,omitempty"`
	GroupTag    string `json:"groupTag,omitempty"`
	TemplateTag string `json:"templateTag,omitempty"`
}

// Bound reports whether the monitor has a delivery destination.
func (m *Monitor) Bound() bool {
	return m.Destination != nil
}

// DueForCheck reports whether the monitor should be checked at now.
// Check cadence is deliberately coupled to notify cadence: a monitor is
// never checked more often than it would notify.
func (m *Monitor) DueForCheck(now time.Time) bool {
	if m.LastNotifiedAt == nil {
		return true
	}
	interval := time.Duration(m.CheckIntervalMinutes) * time.Minute
	return now.Sub(*m.LastNotifiedAt) >= interval
}

// DueForErrorNotice gates the onError channel separately from the
// alert/status channel so a fetch error cannot suppress a real alert.
func (m *Monitor) DueForErrorNotice(now time.Time) bool {
	if m.LastErrorNotifiedAt == nil {
		return true
	}
	interval := time.Duration(m.CheckIntervalMinutes) * time.Minute
	return now.Sub(*m.LastErrorNotifiedAt) >= interval
}

// LogKind classifies notification log entries.
type LogKind string

const (
	LogKindNotification LogKind = "notification"
	LogKindError        LogKind = "error"
	LogKindSystem       LogKind = "system"
)

// LogEntry is one audit record for a watcher.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      LogKind                `json:"kind"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// HistoryPoint is one reconciled value kept for chart rendering.
type HistoryPoint struct {
	At    time.Time
	Value decimal.Decimal
}
