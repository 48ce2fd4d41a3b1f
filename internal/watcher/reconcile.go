package watcher

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the result of reconciling one adapter sample.
type Outcome struct {
	Status       Status
	Value        decimal.Decimal
	ConditionMet bool
}

// Reconcile derives a monitor status from scratch each tick. It is a pure
// function of its inputs; no incremental patching, so status cannot drift
// across missed ticks.
//
// Priority order:
//  1. pausedByUser always wins and forces Stopped.
//  2. an invalid sample keeps the monitor Active with no condition met;
//     bad upstream data never triggers an alert and never stops a watcher.
//  3. otherwise the sample is compared against the threshold per monitor
//     type semantics.
func Reconcile(t MonitorType, s Sample, threshold decimal.Decimal, pausedByUser bool) Outcome {
	if pausedByUser {
		return Outcome{Status: StatusStopped, Value: s.Value, ConditionMet: false}
	}

	if !s.Valid {
		return Outcome{Status: StatusActive, Value: s.Value, ConditionMet: false}
	}

	met := conditionMet(t, s, threshold)
	status := StatusActive
	if met {
		status = StatusAlertTriggered
	}
	return Outcome{Status: status, Value: s.Value, ConditionMet: met}
}

// conditionMet applies per-type threshold semantics.
func conditionMet(t MonitorType, s Sample, threshold decimal.Decimal) bool {
	switch t {
	case TypePrice, TypeFloorPrice, TypeMarketplaceSale:
		// value reached the limit
		return s.Value.GreaterThanOrEqual(threshold)
	case TypeTransactionVolume, TypeWhaleTransfer, TypeVaultActivity, TypePlayerStat:
		// count exceeded the limit
		return s.Value.GreaterThan(threshold)
	case TypeEvent:
		return s.Value.GreaterThan(decimal.Zero)
	case TypeOwnership:
		return s.Detected
	case TypeBalance:
		// low balance warning
		return s.Value.LessThan(threshold)
	default:
		return false
	}
}

// SnapshotFor builds the stored status snapshot for an outcome.
func SnapshotFor(out Outcome, threshold decimal.Decimal, at time.Time) *StatusSnapshot {
	return &StatusSnapshot{
		Status:       out.Status,
		Value:        out.Value,
		Threshold:    threshold,
		ConditionMet: out.ConditionMet,
		CheckedAt:    at,
	}
}
