package watcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// Sample is one observation returned by a data adapter.
//
// Adapters signal "no real data yet" explicitly through Valid=false
// instead of encoding a known-bad placeholder number for the core to
// pattern-match.
type Sample struct {
	// Valid is false when the upstream returned a placeholder or an
	// out-of-range value. An invalid sample never triggers an alert.
	Valid bool

	// Value carries the numeric observation: a price, a count, a balance.
	Value decimal.Decimal

	// Detected carries boolean observations (ownership changed).
	Detected bool

	// Detail is optional freeform context for formatting (tx hash,
	// collection slug).
	Detail string
}

// InvalidSample is the sentinel an adapter returns when the upstream
// produced no usable data.
func InvalidSample() Sample {
	return Sample{Valid: false}
}

// Adapter fetches the current observation for one monitor. Adapters are
// opaque to the core: external packages register them per monitor type.
type Adapter func(ctx context.Context, m Monitor) (Sample, error)

// AdapterSet maps each monitor type to its data adapter.
type AdapterSet map[MonitorType]Adapter
