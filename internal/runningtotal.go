package internal

import (
	"fmt"

	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/specs"
)

// FreeUnitOptions configures the free-unit allowance of a charge. The zero
// value disables running-total tracking.
type FreeUnitOptions struct {
	perEvents           int64
	perTotalAggregation Decimal
}

func NewFreeUnitOptions(spec specs.FreeUnitOptionsSpec) (FreeUnitOptions, error) {
	if spec.FreeUnitsPerEvents < 0 {
		return FreeUnitOptions{}, aggerrors.InvalidRequest("free units per events cannot be negative")
	}

	perTotal := ZeroDecimal()
	if spec.FreeUnitsPerTotalAggregation != "" {
		d, err := NewDecimal(spec.FreeUnitsPerTotalAggregation)
		if err != nil {
			return FreeUnitOptions{}, aggerrors.Wrap(aggerrors.TypeInvalidRequest, "invalid free units per total aggregation", err)
		}
		if d.IsNegative() {
			return FreeUnitOptions{}, aggerrors.InvalidRequest("free units per total aggregation cannot be negative")
		}
		perTotal = d
	}

	return FreeUnitOptions{
		perEvents:           spec.FreeUnitsPerEvents,
		perTotalAggregation: perTotal,
	}, nil
}

func (o FreeUnitOptions) PerEvents() int64 {
	return o.perEvents
}

func (o FreeUnitOptions) PerTotalAggregation() Decimal {
	return o.perTotalAggregation
}

// Enabled reports whether any free-unit option is set.
func (o FreeUnitOptions) Enabled() bool {
	return o.perEvents != 0 || !o.perTotalAggregation.IsZero()
}

// RunningTotal is the 1-indexed cumulative consumption sequence used to
// classify units as free or billable.
type RunningTotal struct {
	values []Decimal
}

func (r RunningTotal) Len() int {
	return len(r.values)
}

func (r RunningTotal) Values() []Decimal {
	return append([]Decimal(nil), r.values...)
}

// At returns the cumulative total after the i-th unit, 1-indexed.
func (r RunningTotal) At(i int) Decimal {
	return r.values[i-1]
}

func (r RunningTotal) ToSpec() []string {
	out := make([]string, len(r.values))
	for i, v := range r.values {
		out[i] = v.String()
	}
	return out
}

// MaxUnitRunningTotal bounds the length of a unit running total. Each entry
// is a separate decimal, so the sequence grows linearly with the count.
const MaxUnitRunningTotal = 1_000_000

// UnitRunningTotal returns [1, 2, ..., aggregation] when free units are
// enabled, otherwise an empty sequence. Aggregations above
// MaxUnitRunningTotal are rejected before anything is allocated.
func UnitRunningTotal(options FreeUnitOptions, aggregation Decimal) (RunningTotal, error) {
	if !options.Enabled() {
		return RunningTotal{}, nil
	}
	n, err := aggregation.Int64()
	if err != nil {
		return RunningTotal{}, fmt.Errorf("running total over %s: %w", aggregation.String(), err)
	}
	if n <= 0 {
		return RunningTotal{}, nil
	}
	if n > MaxUnitRunningTotal {
		return RunningTotal{}, aggerrors.Newf(aggerrors.TypeInvalidRequest,
			"running total of %d units exceeds the limit of %d", n, MaxUnitRunningTotal).
			WithContext("aggregation", aggregation.String())
	}
	values := make([]Decimal, n)
	for i := int64(0); i < n; i++ {
		values[i] = NewDecimalFromInt64(i + 1)
	}
	return RunningTotal{values: values}, nil
}

// CumulativeRunningTotal returns the prefix sums of per-event contributions
// when free units are enabled, otherwise an empty sequence. It holds one entry
// per event, the same size as perEvent.
func CumulativeRunningTotal(options FreeUnitOptions, perEvent []Decimal) RunningTotal {
	if !options.Enabled() {
		return RunningTotal{}
	}
	values := make([]Decimal, len(perEvent))
	total := ZeroDecimal()
	for i, v := range perEvent {
		total = total.Add(v)
		values[i] = total
	}
	return RunningTotal{values: values}
}
