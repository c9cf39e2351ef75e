package internal

import "context"

// timeBasedStrategy is a presence signal: an active subscription uses exactly
// one unit per period, whatever its events.
type timeBasedStrategy struct{}

func (timeBasedStrategy) compute(context.Context, computation) ([]GroupAggregation, error) {
	return []GroupAggregation{{
		Aggregation:       one(),
		Count:             1,
		CurrentUsageUnits: one(),
	}}, nil
}

func (timeBasedStrategy) payInAdvance(context.Context, computation, Event) (Decimal, error) {
	return one(), nil
}

func (timeBasedStrategy) fixedPayInAdvance() Decimal {
	return one()
}

func (timeBasedStrategy) runningTotal(context.Context, computation, FreeUnitOptions, Decimal) (RunningTotal, error) {
	return RunningTotal{}, nil
}

func (timeBasedStrategy) perEvent(context.Context, computation) ([]Decimal, error) {
	return nil, perEventNotSupported(AggregationTimeBased)
}
