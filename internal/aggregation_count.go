package internal

import "context"

type countStrategy struct{}

func (countStrategy) compute(ctx context.Context, c computation) ([]GroupAggregation, error) {
	counts, err := eventCounts(ctx, c)
	if err != nil {
		return nil, err
	}

	out := make([]GroupAggregation, 0, len(counts))
	for _, g := range counts {
		value := NewDecimalFromInt64(g.Value)
		out = append(out, GroupAggregation{
			Groups:            g.Groups,
			Aggregation:       value,
			Count:             g.Value,
			CurrentUsageUnits: value,
		})
	}
	return out, nil
}

// Every event adds exactly one countable unit.
func (countStrategy) payInAdvance(context.Context, computation, Event) (Decimal, error) {
	return one(), nil
}

func (countStrategy) fixedPayInAdvance() Decimal {
	return one()
}

func (countStrategy) runningTotal(_ context.Context, _ computation, options FreeUnitOptions, aggregation Decimal) (RunningTotal, error) {
	return UnitRunningTotal(options, aggregation)
}

func (countStrategy) perEvent(ctx context.Context, c computation) ([]Decimal, error) {
	n, err := c.store.Count(ctx, c.query)
	if err != nil {
		return nil, err
	}
	out := make([]Decimal, n)
	for i := range out {
		out[i] = one()
	}
	return out, nil
}
