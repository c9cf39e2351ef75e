package internal

import "context"

type latestStrategy struct{}

func (latestStrategy) compute(ctx context.Context, c computation) ([]GroupAggregation, error) {
	counts, err := eventCounts(ctx, c)
	if err != nil {
		return nil, err
	}
	latest, err := valuesByGroup(ctx, c, c.store.Latest, c.store.GroupedLatest)
	if err != nil {
		return nil, err
	}

	latestByKey := indexValues(latest)
	out := make([]GroupAggregation, 0, len(counts))
	for _, g := range counts {
		value := latestByKey[g.Groups.Key()]
		out = append(out, GroupAggregation{
			Groups:            g.Groups,
			Aggregation:       value,
			Count:             g.Value,
			CurrentUsageUnits: value,
		})
	}
	return out, nil
}

func (latestStrategy) payInAdvance(context.Context, computation, Event) (Decimal, error) {
	return one(), nil
}

func (latestStrategy) runningTotal(context.Context, computation, FreeUnitOptions, Decimal) (RunningTotal, error) {
	return RunningTotal{}, nil
}

func (latestStrategy) perEvent(context.Context, computation) ([]Decimal, error) {
	return nil, perEventNotSupported(AggregationLatest)
}
