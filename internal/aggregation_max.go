package internal

import "context"

type maxStrategy struct{}

// Current usage is the peak up to now, even past the window end, so a max
// charge can reflect peak usage before the period closes.
func (maxStrategy) compute(ctx context.Context, c computation) ([]GroupAggregation, error) {
	counts, err := eventCounts(ctx, c)
	if err != nil {
		return nil, err
	}
	maxes, err := valuesByGroup(ctx, c, c.store.Max, c.store.GroupedMax)
	if err != nil {
		return nil, err
	}

	current := c
	current.query = c.query.WithWindow(c.query.Window.ExtendTo(c.now))
	peaks, err := valuesByGroup(ctx, current, c.store.Max, c.store.GroupedMax)
	if err != nil {
		return nil, err
	}

	maxByKey := indexValues(maxes)
	peakByKey := indexValues(peaks)
	out := make([]GroupAggregation, 0, len(counts))
	for _, g := range counts {
		key := g.Groups.Key()
		out = append(out, GroupAggregation{
			Groups:            g.Groups,
			Aggregation:       maxByKey[key],
			Count:             g.Value,
			CurrentUsageUnits: peakByKey[key],
		})
	}
	return out, nil
}

func (maxStrategy) payInAdvance(context.Context, computation, Event) (Decimal, error) {
	return one(), nil
}

func (maxStrategy) runningTotal(context.Context, computation, FreeUnitOptions, Decimal) (RunningTotal, error) {
	return RunningTotal{}, nil
}

func (maxStrategy) perEvent(context.Context, computation) ([]Decimal, error) {
	return nil, perEventNotSupported(AggregationMax)
}
