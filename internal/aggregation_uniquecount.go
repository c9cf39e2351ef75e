package internal

import (
	"context"
	"time"
)

type uniqueCountStrategy struct{}

func (uniqueCountStrategy) compute(ctx context.Context, c computation) ([]GroupAggregation, error) {
	counts, err := eventCounts(ctx, c)
	if err != nil {
		return nil, err
	}
	uniques, err := countsByGroup(ctx, c, c.store.UniqueCount, c.store.GroupedUniqueCount)
	if err != nil {
		return nil, err
	}
	active, err := countsByGroup(ctx, c, c.store.ActiveUniqueCount, c.store.GroupedActiveUniqueCount)
	if err != nil {
		return nil, err
	}

	uniqueByKey := indexCounts(uniques)
	activeByKey := indexCounts(active)
	out := make([]GroupAggregation, 0, len(counts))
	for _, g := range counts {
		key := g.Groups.Key()
		out = append(out, GroupAggregation{
			Groups:            g.Groups,
			Aggregation:       NewDecimalFromInt64(uniqueByKey[key]),
			Count:             g.Value,
			CurrentUsageUnits: NewDecimalFromInt64(activeByKey[key]),
		})
	}
	return out, nil
}

// A value counts once: an addition of a value that is already active, or a
// removal, contributes nothing.
func (uniqueCountStrategy) payInAdvance(ctx context.Context, c computation, event Event) (Decimal, error) {
	if event.Operation() == OperationRemove {
		return ZeroDecimal(), nil
	}
	value, ok := event.Properties.Get(c.query.Field.ToString())
	if !ok {
		return ZeroDecimal(), nil
	}

	// Only activity up to the trigger counts; events stamped later were
	// ingested out of order and do not make the value active yet.
	asOf := c.query.Window.TruncateTo(event.Timestamp.ToTime().Add(time.Nanosecond))
	q := c.query.Ungrouped().
		WithWindow(asOf).
		WithFilters(NewFilter(c.query.Field, value)).
		Excluding(event.TransactionID)
	active, err := c.store.ActiveUniqueCount(ctx, q)
	if err != nil {
		return Decimal{}, err
	}
	if active > 0 {
		return ZeroDecimal(), nil
	}
	return one(), nil
}

func (uniqueCountStrategy) runningTotal(context.Context, computation, FreeUnitOptions, Decimal) (RunningTotal, error) {
	return RunningTotal{}, nil
}

func (uniqueCountStrategy) perEvent(context.Context, computation) ([]Decimal, error) {
	return nil, perEventNotSupported(AggregationUniqueCount)
}
