package internal

import (
	"context"

	aggerrors "github.com/chrisconley/tally/internal/errors"
)

type sumStrategy struct{}

func (sumStrategy) compute(ctx context.Context, c computation) ([]GroupAggregation, error) {
	counts, err := eventCounts(ctx, c)
	if err != nil {
		return nil, err
	}
	sums, err := valuesByGroup(ctx, c, c.store.Sum, c.store.GroupedSum)
	if err != nil {
		return nil, err
	}

	sumByKey := indexValues(sums)
	out := make([]GroupAggregation, 0, len(counts))
	for _, g := range counts {
		sum := sumByKey[g.Groups.Key()]
		out = append(out, GroupAggregation{
			Groups:            g.Groups,
			Aggregation:       sum,
			Count:             g.Value,
			CurrentUsageUnits: sum,
		})
	}
	return out, nil
}

// The advance-priced increment is the event's own magnitude.
func (sumStrategy) payInAdvance(_ context.Context, c computation, event Event) (Decimal, error) {
	value, ok, err := event.Decimal(c.query.Field)
	if err != nil {
		return Decimal{}, aggerrors.Wrap(aggerrors.TypeInvalidRequest, "triggering event", err)
	}
	if !ok {
		return ZeroDecimal(), nil
	}
	return value, nil
}

func (sumStrategy) runningTotal(ctx context.Context, c computation, options FreeUnitOptions, _ Decimal) (RunningTotal, error) {
	if !options.Enabled() {
		return RunningTotal{}, nil
	}
	values, err := c.store.EventValues(ctx, c.query)
	if err != nil {
		return RunningTotal{}, err
	}
	return CumulativeRunningTotal(options, values), nil
}

func (sumStrategy) perEvent(ctx context.Context, c computation) ([]Decimal, error) {
	return c.store.EventValues(ctx, c.query)
}
