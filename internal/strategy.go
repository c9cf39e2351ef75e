package internal

import (
	"context"
	"time"

	aggerrors "github.com/chrisconley/tally/internal/errors"
)

// computation is the read-only input shared by every strategy step of one call.
type computation struct {
	store EventStore
	query EventQuery
	now   time.Time
}

func (c computation) grouped() bool {
	return !c.query.GroupBy.IsEmpty()
}

// AggregationStrategy computes one billable-metric type. The method set is
// unexported so the family stays closed to this package.
type AggregationStrategy interface {
	// compute returns one entry per non-empty group. An ungrouped query is a
	// single implicit group and always yields exactly one entry.
	compute(ctx context.Context, c computation) ([]GroupAggregation, error)

	// payInAdvance returns the contribution of event on its own.
	payInAdvance(ctx context.Context, c computation, event Event) (Decimal, error)

	runningTotal(ctx context.Context, c computation, options FreeUnitOptions, aggregation Decimal) (RunningTotal, error)

	perEvent(ctx context.Context, c computation) ([]Decimal, error)
}

// fixedPayInAdvance is implemented by strategies whose pay-in-advance value
// does not depend on the triggering event. Their ungrouped results carry the
// value in arrears mode as well.
type fixedPayInAdvance interface {
	fixedPayInAdvance() Decimal
}

// Strategies maps aggregation types to their implementation.
type Strategies map[string]AggregationStrategy

// DefaultStrategies registers one strategy per supported aggregation type.
func DefaultStrategies() Strategies {
	return Strategies{
		AggregationCount:       countStrategy{},
		AggregationUniqueCount: uniqueCountStrategy{},
		AggregationSum:         sumStrategy{},
		AggregationMax:         maxStrategy{},
		AggregationLatest:      latestStrategy{},
		AggregationTimeBased:   timeBasedStrategy{},
	}
}

func (s Strategies) lookup(t AggregationType) (AggregationStrategy, error) {
	strategy, ok := s[t.ToString()]
	if !ok || strategy == nil {
		return nil, aggerrors.UnsupportedAggregationType(t.ToString())
	}
	return strategy, nil
}

func perEventNotSupported(t string) error {
	return aggerrors.Newf(aggerrors.TypeUnsupportedAggregation,
		"per-event aggregation is not supported for %s metrics", t).
		WithContext("aggregation_type", t)
}

func one() Decimal {
	return NewDecimalFromInt64(1)
}

// The helpers below run the scalar store query for ungrouped computations and
// the grouped one otherwise, so strategies share a single code path.

func countsByGroup(ctx context.Context, c computation,
	scalar func(context.Context, EventQuery) (int64, error),
	grouped func(context.Context, EventQuery) ([]GroupCount, error),
) ([]GroupCount, error) {
	if !c.grouped() {
		n, err := scalar(ctx, c.query)
		if err != nil {
			return nil, err
		}
		return []GroupCount{{Value: n}}, nil
	}
	return grouped(ctx, c.query)
}

func valuesByGroup(ctx context.Context, c computation,
	scalar func(context.Context, EventQuery) (Decimal, error),
	grouped func(context.Context, EventQuery) ([]GroupValue, error),
) ([]GroupValue, error) {
	if !c.grouped() {
		v, err := scalar(ctx, c.query)
		if err != nil {
			return nil, err
		}
		return []GroupValue{{Value: v}}, nil
	}
	return grouped(ctx, c.query)
}

func eventCounts(ctx context.Context, c computation) ([]GroupCount, error) {
	return countsByGroup(ctx, c, c.store.Count, c.store.GroupedCount)
}

func indexCounts(groups []GroupCount) map[string]int64 {
	out := make(map[string]int64, len(groups))
	for _, g := range groups {
		out[g.Groups.Key()] = g.Value
	}
	return out
}

func indexValues(groups []GroupValue) map[string]Decimal {
	out := make(map[string]Decimal, len(groups))
	for _, g := range groups {
		out[g.Groups.Key()] = g.Value
	}
	return out
}
