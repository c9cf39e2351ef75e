package memory

import (
	"context"
	"sort"

	"github.com/chrisconley/tally/internal"
	aggerrors "github.com/chrisconley/tally/internal/errors"
)

// view answers queries over a fixed event slice. Callers hold the store lock.
type view struct {
	events []internal.Event
	byTx   map[txKey]int
}

// selected returns the events matching q, oldest first. The sort is stable so
// events sharing a timestamp keep their ingestion order.
func (v view) selected(ctx context.Context, q internal.EventQuery) ([]internal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, aggerrors.StoreUnavailable(err)
	}
	var out []internal.Event
	for _, e := range v.events {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.ToTime().Before(out[j].Timestamp.ToTime())
	})
	return out, nil
}

func (v view) rows(ctx context.Context, q internal.EventQuery) ([]internal.EventRow, error) {
	events, err := v.selected(ctx, q)
	if err != nil {
		return nil, err
	}
	rows := make([]internal.EventRow, len(events))
	for i, e := range events {
		rows[i] = internal.ProjectEvent(q, e)
	}
	return rows, nil
}

func (v view) counts(ctx context.Context, q internal.EventQuery, fold func([]internal.EventRow) []internal.GroupCount) ([]internal.GroupCount, error) {
	rows, err := v.rows(ctx, q)
	if err != nil {
		return nil, err
	}
	return fold(rows), nil
}

func (v view) values(ctx context.Context, operation string, q internal.EventQuery, fold func([]internal.EventRow) ([]internal.GroupValue, error)) ([]internal.GroupValue, error) {
	rows, err := v.rows(ctx, q)
	if err != nil {
		return nil, err
	}
	groups, err := fold(rows)
	if err != nil {
		return nil, aggerrors.StoreQueryFailed(operation, err)
	}
	return groups, nil
}

func (v view) scalarCount(ctx context.Context, q internal.EventQuery, fold func([]internal.EventRow) []internal.GroupCount) (int64, error) {
	groups, err := v.counts(ctx, q.Ungrouped(), fold)
	if err != nil {
		return 0, err
	}
	return internal.ScalarCount(groups), nil
}

func (v view) scalarValue(ctx context.Context, operation string, q internal.EventQuery, fold func([]internal.EventRow) ([]internal.GroupValue, error)) (internal.Decimal, error) {
	groups, err := v.values(ctx, operation, q.Ungrouped(), fold)
	if err != nil {
		return internal.Decimal{}, err
	}
	return internal.ScalarValue(groups), nil
}

func (v view) Count(ctx context.Context, q internal.EventQuery) (int64, error) {
	return v.scalarCount(ctx, q, internal.FoldCount)
}

func (v view) GroupedCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return v.counts(ctx, q, internal.FoldCount)
}

func (v view) Sum(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return v.scalarValue(ctx, "sum", q, internal.FoldSum)
}

func (v view) GroupedSum(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return v.values(ctx, "grouped sum", q, internal.FoldSum)
}

func (v view) UniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	return v.scalarCount(ctx, q, internal.FoldUniqueCount)
}

func (v view) GroupedUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return v.counts(ctx, q, internal.FoldUniqueCount)
}

func (v view) ActiveUniqueCount(ctx context.Context, q internal.EventQuery) (int64, error) {
	return v.scalarCount(ctx, q, internal.FoldActiveUniqueCount)
}

func (v view) GroupedActiveUniqueCount(ctx context.Context, q internal.EventQuery) ([]internal.GroupCount, error) {
	return v.counts(ctx, q, internal.FoldActiveUniqueCount)
}

func (v view) Max(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return v.scalarValue(ctx, "max", q, internal.FoldMax)
}

func (v view) GroupedMax(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return v.values(ctx, "grouped max", q, internal.FoldMax)
}

func (v view) Latest(ctx context.Context, q internal.EventQuery) (internal.Decimal, error) {
	return v.scalarValue(ctx, "latest", q, internal.FoldLatest)
}

func (v view) GroupedLatest(ctx context.Context, q internal.EventQuery) ([]internal.GroupValue, error) {
	return v.values(ctx, "grouped latest", q, internal.FoldLatest)
}

func (v view) EventValues(ctx context.Context, q internal.EventQuery) ([]internal.Decimal, error) {
	rows, err := v.rows(ctx, q.Ungrouped())
	if err != nil {
		return nil, err
	}
	values, err := internal.FoldValues(rows)
	if err != nil {
		return nil, aggerrors.StoreQueryFailed("event values", err)
	}
	return values, nil
}

func (v view) LastEvent(ctx context.Context, q internal.EventQuery) (*internal.Event, error) {
	events, err := v.selected(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	last := events[len(events)-1]
	return &last, nil
}

func (v view) Event(ctx context.Context, organizationID internal.OrganizationID, transactionID internal.EventTransactionID) (*internal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, aggerrors.StoreUnavailable(err)
	}
	i, ok := v.byTx[keyOf(organizationID, transactionID)]
	if !ok {
		return nil, nil
	}
	e := v.events[i]
	return &e, nil
}
