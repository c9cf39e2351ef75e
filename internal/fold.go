package internal

import (
	"fmt"
	"sort"
)

// EventRow is an event projected onto a query: its group, the raw value of the
// query field and its unique-count operation. Folds expect rows oldest first,
// with events sharing a timestamp in ingestion order.
type EventRow struct {
	Groups    GroupValues
	Value     string
	HasValue  bool
	Operation string
}

// ProjectEvent builds the row of e for q.
func ProjectEvent(q EventQuery, e Event) EventRow {
	row := EventRow{
		Groups:    q.GroupBy.ValuesOf(e.Properties),
		Operation: e.Operation(),
	}
	if !q.Field.IsZero() {
		row.Value, row.HasValue = e.Properties.Get(q.Field.ToString())
	}
	return row
}

type groupAccumulator[T any] struct {
	groups []GroupValues
	values map[string]*T
}

func newGroupAccumulator[T any]() *groupAccumulator[T] {
	return &groupAccumulator[T]{values: make(map[string]*T)}
}

func (a *groupAccumulator[T]) get(groups GroupValues) *T {
	key := groups.Key()
	v, ok := a.values[key]
	if !ok {
		v = new(T)
		a.values[key] = v
		a.groups = append(a.groups, groups)
	}
	return v
}

func (a *groupAccumulator[T]) sorted() []GroupValues {
	groups := append([]GroupValues(nil), a.groups...)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Less(groups[j])
	})
	return groups
}

// FoldCount counts rows per group.
func FoldCount(rows []EventRow) []GroupCount {
	acc := newGroupAccumulator[int64]()
	for _, row := range rows {
		*acc.get(row.Groups)++
	}
	out := make([]GroupCount, 0, len(acc.groups))
	for _, g := range acc.sorted() {
		out = append(out, GroupCount{Groups: g, Value: *acc.values[g.Key()]})
	}
	return out
}

// FoldUniqueCount counts distinct field values per group.
func FoldUniqueCount(rows []EventRow) []GroupCount {
	acc := newGroupAccumulator[map[string]bool]()
	for _, row := range rows {
		if !row.HasValue {
			continue
		}
		seen := acc.get(row.Groups)
		if *seen == nil {
			*seen = make(map[string]bool)
		}
		(*seen)[row.Value] = true
	}
	out := make([]GroupCount, 0, len(acc.groups))
	for _, g := range acc.sorted() {
		out = append(out, GroupCount{Groups: g, Value: int64(len(*acc.values[g.Key()]))})
	}
	return out
}

// FoldActiveUniqueCount counts field values whose last operation is an add.
func FoldActiveUniqueCount(rows []EventRow) []GroupCount {
	acc := newGroupAccumulator[map[string]bool]()
	for _, row := range rows {
		if !row.HasValue {
			continue
		}
		active := acc.get(row.Groups)
		if *active == nil {
			*active = make(map[string]bool)
		}
		(*active)[row.Value] = row.Operation != OperationRemove
	}
	out := make([]GroupCount, 0, len(acc.groups))
	for _, g := range acc.sorted() {
		var n int64
		for _, isActive := range *acc.values[g.Key()] {
			if isActive {
				n++
			}
		}
		out = append(out, GroupCount{Groups: g, Value: n})
	}
	return out
}

// FoldSum sums field values per group.
func FoldSum(rows []EventRow) ([]GroupValue, error) {
	return foldDecimal(rows, func(acc *Decimal, seen bool, v Decimal) {
		*acc = acc.Add(v)
	})
}

// FoldMax keeps the largest field value per group.
func FoldMax(rows []EventRow) ([]GroupValue, error) {
	return foldDecimal(rows, func(acc *Decimal, seen bool, v Decimal) {
		if !seen {
			*acc = v
			return
		}
		*acc = acc.Max(v)
	})
}

// FoldLatest keeps the field value of the last row per group.
func FoldLatest(rows []EventRow) ([]GroupValue, error) {
	return foldDecimal(rows, func(acc *Decimal, seen bool, v Decimal) {
		*acc = v
	})
}

// FoldValues parses the field value of every row carrying one, in row order.
func FoldValues(rows []EventRow) ([]Decimal, error) {
	values := make([]Decimal, 0, len(rows))
	for _, row := range rows {
		if !row.HasValue {
			continue
		}
		v, err := NewDecimal(row.Value)
		if err != nil {
			return nil, fmt.Errorf("field value %q: %w", row.Value, err)
		}
		values = append(values, v)
	}
	return values, nil
}

type decimalState struct {
	value Decimal
	seen  bool
}

func foldDecimal(rows []EventRow, step func(acc *Decimal, seen bool, v Decimal)) ([]GroupValue, error) {
	acc := newGroupAccumulator[decimalState]()
	for _, row := range rows {
		if !row.HasValue {
			continue
		}
		v, err := NewDecimal(row.Value)
		if err != nil {
			return nil, fmt.Errorf("field value %q: %w", row.Value, err)
		}
		state := acc.get(row.Groups)
		step(&state.value, state.seen, v)
		state.seen = true
	}
	out := make([]GroupValue, 0, len(acc.groups))
	for _, g := range acc.sorted() {
		out = append(out, GroupValue{Groups: g, Value: acc.values[g.Key()].value})
	}
	return out, nil
}

// ScalarCount collapses the result of an ungrouped fold to a single count.
func ScalarCount(groups []GroupCount) int64 {
	var n int64
	for _, g := range groups {
		n += g.Value
	}
	return n
}

// ScalarValue collapses the result of an ungrouped fold to a single value;
// zero when no event carried the field.
func ScalarValue(groups []GroupValue) Decimal {
	if len(groups) == 0 {
		return ZeroDecimal()
	}
	return groups[0].Value
}
