package internal

import (
	"context"
	"sort"
)

// EventStore answers aggregation queries over the events of one subscription
// and one billable metric within a window.
//
// Scalar queries return zero for an empty event set. Grouped queries omit
// groups without events and return the remaining groups ordered by their
// values in grouping-key order. Stored events are immutable: running the same
// query twice against an unchanged store yields the same answer.
type EventStore interface {
	Count(ctx context.Context, q EventQuery) (int64, error)
	GroupedCount(ctx context.Context, q EventQuery) ([]GroupCount, error)

	Sum(ctx context.Context, q EventQuery) (Decimal, error)
	GroupedSum(ctx context.Context, q EventQuery) ([]GroupValue, error)

	// UniqueCount counts distinct values of q.Field ever seen in the window.
	UniqueCount(ctx context.Context, q EventQuery) (int64, error)
	GroupedUniqueCount(ctx context.Context, q EventQuery) ([]GroupCount, error)

	// ActiveUniqueCount counts values of q.Field whose latest operation in the
	// window is an addition. An add followed by a remove cancels.
	ActiveUniqueCount(ctx context.Context, q EventQuery) (int64, error)
	GroupedActiveUniqueCount(ctx context.Context, q EventQuery) ([]GroupCount, error)

	Max(ctx context.Context, q EventQuery) (Decimal, error)
	GroupedMax(ctx context.Context, q EventQuery) ([]GroupValue, error)

	// Latest returns q.Field of the most recent event carrying it. Events
	// sharing a timestamp are ordered by ingestion, last write wins.
	Latest(ctx context.Context, q EventQuery) (Decimal, error)
	GroupedLatest(ctx context.Context, q EventQuery) ([]GroupValue, error)

	// EventValues returns q.Field of every event carrying it, oldest first.
	EventValues(ctx context.Context, q EventQuery) ([]Decimal, error)

	// LastEvent returns the most recent event of the window, or nil.
	LastEvent(ctx context.Context, q EventQuery) (*Event, error)

	// Event looks up a single stored event by transaction ID, or nil.
	Event(ctx context.Context, organizationID OrganizationID, transactionID EventTransactionID) (*Event, error)
}

// Snapshotter is implemented by stores able to answer several queries from a
// single consistent view. The view passed to fn is only valid during fn.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(EventStore) error) error
}

// GroupCount is an integer aggregate of one group.
type GroupCount struct {
	Groups GroupValues
	Value  int64
}

// GroupValue is a decimal aggregate of one group.
type GroupValue struct {
	Groups GroupValues
	Value  Decimal
}

// EventQuery selects the events of one metric for one subscription.
type EventQuery struct {
	Window  AggregationWindow
	Code    BillableMetricCode
	Field   PropertyName
	GroupBy GroupingKey
	Filters []Filter

	// ExcludeTransactionID drops one event from the selection.
	ExcludeTransactionID string
}

func NewEventQuery(metric BillableMetric, window AggregationWindow, groupBy GroupingKey) EventQuery {
	return EventQuery{
		Window:  window,
		Code:    metric.Code,
		Field:   metric.FieldName,
		GroupBy: groupBy,
	}
}

// WithFilters returns a copy of q narrowed by the given filters.
func (q EventQuery) WithFilters(filters ...Filter) EventQuery {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// WithWindow returns a copy of q over another window.
func (q EventQuery) WithWindow(window AggregationWindow) EventQuery {
	q.Window = window
	return q
}

// Excluding returns a copy of q that ignores the given transaction.
func (q EventQuery) Excluding(transactionID EventTransactionID) EventQuery {
	q.ExcludeTransactionID = transactionID.ToString()
	return q
}

// Ungrouped returns a copy of q without grouping.
func (q EventQuery) Ungrouped() EventQuery {
	q.GroupBy = GroupingKey{}
	return q
}

// Matches reports whether e is selected by q.
func (q EventQuery) Matches(e Event) bool {
	if e.OrganizationID != q.Window.OrganizationID() ||
		e.SubscriptionID != q.Window.SubscriptionID() ||
		e.Code != q.Code {
		return false
	}
	if !q.Window.Contains(e.Timestamp.ToTime()) {
		return false
	}
	if q.ExcludeTransactionID != "" && e.TransactionID.ToString() == q.ExcludeTransactionID {
		return false
	}
	for _, f := range q.Filters {
		if !f.Matches(e.Properties) {
			return false
		}
	}
	return true
}

// SortedFilters returns the filters ordered by property name.
func (q EventQuery) SortedFilters() []Filter {
	filters := append([]Filter(nil), q.Filters...)
	sort.SliceStable(filters, func(i, j int) bool {
		return filters[i].property < filters[j].property
	})
	return filters
}

// Filter restricts a query to events whose property equals a value. A missing
// property compares as "".
type Filter struct {
	property string
	equals   string
}

func NewFilter(property PropertyName, equals string) Filter {
	return Filter{property: property.ToString(), equals: equals}
}

func (f Filter) Property() string {
	return f.property
}

func (f Filter) Equals() string {
	return f.equals
}

func (f Filter) Matches(properties EventProperties) bool {
	v, _ := properties.Get(f.property)
	return v == f.equals
}
