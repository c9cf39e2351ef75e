package specs

// AggregationResultSpec is the value produced by one aggregation call.
//
// Decimal quantities are strings to preserve arbitrary precision across
// language boundaries. The engine produces this value only; callers
// serialize it.
type AggregationResultSpec struct {
	// Raw computed quantity for the window.
	//
	// For grouped requests this is the sum of the per-group aggregations.
	Aggregation string `json:"aggregation"`

	// Number of events that contributed to the aggregation.
	//
	// Equals Aggregation only for the count strategy. Always 1 for time_based.
	Count int64 `json:"count"`

	// Units reported as "used so far".
	//
	// Differs from Aggregation for unique_count (currently active values),
	// max (running maximum up to now) and time_based (always 1).
	CurrentUsageUnits string `json:"currentUsageUnits"`

	// Marginal contribution of the triggering event in advance mode.
	//
	// "1" for strategies without a natural unit increment. The event's own
	// field value for sum. In arrears mode only count and time_based set it,
	// to their fixed "1", on ungrouped results; it is empty otherwise.
	PayInAdvanceAggregation string `json:"payInAdvanceAggregation,omitempty"`

	// Auxiliary data consumed by pricing.
	Options AggregationOptionsSpec `json:"options"`

	// Key-value set identifying the group this result belongs to.
	//
	// Only set on entries of Aggregations, ordered as the grouping key.
	GroupedBy []GroupedBySpec `json:"groupedBy,omitempty"`

	// Per-group results for grouped requests.
	//
	// Nil when no grouping was requested. Non-nil and possibly empty when
	// grouping was requested: groups without events are omitted, so callers
	// must treat a missing group as zero usage.
	Aggregations []AggregationResultSpec `json:"aggregations"`
}

// AggregationOptionsSpec carries the running-total sequence.
type AggregationOptionsSpec struct {
	// Cumulative, 1-indexed consumption sequence as decimal strings.
	//
	// Empty when no free-unit option is set. For count metrics this is
	// ["1", "2", ..., "N"] with N the aggregation.
	RunningTotal []string `json:"runningTotal"`
}

// GroupedBySpec is one field of a group's key.
type GroupedBySpec struct {
	// Property name from the grouping key.
	Key string `json:"key"`

	// Property value shared by every event in the group.
	//
	// Empty when the events do not carry the property.
	Value string `json:"value"`
}
