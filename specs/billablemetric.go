package specs

// BillableMetricSpec describes what is counted, summed or tracked per usage event.
//
// Billable metrics are managed by the plan configuration service. The
// aggregation engine treats them as read-only input resolved before the call.
type BillableMetricSpec struct {
	// Unique code of the metric within the organization.
	//
	// Events reference the metric through EventSpec.Code.
	// Examples: "api_calls", "active_seats", "storage_gb".
	Code string `json:"code"`

	// Aggregation strategy applied to matching events.
	//
	// One of:
	//   - "count": number of events
	//   - "unique_count": number of distinct FieldName values
	//   - "sum": sum of FieldName values
	//   - "max": maximum FieldName value
	//   - "latest": FieldName value of the most recent event
	//   - "time_based": presence signal, always 1 per period
	AggregationType string `json:"aggregationType"`

	// Event property aggregated by unique_count, sum, max and latest.
	//
	// Ignored for count and time_based. Examples: "amount", "user_id", "gb".
	FieldName string `json:"fieldName,omitempty"`

	// Event properties known to exist on this metric's events.
	//
	// Optional. When non-empty, grouping keys are validated against this list
	// and unknown fields are rejected. When empty, any well-formed property
	// name is accepted.
	Properties []string `json:"properties,omitempty"`
}
