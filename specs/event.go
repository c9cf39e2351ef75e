package specs

import "time"

// EventSpec represents a stored usage event as the aggregation engine sees it.
//
// Events are written by the ingestion service (outside this module) and are
// immutable once stored. The aggregation engine only reads them, either
// through an EventStore query or, on the estimate path, as a single
// uncommitted event handed in by the caller.
type EventSpec struct {
	// Client-supplied idempotency key for the event.
	//
	// Unique per organization. Pay-in-advance aggregation looks the triggering
	// event up by this identifier. Examples: "tx_01HZ3K...", "req-7781".
	TransactionID string `json:"transactionID"`

	// Organization that owns the event.
	OrganizationID string `json:"organizationID"`

	// Subscription the usage is attributed to.
	//
	// All aggregation queries are scoped to exactly one subscription.
	SubscriptionID string `json:"subscriptionID"`

	// Code of the billable metric this event reports usage for.
	//
	// Matches BillableMetricSpec.Code. Examples: "api_calls", "storage_gb".
	Code string `json:"code"`

	// When the usage occurred.
	//
	// Determines window membership: an event belongs to [From, To) when
	// From <= Timestamp < To. Should be in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Free-form event properties as strings.
	//
	// Numeric properties are parsed as decimals by the sum, max and latest
	// strategies. Grouping keys select property values. The "operation_type"
	// property ("add" or "remove") drives unique-count activity tracking.
	Properties map[string]string `json:"properties,omitempty"`
}
