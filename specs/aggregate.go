package specs

import (
	"context"
	"time"
)

// Aggregate computes the billable quantity of one metric for one subscription
// over one window.
//
// Process:
//  1. Validate the request (window, grouping key, free-unit options)
//  2. Select the strategy for the metric's aggregation type
//  3. Query the event store, grouped or ungrouped
//  4. In pay-in-advance mode, compute the triggering event's own contribution
//  5. Build the running-total sequence when free-unit options are set
//
// Returns an AggregationResultSpec. Grouped requests return one entry per
// non-empty group in Aggregations; empty groups are omitted.
//
// This is the spec-level interface using only primitive types.
// See internal.AggregationService.Aggregate for the implementation.
type Aggregate func(ctx context.Context, request AggregationRequestSpec) (AggregationResultSpec, error)

// AggregationRequestSpec is everything a pricing caller supplies for one aggregation.
type AggregationRequestSpec struct {
	// Metric to aggregate.
	BillableMetric BillableMetricSpec `json:"billableMetric"`

	// Organization owning the subscription.
	OrganizationID string `json:"organizationID"`

	// Subscription whose events are aggregated.
	SubscriptionID string `json:"subscriptionID"`

	// Billing period to aggregate over.
	//
	// Half-open [Start, End). Start must be strictly before End.
	Window TimeWindowSpec `json:"window"`

	// Pricing mode.
	//
	// "arrears" aggregates the whole window once the period closes.
	// "advance" also computes the marginal contribution of a single
	// triggering event. Empty means "arrears".
	Mode string `json:"mode,omitempty"`

	// Ordered property names that partition events into groups.
	//
	// Empty means no grouping: the result carries a single scalar aggregation.
	GroupingKey []string `json:"groupingKey,omitempty"`

	// Free-unit allowance settings used to build the running total.
	FreeUnits FreeUnitOptionsSpec `json:"freeUnits"`

	// Event whose contribution is priced in advance mode.
	//
	// Required when Mode is "advance". Either TransactionID (event already
	// stored) or Event (estimate path, not yet committed) must be set.
	PayInAdvance *PayInAdvanceSpec `json:"payInAdvance,omitempty"`
}

// PayInAdvanceSpec identifies the single event priced at ingestion time.
type PayInAdvanceSpec struct {
	// Transaction ID of a stored event to look up in the event store.
	TransactionID string `json:"transactionID,omitempty"`

	// The event itself, used when it has not been committed yet.
	//
	// Takes precedence over TransactionID.
	Event *EventSpec `json:"event,omitempty"`
}

// FreeUnitOptionsSpec configures the free-unit allowance of a charge.
//
// Both fields default to zero. When both are zero, no running total is
// produced and downstream pricing skips per-unit classification.
type FreeUnitOptionsSpec struct {
	// Number of events that are free, counted per event.
	FreeUnitsPerEvents int64 `json:"freeUnitsPerEvents,omitempty"`

	// Cumulative aggregation threshold below which units are free.
	//
	// Decimal string. Examples: "100", "2.5". Empty means zero.
	FreeUnitsPerTotalAggregation string `json:"freeUnitsPerTotalAggregation,omitempty"`
}

// TimeWindowSpec represents a half-open time interval [Start, End).
//
// The start time is inclusive and the end time is exclusive, so adjacent
// billing periods neither overlap nor leave gaps.
type TimeWindowSpec struct {
	// Inclusive start of the window. Should be in UTC.
	Start time.Time `json:"start"`

	// Exclusive end of the window. Should be in UTC.
	//
	// A monthly window is e.g. [2024-01-01T00:00:00Z, 2024-02-01T00:00:00Z).
	End time.Time `json:"end"`
}
