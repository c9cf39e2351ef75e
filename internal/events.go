package internal

import (
	"time"

	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/internal/infra"
)

// AggregationComputedEvent is published after every successful aggregation call.
type AggregationComputedEvent struct {
	ComputationID   string
	MetricCode      string
	AggregationType string
	Mode            string
	Grouped         bool
	Duration        time.Duration
	Result          AggregationResult
}

func (e AggregationComputedEvent) EventType() infra.EventType {
	return infra.AggregationComputed
}

// PayInAdvanceAggregationComputedEvent carries the contribution of the event
// that triggered an advance-mode call.
type PayInAdvanceAggregationComputedEvent struct {
	ComputationID   string
	MetricCode      string
	AggregationType string
	TransactionID   string
	Value           Decimal
}

func (e PayInAdvanceAggregationComputedEvent) EventType() infra.EventType {
	return infra.PayInAdvanceAggregationComputed
}

type AggregationFailedEvent struct {
	ComputationID   string
	MetricCode      string
	AggregationType string
	Mode            string
	ErrorType       aggerrors.Type
	Err             error
	Duration        time.Duration
}

func (e AggregationFailedEvent) EventType() infra.EventType {
	return infra.AggregationFailed
}
