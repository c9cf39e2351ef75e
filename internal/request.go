package internal

import (
	"fmt"

	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/specs"
)

// AggregationRequest is a validated aggregation call.
type AggregationRequest struct {
	Metric       BillableMetric
	Window       AggregationWindow
	Mode         Mode
	GroupingKey  GroupingKey
	FreeUnits    FreeUnitOptions
	PayInAdvance *PayInAdvance
}

// PayInAdvance names the event priced in advance mode: either an uncommitted
// event or the transaction ID of a stored one.
type PayInAdvance struct {
	TransactionID EventTransactionID
	Event         *Event
}

func NewAggregationRequest(spec specs.AggregationRequestSpec) (AggregationRequest, error) {
	metric, err := NewBillableMetric(spec.BillableMetric)
	if err != nil {
		return AggregationRequest{}, asInvalidRequest("invalid billable metric", err)
	}

	window, err := NewAggregationWindow(spec.OrganizationID, spec.SubscriptionID, spec.Window)
	if err != nil {
		return AggregationRequest{}, fmt.Errorf("invalid window: %w", err)
	}

	mode, err := NewMode(spec.Mode)
	if err != nil {
		return AggregationRequest{}, err
	}

	groupingKey, err := NewGroupingKey(spec.GroupingKey, metric)
	if err != nil {
		return AggregationRequest{}, fmt.Errorf("invalid grouping key: %w", err)
	}

	freeUnits, err := NewFreeUnitOptions(spec.FreeUnits)
	if err != nil {
		return AggregationRequest{}, fmt.Errorf("invalid free units: %w", err)
	}

	req := AggregationRequest{
		Metric:      metric,
		Window:      window,
		Mode:        mode,
		GroupingKey: groupingKey,
		FreeUnits:   freeUnits,
	}

	switch {
	case mode.IsAdvance() && spec.PayInAdvance == nil:
		return AggregationRequest{}, aggerrors.InvalidRequest("advance mode requires a triggering event")
	case !mode.IsAdvance() && spec.PayInAdvance != nil:
		return AggregationRequest{}, aggerrors.InvalidRequest("triggering event given in arrears mode")
	case spec.PayInAdvance != nil:
		payInAdvance, err := req.newPayInAdvance(*spec.PayInAdvance)
		if err != nil {
			return AggregationRequest{}, err
		}
		req.PayInAdvance = &payInAdvance
	}

	return req, nil
}

func (r AggregationRequest) newPayInAdvance(spec specs.PayInAdvanceSpec) (PayInAdvance, error) {
	if spec.Event != nil {
		event, err := NewEvent(*spec.Event)
		if err != nil {
			return PayInAdvance{}, asInvalidRequest("invalid triggering event", err)
		}
		if err := r.checkTriggeringEvent(event); err != nil {
			return PayInAdvance{}, err
		}
		return PayInAdvance{TransactionID: event.TransactionID, Event: &event}, nil
	}

	transactionID, err := NewEventTransactionID(spec.TransactionID)
	if err != nil {
		return PayInAdvance{}, asInvalidRequest("invalid triggering event", err)
	}
	return PayInAdvance{TransactionID: transactionID}, nil
}

// checkTriggeringEvent rejects events that do not belong to the request's
// metric, subscription and window.
func (r AggregationRequest) checkTriggeringEvent(e Event) error {
	switch {
	case e.OrganizationID != r.Window.OrganizationID():
		return aggerrors.InvalidRequest("triggering event belongs to another organization")
	case e.SubscriptionID != r.Window.SubscriptionID():
		return aggerrors.InvalidRequest("triggering event belongs to another subscription")
	case e.Code != r.Metric.Code:
		return aggerrors.InvalidRequest(fmt.Sprintf("triggering event reports %q, not %q",
			e.Code.ToString(), r.Metric.Code.ToString()))
	case !r.Window.Contains(e.Timestamp.ToTime()):
		return aggerrors.InvalidRequest("triggering event lies outside the window")
	}
	return nil
}

// asInvalidRequest keeps typed errors and tags the rest as invalid requests.
func asInvalidRequest(message string, err error) error {
	if aggerrors.TypeOf(err) != "" {
		return fmt.Errorf("%s: %w", message, err)
	}
	return aggerrors.Wrap(aggerrors.TypeInvalidRequest, message, err)
}
