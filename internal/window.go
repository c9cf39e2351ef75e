package internal

import (
	"fmt"
	"time"

	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/specs"
)

// AggregationWindow is the half-open interval [From, To) of one subscription's
// billing period.
type AggregationWindow struct {
	organizationID OrganizationID
	subscriptionID SubscriptionID
	from           time.Time
	to             time.Time
}

func NewAggregationWindow(organizationID, subscriptionID string, spec specs.TimeWindowSpec) (AggregationWindow, error) {
	org, err := NewOrganizationID(organizationID)
	if err != nil {
		return AggregationWindow{}, aggerrors.Wrap(aggerrors.TypeInvalidRequest, "invalid organization ID", err)
	}

	subscription, err := NewSubscriptionID(subscriptionID)
	if err != nil {
		return AggregationWindow{}, aggerrors.Wrap(aggerrors.TypeInvalidRequest, "invalid subscription ID", err)
	}

	if spec.Start.IsZero() {
		return AggregationWindow{}, aggerrors.InvalidRequest("window start is required")
	}
	if spec.End.IsZero() {
		return AggregationWindow{}, aggerrors.InvalidRequest("window end is required")
	}
	if !spec.Start.Before(spec.End) {
		return AggregationWindow{}, aggerrors.EmptyWindow(
			fmt.Sprintf("window start %s must be before end %s",
				spec.Start.UTC().Format(time.RFC3339), spec.End.UTC().Format(time.RFC3339)))
	}

	return AggregationWindow{
		organizationID: org,
		subscriptionID: subscription,
		from:           spec.Start,
		to:             spec.End,
	}, nil
}

func (w AggregationWindow) OrganizationID() OrganizationID {
	return w.organizationID
}

func (w AggregationWindow) SubscriptionID() SubscriptionID {
	return w.subscriptionID
}

func (w AggregationWindow) From() time.Time {
	return w.from
}

func (w AggregationWindow) To() time.Time {
	return w.to
}

// Contains reports whether t lies in [From, To).
func (w AggregationWindow) Contains(t time.Time) bool {
	return !t.Before(w.from) && t.Before(w.to)
}

// ExtendTo returns a copy of w whose end is moved to t when t is later.
func (w AggregationWindow) ExtendTo(t time.Time) AggregationWindow {
	if t.After(w.to) {
		w.to = t
	}
	return w
}

// TruncateTo returns a copy of w whose end is moved back to t when t is earlier.
func (w AggregationWindow) TruncateTo(t time.Time) AggregationWindow {
	if t.Before(w.to) {
		w.to = t
	}
	return w
}

func (w AggregationWindow) ToSpec() specs.TimeWindowSpec {
	return specs.TimeWindowSpec{
		Start: w.from,
		End:   w.to,
	}
}

type OrganizationID struct {
	value string
}

func NewOrganizationID(value string) (OrganizationID, error) {
	if value == "" {
		return OrganizationID{}, fmt.Errorf("organization ID is required")
	}
	return OrganizationID{value: value}, nil
}

func (id OrganizationID) ToString() string {
	return id.value
}

type SubscriptionID struct {
	value string
}

func NewSubscriptionID(value string) (SubscriptionID, error) {
	if value == "" {
		return SubscriptionID{}, fmt.Errorf("subscription ID is required")
	}
	return SubscriptionID{value: value}, nil
}

func (id SubscriptionID) ToString() string {
	return id.value
}

const (
	ModeArrears = "arrears"
	ModeAdvance = "advance"
)

// Mode is the pricing mode of an aggregation call.
type Mode struct {
	value string
}

func NewMode(value string) (Mode, error) {
	switch value {
	case "", ModeArrears:
		return Mode{value: ModeArrears}, nil
	case ModeAdvance:
		return Mode{value: ModeAdvance}, nil
	default:
		return Mode{}, aggerrors.InvalidRequest(fmt.Sprintf("invalid mode: %q", value))
	}
}

func (m Mode) ToString() string {
	if m.value == "" {
		return ModeArrears
	}
	return m.value
}

func (m Mode) IsAdvance() bool {
	return m.value == ModeAdvance
}
