package internal

import (
	"fmt"
	"sort"
	"time"

	"github.com/chrisconley/tally/specs"
)

// OperationTypeProperty is the event property carrying unique-count activity.
const OperationTypeProperty = "operation_type"

const (
	OperationAdd    = "add"
	OperationRemove = "remove"
)

type Event struct {
	TransactionID  EventTransactionID
	OrganizationID OrganizationID
	SubscriptionID SubscriptionID
	Code           BillableMetricCode
	Timestamp      EventTimestamp
	Properties     EventProperties
}

func NewEvent(spec specs.EventSpec) (Event, error) {
	transactionID, err := NewEventTransactionID(spec.TransactionID)
	if err != nil {
		return Event{}, fmt.Errorf("invalid transaction ID: %w", err)
	}

	organizationID, err := NewOrganizationID(spec.OrganizationID)
	if err != nil {
		return Event{}, fmt.Errorf("invalid organization ID: %w", err)
	}

	subscriptionID, err := NewSubscriptionID(spec.SubscriptionID)
	if err != nil {
		return Event{}, fmt.Errorf("invalid subscription ID: %w", err)
	}

	code, err := NewBillableMetricCode(spec.Code)
	if err != nil {
		return Event{}, fmt.Errorf("invalid code: %w", err)
	}

	timestamp, err := NewEventTimestamp(spec.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	return Event{
		TransactionID:  transactionID,
		OrganizationID: organizationID,
		SubscriptionID: subscriptionID,
		Code:           code,
		Timestamp:      timestamp,
		Properties:     NewEventProperties(spec.Properties),
	}, nil
}

func (e Event) ToSpec() specs.EventSpec {
	return specs.EventSpec{
		TransactionID:  e.TransactionID.ToString(),
		OrganizationID: e.OrganizationID.ToString(),
		SubscriptionID: e.SubscriptionID.ToString(),
		Code:           e.Code.ToString(),
		Timestamp:      e.Timestamp.ToTime(),
		Properties:     e.Properties.ToMap(),
	}
}

// Operation returns the unique-count operation of the event. Events without
// an explicit "remove" are additions.
func (e Event) Operation() string {
	if op, ok := e.Properties.Get(OperationTypeProperty); ok && op == OperationRemove {
		return OperationRemove
	}
	return OperationAdd
}

// Decimal parses the named property as a decimal. ok is false when the
// property is absent.
func (e Event) Decimal(name PropertyName) (value Decimal, ok bool, err error) {
	raw, exists := e.Properties.Get(name.ToString())
	if !exists {
		return Decimal{}, false, nil
	}
	value, err = NewDecimal(raw)
	if err != nil {
		return Decimal{}, true, fmt.Errorf("property %q value %q: %w", name.ToString(), raw, err)
	}
	return value, true, nil
}

type EventTransactionID struct {
	value string
}

func NewEventTransactionID(value string) (EventTransactionID, error) {
	if value == "" {
		return EventTransactionID{}, fmt.Errorf("transaction ID is required")
	}
	return EventTransactionID{value: value}, nil
}

func (id EventTransactionID) ToString() string {
	return id.value
}

type EventTimestamp struct {
	value time.Time
}

func NewEventTimestamp(value time.Time) (EventTimestamp, error) {
	if value.IsZero() {
		return EventTimestamp{}, fmt.Errorf("timestamp is required")
	}
	return EventTimestamp{value: value}, nil
}

func (t EventTimestamp) ToTime() time.Time {
	return t.value
}

type EventProperties struct {
	values map[string]string
}

func NewEventProperties(values map[string]string) EventProperties {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return EventProperties{values: copied}
}

func (p EventProperties) Get(key string) (string, bool) {
	val, ok := p.values[key]
	return val, ok
}

func (p EventProperties) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Keys returns the property names in sorted order.
func (p EventProperties) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for key := range p.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (p EventProperties) ToMap() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}
