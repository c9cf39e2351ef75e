package internal

import (
	"fmt"
	"regexp"

	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/specs"
)

type BillableMetric struct {
	Code            BillableMetricCode
	AggregationType AggregationType
	FieldName       PropertyName
	properties      map[string]bool
}

func NewBillableMetric(spec specs.BillableMetricSpec) (BillableMetric, error) {
	code, err := NewBillableMetricCode(spec.Code)
	if err != nil {
		return BillableMetric{}, fmt.Errorf("invalid code: %w", err)
	}

	aggregationType, err := NewAggregationType(spec.AggregationType)
	if err != nil {
		return BillableMetric{}, fmt.Errorf("invalid aggregation type: %w", err)
	}

	var fieldName PropertyName
	if aggregationType.RequiresField() {
		fieldName, err = NewPropertyName(spec.FieldName)
		if err != nil {
			return BillableMetric{}, fmt.Errorf("invalid field name for %s: %w", aggregationType.ToString(), err)
		}
	}

	properties := make(map[string]bool, len(spec.Properties))
	for i, p := range spec.Properties {
		name, err := NewPropertyName(p)
		if err != nil {
			return BillableMetric{}, fmt.Errorf("invalid property %d: %w", i, err)
		}
		properties[name.ToString()] = true
	}

	return BillableMetric{
		Code:            code,
		AggregationType: aggregationType,
		FieldName:       fieldName,
		properties:      properties,
	}, nil
}

// HasProperty reports whether events of this metric may carry the property.
// Metrics without a declared schema accept any property.
func (m BillableMetric) HasProperty(name string) bool {
	if len(m.properties) == 0 {
		return true
	}
	return m.properties[name]
}

type BillableMetricCode struct {
	value string
}

func NewBillableMetricCode(value string) (BillableMetricCode, error) {
	if value == "" {
		return BillableMetricCode{}, fmt.Errorf("code is required")
	}
	return BillableMetricCode{value: value}, nil
}

func (c BillableMetricCode) ToString() string {
	return c.value
}

var propertyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.:-]*$`)

// PropertyName is an event property usable as an aggregation field or grouping key.
type PropertyName struct {
	value string
}

func NewPropertyName(value string) (PropertyName, error) {
	if value == "" {
		return PropertyName{}, fmt.Errorf("property name is required")
	}
	if !propertyNamePattern.MatchString(value) {
		return PropertyName{}, fmt.Errorf("property name %q contains unsupported characters", value)
	}
	return PropertyName{value: value}, nil
}

func (p PropertyName) ToString() string {
	return p.value
}

func (p PropertyName) IsZero() bool {
	return p.value == ""
}

const (
	AggregationCount       = "count"
	AggregationUniqueCount = "unique_count"
	AggregationSum         = "sum"
	AggregationMax         = "max"
	AggregationLatest      = "latest"
	AggregationTimeBased   = "time_based"
)

// AggregationTypes lists every supported aggregation type.
var AggregationTypes = []string{
	AggregationCount,
	AggregationUniqueCount,
	AggregationSum,
	AggregationMax,
	AggregationLatest,
	AggregationTimeBased,
}

type AggregationType struct {
	value string
}

func NewAggregationType(value string) (AggregationType, error) {
	if value == "" {
		return AggregationType{}, aggerrors.UnsupportedAggregationType(value)
	}

	switch value {
	case AggregationCount, AggregationUniqueCount, AggregationSum,
		AggregationMax, AggregationLatest, AggregationTimeBased:
		// Valid
	default:
		return AggregationType{}, aggerrors.UnsupportedAggregationType(value)
	}

	return AggregationType{value: value}, nil
}

func (a AggregationType) ToString() string {
	return a.value
}

func (a AggregationType) IsCount() bool {
	return a.value == AggregationCount
}

func (a AggregationType) IsUniqueCount() bool {
	return a.value == AggregationUniqueCount
}

func (a AggregationType) IsSum() bool {
	return a.value == AggregationSum
}

func (a AggregationType) IsMax() bool {
	return a.value == AggregationMax
}

func (a AggregationType) IsLatest() bool {
	return a.value == AggregationLatest
}

func (a AggregationType) IsTimeBased() bool {
	return a.value == AggregationTimeBased
}

// RequiresField reports whether the type aggregates an event property.
func (a AggregationType) RequiresField() bool {
	return a.IsUniqueCount() || a.IsSum() || a.IsMax() || a.IsLatest()
}
