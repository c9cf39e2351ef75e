package internal

import (
	"strings"

	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/specs"
)

// GroupingKey is the ordered list of properties that partition events into
// groups. The zero value means "no grouping".
type GroupingKey struct {
	fields []PropertyName
}

// NewGroupingKey validates the requested fields against the metric's declared
// properties.
func NewGroupingKey(fields []string, metric BillableMetric) (GroupingKey, error) {
	if len(fields) == 0 {
		return GroupingKey{}, nil
	}
	if metric.AggregationType.IsTimeBased() {
		return GroupingKey{}, aggerrors.InvalidGroupingKey(fields[0], "time_based metrics carry no event fields to group by")
	}

	seen := make(map[string]bool, len(fields))
	names := make([]PropertyName, 0, len(fields))
	for _, field := range fields {
		name, err := NewPropertyName(field)
		if err != nil {
			return GroupingKey{}, aggerrors.InvalidGroupingKey(field, err.Error())
		}
		if seen[field] {
			return GroupingKey{}, aggerrors.InvalidGroupingKey(field, "listed more than once")
		}
		if !metric.HasProperty(field) {
			return GroupingKey{}, aggerrors.InvalidGroupingKey(field, "not a property of metric "+metric.Code.ToString())
		}
		seen[field] = true
		names = append(names, name)
	}
	return GroupingKey{fields: names}, nil
}

// MustGroupingKey builds a key without metric validation. Panics on malformed names.
func MustGroupingKey(fields ...string) GroupingKey {
	names := make([]PropertyName, 0, len(fields))
	for _, field := range fields {
		name, err := NewPropertyName(field)
		if err != nil {
			panic(err)
		}
		names = append(names, name)
	}
	return GroupingKey{fields: names}
}

func (k GroupingKey) IsEmpty() bool {
	return len(k.fields) == 0
}

func (k GroupingKey) Fields() []string {
	out := make([]string, len(k.fields))
	for i, f := range k.fields {
		out[i] = f.ToString()
	}
	return out
}

// ValuesOf projects an event onto the key. Missing properties map to "".
func (k GroupingKey) ValuesOf(properties EventProperties) GroupValues {
	values := make([]GroupField, len(k.fields))
	for i, f := range k.fields {
		v, _ := properties.Get(f.ToString())
		values[i] = GroupField{Key: f.ToString(), Value: v}
	}
	return GroupValues{fields: values}
}

// GroupField is one key-value pair of a group.
type GroupField struct {
	Key   string
	Value string
}

// GroupValues identifies one group: the key's fields with their concrete values.
type GroupValues struct {
	fields []GroupField
}

func NewGroupValues(fields ...GroupField) GroupValues {
	return GroupValues{fields: append([]GroupField(nil), fields...)}
}

func (g GroupValues) Fields() []GroupField {
	return append([]GroupField(nil), g.fields...)
}

func (g GroupValues) IsEmpty() bool {
	return len(g.fields) == 0
}

// Key returns a canonical string usable as a map key.
func (g GroupValues) Key() string {
	var b strings.Builder
	for i, f := range g.fields {
		if i > 0 {
			b.WriteByte(0x1e)
		}
		b.WriteString(f.Key)
		b.WriteByte(0x1f)
		b.WriteString(f.Value)
	}
	return b.String()
}

// Less orders groups by their values in key order.
func (g GroupValues) Less(other GroupValues) bool {
	for i := 0; i < len(g.fields) && i < len(other.fields); i++ {
		if g.fields[i].Value != other.fields[i].Value {
			return g.fields[i].Value < other.fields[i].Value
		}
	}
	return len(g.fields) < len(other.fields)
}

// Filters returns one equality filter per field.
func (g GroupValues) Filters() []Filter {
	filters := make([]Filter, 0, len(g.fields))
	for _, f := range g.fields {
		filters = append(filters, Filter{property: f.Key, equals: f.Value})
	}
	return filters
}

func (g GroupValues) ToSpec() []specs.GroupedBySpec {
	if len(g.fields) == 0 {
		return nil
	}
	out := make([]specs.GroupedBySpec, len(g.fields))
	for i, f := range g.fields {
		out[i] = specs.GroupedBySpec{Key: f.Key, Value: f.Value}
	}
	return out
}
