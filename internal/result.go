package internal

import (
	"github.com/chrisconley/tally/specs"
)

// AggregationResult is the value produced by one aggregation call. Grouped
// calls carry one entry per non-empty group in Aggregations; ungrouped calls
// leave Aggregations nil.
type AggregationResult struct {
	Aggregation             Decimal
	Count                   int64
	CurrentUsageUnits       Decimal
	PayInAdvanceAggregation *Decimal
	Options                 AggregationOptions
	GroupedBy               GroupValues
	Aggregations            []AggregationResult
}

type AggregationOptions struct {
	RunningTotal RunningTotal
}

// GroupAggregation is the outcome of a strategy for one group.
type GroupAggregation struct {
	Groups            GroupValues
	Aggregation       Decimal
	Count             int64
	CurrentUsageUnits Decimal
}

func (g GroupAggregation) toResult() AggregationResult {
	return AggregationResult{
		Aggregation:       g.Aggregation,
		Count:             g.Count,
		CurrentUsageUnits: g.CurrentUsageUnits,
		GroupedBy:         g.Groups,
	}
}

// IsGrouped reports whether the result was produced for a grouping key.
func (r AggregationResult) IsGrouped() bool {
	return r.Aggregations != nil
}

// newUngroupedResult expects the single implicit group of an ungrouped query.
func newUngroupedResult(groups []GroupAggregation) AggregationResult {
	if len(groups) == 0 {
		return AggregationResult{}
	}
	r := groups[0].toResult()
	r.GroupedBy = GroupValues{}
	return r
}

// newGroupedResult totals aggregation, count and current usage across groups.
func newGroupedResult(groups []GroupAggregation) AggregationResult {
	r := AggregationResult{Aggregations: make([]AggregationResult, 0, len(groups))}
	for _, g := range groups {
		r.Aggregation = r.Aggregation.Add(g.Aggregation)
		r.Count += g.Count
		r.CurrentUsageUnits = r.CurrentUsageUnits.Add(g.CurrentUsageUnits)
		r.Aggregations = append(r.Aggregations, g.toResult())
	}
	return r
}

func (r AggregationResult) ToSpec() specs.AggregationResultSpec {
	spec := specs.AggregationResultSpec{
		Aggregation:       r.Aggregation.String(),
		Count:             r.Count,
		CurrentUsageUnits: r.CurrentUsageUnits.String(),
		Options: specs.AggregationOptionsSpec{
			RunningTotal: r.Options.RunningTotal.ToSpec(),
		},
		GroupedBy: r.GroupedBy.ToSpec(),
	}
	if r.PayInAdvanceAggregation != nil {
		spec.PayInAdvanceAggregation = r.PayInAdvanceAggregation.String()
	}
	if r.Aggregations != nil {
		spec.Aggregations = make([]specs.AggregationResultSpec, len(r.Aggregations))
		for i, g := range r.Aggregations {
			spec.Aggregations[i] = g.ToSpec()
		}
	}
	return spec
}
