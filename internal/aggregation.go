package internal

import (
	"context"
	"fmt"

	"github.com/chrisconley/tally/specs"
)

var _ specs.Aggregate = (*AggregationService)(nil).Aggregate

// Aggregate implements specs.Aggregate.
// Converts the request spec to domain objects, computes, and converts the
// result back to its spec form.
func (s *AggregationService) Aggregate(ctx context.Context, spec specs.AggregationRequestSpec) (specs.AggregationResultSpec, error) {
	req, err := NewAggregationRequest(spec)
	if err != nil {
		return specs.AggregationResultSpec{}, err
	}

	result, err := s.Compute(ctx, req)
	if err != nil {
		return specs.AggregationResultSpec{}, err
	}
	return result.ToSpec(), nil
}

// AggregateMany is the primitive-typed form of ComputeMany.
func (s *AggregationService) AggregateMany(ctx context.Context, requests []specs.AggregationRequestSpec) ([]specs.AggregationResultSpec, error) {
	reqs := make([]AggregationRequest, len(requests))
	for i, spec := range requests {
		req, err := NewAggregationRequest(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid request at index %d: %w", i, err)
		}
		reqs[i] = req
	}

	results, err := s.ComputeMany(ctx, reqs)
	if err != nil {
		return nil, err
	}

	out := make([]specs.AggregationResultSpec, len(results))
	for i, r := range results {
		out[i] = r.ToSpec()
	}
	return out, nil
}

// PerEvent is the primitive-typed form of PerEventAggregation.
func (s *AggregationService) PerEvent(ctx context.Context, spec specs.AggregationRequestSpec) ([]string, error) {
	req, err := NewAggregationRequest(spec)
	if err != nil {
		return nil, err
	}
	values, err := s.PerEventAggregation(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out, nil
}
