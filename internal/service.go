package internal

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/internal/infra"
)

const defaultMaxConcurrency = 8

// AggregationService validates requests, selects the strategy for the
// metric's aggregation type and assembles the result. It holds no
// per-call state and is safe for concurrent use.
type AggregationService struct {
	store          EventStore
	strategies     Strategies
	logger         *zap.Logger
	bus            *infra.Bus
	now            func() time.Time
	maxConcurrency int
}

type ServiceOption func(*AggregationService)

func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *AggregationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBus publishes computation events to bus.
func WithBus(bus *infra.Bus) ServiceOption {
	return func(s *AggregationService) { s.bus = bus }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *AggregationService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithStrategies(strategies Strategies) ServiceOption {
	return func(s *AggregationService) { s.strategies = strategies }
}

// WithMaxConcurrency bounds the number of requests ComputeMany runs at once.
func WithMaxConcurrency(n int) ServiceOption {
	return func(s *AggregationService) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

func NewAggregationService(store EventStore, opts ...ServiceOption) *AggregationService {
	s := &AggregationService{
		store:          store,
		strategies:     DefaultStrategies(),
		logger:         zap.NewNop(),
		now:            time.Now,
		maxConcurrency: defaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute runs one aggregation call. All store queries of the call observe
// the same snapshot when the store implements Snapshotter.
func (s *AggregationService) Compute(ctx context.Context, req AggregationRequest) (AggregationResult, error) {
	return s.computeReported(ctx, req, nil)
}

// computeReported runs Compute. abandoned, when set, reports whether a
// cancellation came from the enclosing batch rather than the caller; such
// calls are not failures of their own and are neither logged as failed nor
// published.
func (s *AggregationService) computeReported(ctx context.Context, req AggregationRequest, abandoned func() bool) (AggregationResult, error) {
	computationID := uuid.NewString()
	started := time.Now()
	logger := s.logger.With(
		zap.String("computation_id", computationID),
		zap.String("metric", req.Metric.Code.ToString()),
		zap.String("aggregation_type", req.Metric.AggregationType.ToString()),
		zap.String("subscription_id", req.Window.SubscriptionID().ToString()),
		zap.String("mode", req.Mode.ToString()),
		zap.Bool("grouped", !req.GroupingKey.IsEmpty()),
	)

	result, trigger, err := s.compute(ctx, req)
	duration := time.Since(started)
	if err != nil {
		if abandoned != nil && stderrors.Is(err, context.Canceled) && abandoned() {
			logger.Debug("aggregation abandoned", zap.Duration("duration", duration))
			return AggregationResult{}, err
		}
		err = classifyError(err)
		logger.Warn("aggregation failed",
			zap.Error(err),
			zap.String("error_type", string(aggerrors.TypeOf(err))),
			zap.Duration("duration", duration),
		)
		s.publish(AggregationFailedEvent{
			ComputationID:   computationID,
			MetricCode:      req.Metric.Code.ToString(),
			AggregationType: req.Metric.AggregationType.ToString(),
			Mode:            req.Mode.ToString(),
			ErrorType:       aggerrors.TypeOf(err),
			Err:             err,
			Duration:        duration,
		})
		return AggregationResult{}, err
	}

	logger.Debug("aggregation computed",
		zap.String("aggregation", result.Aggregation.String()),
		zap.Int64("count", result.Count),
		zap.Int("groups", len(result.Aggregations)),
		zap.Duration("duration", duration),
	)
	s.publish(AggregationComputedEvent{
		ComputationID:   computationID,
		MetricCode:      req.Metric.Code.ToString(),
		AggregationType: req.Metric.AggregationType.ToString(),
		Mode:            req.Mode.ToString(),
		Grouped:         result.IsGrouped(),
		Duration:        duration,
		Result:          result,
	})
	if trigger != nil && result.PayInAdvanceAggregation != nil {
		s.publish(PayInAdvanceAggregationComputedEvent{
			ComputationID:   computationID,
			MetricCode:      req.Metric.Code.ToString(),
			AggregationType: req.Metric.AggregationType.ToString(),
			TransactionID:   trigger.TransactionID.ToString(),
			Value:           *result.PayInAdvanceAggregation,
		})
	}
	return result, nil
}

func (s *AggregationService) compute(ctx context.Context, req AggregationRequest) (AggregationResult, *Event, error) {
	strategy, err := s.strategies.lookup(req.Metric.AggregationType)
	if err != nil {
		return AggregationResult{}, nil, err
	}

	var (
		result  AggregationResult
		trigger *Event
	)
	err = s.withSnapshot(ctx, func(store EventStore) error {
		c := computation{
			store: store,
			query: NewEventQuery(req.Metric, req.Window, req.GroupingKey),
			now:   s.now(),
		}

		if req.Mode.IsAdvance() {
			event, err := s.triggeringEvent(ctx, store, req)
			if err != nil {
				return err
			}
			trigger = &event
			if c.grouped() {
				c.query = c.query.WithFilters(req.GroupingKey.ValuesOf(event.Properties).Filters()...)
			}
		}

		groups, err := strategy.compute(ctx, c)
		if err != nil {
			return err
		}

		if c.grouped() {
			result = newGroupedResult(groups)
		} else {
			result = newUngroupedResult(groups)
			runningTotal, err := strategy.runningTotal(ctx, c, req.FreeUnits, result.Aggregation)
			if err != nil {
				return err
			}
			result.Options.RunningTotal = runningTotal
		}

		if trigger != nil {
			value, err := strategy.payInAdvance(ctx, c, *trigger)
			if err != nil {
				return err
			}
			result.PayInAdvanceAggregation = &value
		} else if fixed, ok := strategy.(fixedPayInAdvance); ok && !c.grouped() {
			value := fixed.fixedPayInAdvance()
			result.PayInAdvanceAggregation = &value
		}
		return nil
	})
	if err != nil {
		return AggregationResult{}, nil, err
	}
	return result, trigger, nil
}

// triggeringEvent prefers the event carried by the request and falls back to
// the stored event with the request's transaction ID.
func (s *AggregationService) triggeringEvent(ctx context.Context, store EventStore, req AggregationRequest) (Event, error) {
	if req.PayInAdvance == nil {
		return Event{}, aggerrors.InvalidRequest("advance mode requires a triggering event")
	}
	if req.PayInAdvance.Event != nil {
		return *req.PayInAdvance.Event, nil
	}

	event, err := store.Event(ctx, req.Window.OrganizationID(), req.PayInAdvance.TransactionID)
	if err != nil {
		return Event{}, err
	}
	if event == nil {
		return Event{}, aggerrors.InvalidRequest(fmt.Sprintf("triggering event %q not found",
			req.PayInAdvance.TransactionID.ToString()))
	}
	if err := req.checkTriggeringEvent(*event); err != nil {
		return Event{}, err
	}
	return *event, nil
}

// ComputeMany runs independent requests concurrently. Results keep the order
// of reqs; the first failure cancels the remaining calls.
func (s *AggregationService) ComputeMany(ctx context.Context, reqs []AggregationRequest) ([]AggregationResult, error) {
	results := make([]AggregationResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	abandoned := func() bool { return ctx.Err() == nil && gctx.Err() != nil }
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			result, err := s.computeReported(gctx, req, abandoned)
			if err != nil {
				return fmt.Errorf("request %d (%s): %w", i, req.Metric.Code.ToString(), err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// PerEventAggregation returns the contribution of each event in the window,
// in timestamp order. Grouping keys are ignored.
func (s *AggregationService) PerEventAggregation(ctx context.Context, req AggregationRequest) ([]Decimal, error) {
	strategy, err := s.strategies.lookup(req.Metric.AggregationType)
	if err != nil {
		return nil, err
	}

	var values []Decimal
	err = s.withSnapshot(ctx, func(store EventStore) error {
		c := computation{
			store: store,
			query: NewEventQuery(req.Metric, req.Window, GroupingKey{}),
			now:   s.now(),
		}
		var err error
		values, err = strategy.perEvent(ctx, c)
		return err
	})
	if err != nil {
		err = classifyError(err)
		s.logger.Warn("per-event aggregation failed",
			zap.String("metric", req.Metric.Code.ToString()),
			zap.Error(err),
		)
		return nil, err
	}
	return values, nil
}

func (s *AggregationService) withSnapshot(ctx context.Context, fn func(EventStore) error) error {
	if snapshotter, ok := s.store.(Snapshotter); ok {
		return snapshotter.Snapshot(ctx, fn)
	}
	return fn(s.store)
}

func (s *AggregationService) publish(e infra.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// classifyError tags untyped failures, which can only come from the store.
func classifyError(err error) error {
	if aggerrors.TypeOf(err) != "" {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return aggerrors.StoreUnavailable(err)
	}
	return aggerrors.StoreQueryFailed("aggregation", err)
}
