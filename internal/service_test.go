package internal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chrisconley/tally/internal"
	aggerrors "github.com/chrisconley/tally/internal/errors"
	"github.com/chrisconley/tally/internal/infra"
	"github.com/chrisconley/tally/internal/infra/memory"
	"github.com/chrisconley/tally/specs"
)

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

var (
	apiCalls   = specs.BillableMetricSpec{Code: "api_calls", AggregationType: "count", Properties: []string{"region", "tier"}}
	storageGB  = specs.BillableMetricSpec{Code: "storage_gb", AggregationType: "sum", FieldName: "gb", Properties: []string{"region", "gb"}}
	seats      = specs.BillableMetricSpec{Code: "seats", AggregationType: "unique_count", FieldName: "user_id", Properties: []string{"user_id", "team"}}
	peakCPU    = specs.BillableMetricSpec{Code: "peak_cpu", AggregationType: "max", FieldName: "cpu", Properties: []string{"cpu", "region"}}
	diskUsage  = specs.BillableMetricSpec{Code: "disk_usage", AggregationType: "latest", FieldName: "bytes", Properties: []string{"bytes", "volume"}}
	monthlyFee = specs.BillableMetricSpec{Code: "monthly_fee", AggregationType: "time_based"}
)

func day(n int) time.Time {
	return periodStart.AddDate(0, 0, n-1).Add(10 * time.Hour)
}

func event(code, tx string, at time.Time, properties map[string]string) specs.EventSpec {
	return specs.EventSpec{
		TransactionID:  tx,
		OrganizationID: "org_1",
		SubscriptionID: "sub_1",
		Code:           code,
		Timestamp:      at,
		Properties:     properties,
	}
}

func request(metric specs.BillableMetricSpec) specs.AggregationRequestSpec {
	return specs.AggregationRequestSpec{
		BillableMetric: metric,
		OrganizationID: "org_1",
		SubscriptionID: "sub_1",
		Window:         specs.TimeWindowSpec{Start: periodStart, End: periodEnd},
	}
}

func newService(t *testing.T, events ...specs.EventSpec) (*internal.AggregationService, *memory.EventStore) {
	t.Helper()
	store := memory.NewEventStore()
	require.NoError(t, store.InsertSpecs(events...))
	service := internal.NewAggregationService(store,
		internal.WithClock(func() time.Time { return periodEnd.AddDate(0, 0, 5) }),
	)
	return service, store
}

func TestAggregate_Count(t *testing.T) {
	t.Run("counts every event in the window", func(t *testing.T) {
		// Arrange
		var events []specs.EventSpec
		for i := 1; i <= 12; i++ {
			events = append(events, event("api_calls", fmt.Sprintf("tx_%d", i), day(i), nil))
		}
		service, _ := newService(t, events...)

		// Act
		result, err := service.Aggregate(context.Background(), request(apiCalls))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "12", result.Aggregation)
		assert.Equal(t, int64(12), result.Count)
		assert.Equal(t, "12", result.CurrentUsageUnits)
		assert.Equal(t, "1", result.PayInAdvanceAggregation)
		assert.NotNil(t, result.Options.RunningTotal)
		assert.Empty(t, result.Options.RunningTotal)
		assert.Nil(t, result.Aggregations)
	})

	t.Run("running total is 1..N when free units are set", func(t *testing.T) {
		var events []specs.EventSpec
		for i := 1; i <= 12; i++ {
			events = append(events, event("api_calls", fmt.Sprintf("tx_%d", i), day(i), nil))
		}
		service, _ := newService(t, events...)
		req := request(apiCalls)
		req.FreeUnits = specs.FreeUnitOptionsSpec{FreeUnitsPerEvents: 3}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"},
			result.Options.RunningTotal)
	})

	t.Run("window is half-open", func(t *testing.T) {
		service, _ := newService(t,
			event("api_calls", "tx_start", periodStart, nil),
			event("api_calls", "tx_end", periodEnd, nil),
			event("api_calls", "tx_before", periodStart.Add(-time.Nanosecond), nil),
		)

		result, err := service.Aggregate(context.Background(), request(apiCalls))

		require.NoError(t, err)
		assert.Equal(t, "1", result.Aggregation)
	})

	t.Run("ignores other subscriptions and metrics", func(t *testing.T) {
		other := event("api_calls", "tx_other", day(2), nil)
		other.SubscriptionID = "sub_2"
		service, _ := newService(t,
			event("api_calls", "tx_1", day(1), nil),
			other,
			event("storage_gb", "tx_gb", day(3), map[string]string{"gb": "5"}),
		)

		result, err := service.Aggregate(context.Background(), request(apiCalls))

		require.NoError(t, err)
		assert.Equal(t, "1", result.Aggregation)
	})

	t.Run("empty window aggregates to zero", func(t *testing.T) {
		service, _ := newService(t)

		result, err := service.Aggregate(context.Background(), request(apiCalls))

		require.NoError(t, err)
		assert.Equal(t, "0", result.Aggregation)
		assert.Equal(t, int64(0), result.Count)
	})

	t.Run("three events in the period", func(t *testing.T) {
		service, _ := newService(t,
			event("api_calls", "tx_1", day(3), nil),
			event("api_calls", "tx_2", day(10), nil),
			event("api_calls", "tx_3", day(25), nil),
		)

		result, err := service.Aggregate(context.Background(), request(apiCalls))

		require.NoError(t, err)
		assert.Equal(t, "3", result.Aggregation)
		assert.Equal(t, int64(3), result.Count)
	})
}

func TestAggregate_Grouped(t *testing.T) {
	t.Run("one entry per non-empty group in key order", func(t *testing.T) {
		// Arrange
		service, _ := newService(t,
			event("api_calls", "tx_1", day(1), map[string]string{"region": "us", "tier": "pro"}),
			event("api_calls", "tx_2", day(2), map[string]string{"region": "eu", "tier": "pro"}),
			event("api_calls", "tx_3", day(3), map[string]string{"region": "us", "tier": "pro"}),
			event("api_calls", "tx_4", day(4), map[string]string{"region": "eu", "tier": "free"}),
		)
		req := request(apiCalls)
		req.GroupingKey = []string{"region", "tier"}

		// Act
		result, err := service.Aggregate(context.Background(), req)

		// Assert
		require.NoError(t, err)
		require.Len(t, result.Aggregations, 3)
		assert.Equal(t, []specs.GroupedBySpec{{Key: "region", Value: "eu"}, {Key: "tier", Value: "free"}},
			result.Aggregations[0].GroupedBy)
		assert.Equal(t, "1", result.Aggregations[0].Aggregation)
		assert.Equal(t, []specs.GroupedBySpec{{Key: "region", Value: "eu"}, {Key: "tier", Value: "pro"}},
			result.Aggregations[1].GroupedBy)
		assert.Equal(t, "1", result.Aggregations[1].Aggregation)
		assert.Equal(t, []specs.GroupedBySpec{{Key: "region", Value: "us"}, {Key: "tier", Value: "pro"}},
			result.Aggregations[2].GroupedBy)
		assert.Equal(t, "2", result.Aggregations[2].Aggregation)
		assert.Equal(t, int64(2), result.Aggregations[2].Count)

		assert.Equal(t, "4", result.Aggregation)
		assert.Equal(t, int64(4), result.Count)
	})

	t.Run("no events yields an empty, non-nil breakdown", func(t *testing.T) {
		service, _ := newService(t)
		req := request(apiCalls)
		req.GroupingKey = []string{"region"}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.NotNil(t, result.Aggregations)
		assert.Empty(t, result.Aggregations)
		assert.Equal(t, "0", result.Aggregation)
	})

	t.Run("events without the property group under an empty value", func(t *testing.T) {
		service, _ := newService(t,
			event("api_calls", "tx_1", day(1), nil),
			event("api_calls", "tx_2", day(2), map[string]string{"region": "us"}),
		)
		req := request(apiCalls)
		req.GroupingKey = []string{"region"}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		require.Len(t, result.Aggregations, 2)
		assert.Equal(t, "", result.Aggregations[0].GroupedBy[0].Value)
		assert.Equal(t, "us", result.Aggregations[1].GroupedBy[0].Value)
	})

	t.Run("grouped sums per region", func(t *testing.T) {
		service, _ := newService(t,
			event("storage_gb", "tx_1", day(1), map[string]string{"region": "us", "gb": "2"}),
			event("storage_gb", "tx_2", day(2), map[string]string{"region": "eu", "gb": "3.5"}),
			event("storage_gb", "tx_3", day(3), map[string]string{"region": "us", "gb": "5"}),
		)
		req := request(storageGB)
		req.GroupingKey = []string{"region"}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		require.Len(t, result.Aggregations, 2)
		assert.Equal(t, "3.5", result.Aggregations[0].Aggregation)
		assert.Equal(t, "7", result.Aggregations[1].Aggregation)
		assert.Equal(t, "10.5", result.Aggregation)
	})

	t.Run("rejects a property outside the metric schema", func(t *testing.T) {
		service, _ := newService(t)
		req := request(apiCalls)
		req.GroupingKey = []string{"customer"}

		_, err := service.Aggregate(context.Background(), req)

		require.Error(t, err)
		assert.True(t, aggerrors.IsType(err, aggerrors.TypeInvalidGroupingKey))
	})

	t.Run("rejects grouping a time_based metric", func(t *testing.T) {
		service, _ := newService(t)
		req := request(monthlyFee)
		req.GroupingKey = []string{"region"}

		_, err := service.Aggregate(context.Background(), req)

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeInvalidGroupingKey))
	})
}

func TestAggregate_Sum(t *testing.T) {
	sumEvents := []specs.EventSpec{
		event("storage_gb", "tx_1", day(1), map[string]string{"gb": "2"}),
		event("storage_gb", "tx_2", day(2), map[string]string{"gb": "3"}),
		event("storage_gb", "tx_3", day(3), map[string]string{"gb": "5"}),
	}

	t.Run("sums the field", func(t *testing.T) {
		service, _ := newService(t, sumEvents...)

		result, err := service.Aggregate(context.Background(), request(storageGB))

		require.NoError(t, err)
		assert.Equal(t, "10", result.Aggregation)
		assert.Equal(t, int64(3), result.Count)
		assert.Equal(t, "10", result.CurrentUsageUnits)
	})

	t.Run("running total is cumulative per event", func(t *testing.T) {
		service, _ := newService(t, sumEvents...)
		req := request(storageGB)
		req.FreeUnits = specs.FreeUnitOptionsSpec{FreeUnitsPerTotalAggregation: "4"}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, []string{"2", "5", "10"}, result.Options.RunningTotal)
	})

	t.Run("advance mode prices the triggering event on its own", func(t *testing.T) {
		// Arrange
		service, _ := newService(t, sumEvents...)
		trigger := event("storage_gb", "tx_new", day(4), map[string]string{"gb": "7.5"})
		req := request(storageGB)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{Event: &trigger}

		// Act
		result, err := service.Aggregate(context.Background(), req)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "7.5", result.PayInAdvanceAggregation)
		assert.Equal(t, "10", result.Aggregation)
	})

	t.Run("advance mode looks the triggering event up by transaction", func(t *testing.T) {
		service, _ := newService(t, sumEvents...)
		req := request(storageGB)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{TransactionID: "tx_2"}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "3", result.PayInAdvanceAggregation)
	})

	t.Run("unknown triggering transaction is an invalid request", func(t *testing.T) {
		service, _ := newService(t, sumEvents...)
		req := request(storageGB)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{TransactionID: "tx_missing"}

		_, err := service.Aggregate(context.Background(), req)

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeInvalidRequest))
	})

	t.Run("advance mode requires a triggering event", func(t *testing.T) {
		service, _ := newService(t, sumEvents...)
		req := request(storageGB)
		req.Mode = "advance"

		_, err := service.Aggregate(context.Background(), req)

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeInvalidRequest))
	})

	t.Run("grouped advance mode restricts to the triggering group", func(t *testing.T) {
		service, _ := newService(t,
			event("storage_gb", "tx_1", day(1), map[string]string{"region": "us", "gb": "2"}),
			event("storage_gb", "tx_2", day(2), map[string]string{"region": "eu", "gb": "3"}),
		)
		trigger := event("storage_gb", "tx_new", day(3), map[string]string{"region": "eu", "gb": "1"})
		req := request(storageGB)
		req.Mode = "advance"
		req.GroupingKey = []string{"region"}
		req.PayInAdvance = &specs.PayInAdvanceSpec{Event: &trigger}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		require.Len(t, result.Aggregations, 1)
		assert.Equal(t, "eu", result.Aggregations[0].GroupedBy[0].Value)
		assert.Equal(t, "3", result.Aggregations[0].Aggregation)
		assert.Equal(t, "1", result.PayInAdvanceAggregation)
	})

	t.Run("malformed field value fails the store query", func(t *testing.T) {
		service, _ := newService(t, event("storage_gb", "tx_1", day(1), map[string]string{"gb": "lots"}))

		_, err := service.Aggregate(context.Background(), request(storageGB))

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeStoreQueryFailed))
	})
}

func TestAggregate_UniqueCount(t *testing.T) {
	seatEvents := []specs.EventSpec{
		event("seats", "tx_1", day(1), map[string]string{"user_id": "alice"}),
		event("seats", "tx_2", day(2), map[string]string{"user_id": "bob"}),
		event("seats", "tx_3", day(3), map[string]string{"user_id": "alice"}),
		event("seats", "tx_4", day(4), map[string]string{"user_id": "bob", "operation_type": "remove"}),
	}

	t.Run("aggregation counts distinct values, current usage the active ones", func(t *testing.T) {
		service, _ := newService(t, seatEvents...)

		result, err := service.Aggregate(context.Background(), request(seats))

		require.NoError(t, err)
		assert.Equal(t, "2", result.Aggregation)
		assert.Equal(t, int64(4), result.Count)
		assert.Equal(t, "1", result.CurrentUsageUnits)
	})

	t.Run("advance mode charges a value not already active", func(t *testing.T) {
		service, _ := newService(t, seatEvents...)
		trigger := event("seats", "tx_new", day(5), map[string]string{"user_id": "bob"})
		req := request(seats)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{Event: &trigger}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "1", result.PayInAdvanceAggregation)
	})

	t.Run("advance mode does not charge an active value twice", func(t *testing.T) {
		service, _ := newService(t, seatEvents...)
		trigger := event("seats", "tx_new", day(5), map[string]string{"user_id": "alice"})
		req := request(seats)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{Event: &trigger}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "0", result.PayInAdvanceAggregation)
	})

	t.Run("later activity of the same value does not cancel the charge", func(t *testing.T) {
		service, _ := newService(t,
			event("seats", "tx_late", day(9), map[string]string{"user_id": "dave"}),
		)
		trigger := event("seats", "tx_early", day(3), map[string]string{"user_id": "dave"})
		req := request(seats)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{Event: &trigger}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "1", result.PayInAdvanceAggregation)
	})

	t.Run("earlier activity at the same timestamp still counts", func(t *testing.T) {
		service, _ := newService(t,
			event("seats", "tx_1", day(3), map[string]string{"user_id": "dave"}),
		)
		trigger := event("seats", "tx_2", day(3), map[string]string{"user_id": "dave"})
		req := request(seats)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{Event: &trigger}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "0", result.PayInAdvanceAggregation)
	})

	t.Run("stored triggering event does not count against itself", func(t *testing.T) {
		service, _ := newService(t,
			event("seats", "tx_1", day(1), map[string]string{"user_id": "carol"}),
		)
		req := request(seats)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{TransactionID: "tx_1"}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "1", result.PayInAdvanceAggregation)
	})
}

func TestAggregate_Max(t *testing.T) {
	t.Run("aggregation is the window peak, current usage runs until now", func(t *testing.T) {
		service, _ := newService(t,
			event("peak_cpu", "tx_1", day(1), map[string]string{"cpu": "4"}),
			event("peak_cpu", "tx_2", day(2), map[string]string{"cpu": "16"}),
			event("peak_cpu", "tx_3", day(3), map[string]string{"cpu": "8"}),
			event("peak_cpu", "tx_4", periodEnd.Add(time.Hour), map[string]string{"cpu": "32"}),
		)

		result, err := service.Aggregate(context.Background(), request(peakCPU))

		require.NoError(t, err)
		assert.Equal(t, "16", result.Aggregation)
		assert.Equal(t, int64(3), result.Count)
		assert.Equal(t, "32", result.CurrentUsageUnits)
	})
}

func TestAggregate_Latest(t *testing.T) {
	t.Run("last ingested event wins a timestamp tie", func(t *testing.T) {
		at := day(10)
		service, _ := newService(t,
			event("disk_usage", "tx_1", day(1), map[string]string{"bytes": "100"}),
			event("disk_usage", "tx_2", at, map[string]string{"bytes": "300"}),
			event("disk_usage", "tx_3", at, map[string]string{"bytes": "200"}),
		)

		result, err := service.Aggregate(context.Background(), request(diskUsage))

		require.NoError(t, err)
		assert.Equal(t, "200", result.Aggregation)
		assert.Equal(t, int64(3), result.Count)
	})

	t.Run("most recent timestamp wins regardless of ingestion order", func(t *testing.T) {
		service, _ := newService(t,
			event("disk_usage", "tx_1", day(9), map[string]string{"bytes": "900"}),
			event("disk_usage", "tx_2", day(2), map[string]string{"bytes": "200"}),
		)

		result, err := service.Aggregate(context.Background(), request(diskUsage))

		require.NoError(t, err)
		assert.Equal(t, "900", result.Aggregation)
	})
}

func TestAggregate_TimeBased(t *testing.T) {
	service, _ := newService(t)

	result, err := service.Aggregate(context.Background(), request(monthlyFee))

	require.NoError(t, err)
	assert.Equal(t, "1", result.Aggregation)
	assert.Equal(t, int64(1), result.Count)
	assert.Equal(t, "1", result.CurrentUsageUnits)
	assert.Equal(t, "1", result.PayInAdvanceAggregation)
}

func TestAggregate_ArrearsPayInAdvance(t *testing.T) {
	service, _ := newService(t,
		event("api_calls", "tx_1", day(1), map[string]string{"region": "eu"}),
		event("storage_gb", "tx_2", day(2), map[string]string{"gb": "4"}),
	)

	t.Run("sum leaves the value unset without a triggering event", func(t *testing.T) {
		result, err := service.Aggregate(context.Background(), request(storageGB))

		require.NoError(t, err)
		assert.Empty(t, result.PayInAdvanceAggregation)
	})

	t.Run("grouped count leaves the value unset", func(t *testing.T) {
		req := request(apiCalls)
		req.GroupingKey = []string{"region"}

		result, err := service.Aggregate(context.Background(), req)

		require.NoError(t, err)
		assert.Empty(t, result.PayInAdvanceAggregation)
		require.Len(t, result.Aggregations, 1)
		assert.Empty(t, result.Aggregations[0].PayInAdvanceAggregation)
	})
}

func TestAggregate_Errors(t *testing.T) {
	t.Run("unknown aggregation type", func(t *testing.T) {
		service, _ := newService(t)
		req := request(specs.BillableMetricSpec{Code: "x", AggregationType: "weighted_sum", FieldName: "v"})

		_, err := service.Aggregate(context.Background(), req)

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeUnsupportedAggregation))
	})

	t.Run("type without a registered strategy", func(t *testing.T) {
		store := memory.NewEventStore()
		service := internal.NewAggregationService(store,
			internal.WithStrategies(internal.Strategies{}))

		_, err := service.Aggregate(context.Background(), request(apiCalls))

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeUnsupportedAggregation))
	})

	t.Run("empty window", func(t *testing.T) {
		service, _ := newService(t)
		req := request(apiCalls)
		req.Window = specs.TimeWindowSpec{Start: periodEnd, End: periodEnd}

		_, err := service.Aggregate(context.Background(), req)

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeEmptyWindow))
	})

	t.Run("store failure keeps its cause", func(t *testing.T) {
		cause := errors.New("disk on fire")
		service := internal.NewAggregationService(failingStore{err: cause})

		_, err := service.Aggregate(context.Background(), request(apiCalls))

		require.Error(t, err)
		assert.True(t, aggerrors.IsType(err, aggerrors.TypeStoreQueryFailed))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("cancelled context is a store outage", func(t *testing.T) {
		service, _ := newService(t, event("api_calls", "tx_1", day(1), nil))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := service.Aggregate(ctx, request(apiCalls))

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeStoreUnavailable))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestAggregate_Idempotent(t *testing.T) {
	service, _ := newService(t,
		event("storage_gb", "tx_1", day(1), map[string]string{"region": "us", "gb": "1.25"}),
		event("storage_gb", "tx_2", day(2), map[string]string{"region": "eu", "gb": "3"}),
	)
	req := request(storageGB)
	req.GroupingKey = []string{"region"}

	first, err := service.Aggregate(context.Background(), req)
	require.NoError(t, err)
	second, err := service.Aggregate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAggregationService_Observability(t *testing.T) {
	t.Run("publishes computed and pay-in-advance events", func(t *testing.T) {
		// Arrange
		store := memory.NewEventStore()
		bus := infra.NewBus()
		var mu sync.Mutex
		var received []infra.Event
		record := func(e infra.Event) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, e)
		}
		bus.Subscribe(infra.AggregationComputed, record)
		bus.Subscribe(infra.PayInAdvanceAggregationComputed, record)
		service := internal.NewAggregationService(store, internal.WithBus(bus))

		trigger := event("api_calls", "tx_1", day(1), nil)
		req := request(apiCalls)
		req.Mode = "advance"
		req.PayInAdvance = &specs.PayInAdvanceSpec{Event: &trigger}

		// Act
		_, err := service.Aggregate(context.Background(), req)

		// Assert
		require.NoError(t, err)
		require.Len(t, received, 2)
		computed, ok := received[0].(internal.AggregationComputedEvent)
		require.True(t, ok)
		assert.Equal(t, "api_calls", computed.MetricCode)
		assert.Equal(t, "advance", computed.Mode)
		assert.NotEmpty(t, computed.ComputationID)
		advance, ok := received[1].(internal.PayInAdvanceAggregationComputedEvent)
		require.True(t, ok)
		assert.Equal(t, computed.ComputationID, advance.ComputationID)
		assert.Equal(t, "tx_1", advance.TransactionID)
		assert.Equal(t, "1", advance.Value.String())
	})

	t.Run("logs and publishes failures", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		bus := infra.NewBus()
		var failed []internal.AggregationFailedEvent
		bus.Subscribe(infra.AggregationFailed, func(e infra.Event) {
			failed = append(failed, e.(internal.AggregationFailedEvent))
		})
		service := internal.NewAggregationService(failingStore{err: errors.New("boom")},
			internal.WithLogger(zap.New(core)), internal.WithBus(bus))

		_, err := service.Aggregate(context.Background(), request(apiCalls))

		require.Error(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, aggerrors.TypeStoreQueryFailed, failed[0].ErrorType)
		entries := logs.FilterMessage("aggregation failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "api_calls", entries[0].ContextMap()["metric"])
	})
}

func TestAggregationService_AggregateMany(t *testing.T) {
	t.Run("keeps request order", func(t *testing.T) {
		service, _ := newService(t,
			event("api_calls", "tx_1", day(1), nil),
			event("storage_gb", "tx_2", day(2), map[string]string{"gb": "4"}),
			event("peak_cpu", "tx_3", day(3), map[string]string{"cpu": "2"}),
		)
		requests := []specs.AggregationRequestSpec{request(storageGB), request(apiCalls), request(peakCPU), request(monthlyFee)}

		results, err := service.AggregateMany(context.Background(), requests)

		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, "4", results[0].Aggregation)
		assert.Equal(t, "1", results[1].Aggregation)
		assert.Equal(t, "2", results[2].Aggregation)
		assert.Equal(t, "1", results[3].Aggregation)
	})

	t.Run("fails when any request fails", func(t *testing.T) {
		service, _ := newService(t)
		bad := request(apiCalls)
		bad.Window.End = bad.Window.Start

		_, err := service.AggregateMany(context.Background(), []specs.AggregationRequestSpec{request(apiCalls), bad})

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeEmptyWindow))
	})

	t.Run("only the failing request is reported when a batch is cancelled", func(t *testing.T) {
		// Arrange
		core, logs := observer.New(zap.DebugLevel)
		bus := infra.NewBus()
		var mu sync.Mutex
		var failed []internal.AggregationFailedEvent
		bus.Subscribe(infra.AggregationFailed, func(e infra.Event) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, e.(internal.AggregationFailedEvent))
		})
		store := batchStore{EventStore: memory.NewEventStore(), failing: "storage_gb", err: errors.New("disk I/O error")}
		service := internal.NewAggregationService(store,
			internal.WithLogger(zap.New(core)), internal.WithBus(bus))
		requests := []specs.AggregationRequestSpec{request(storageGB), request(apiCalls), request(apiCalls)}

		// Act
		_, err := service.AggregateMany(context.Background(), requests)

		// Assert
		assert.True(t, aggerrors.IsType(err, aggerrors.TypeStoreQueryFailed))
		require.Len(t, failed, 1)
		assert.Equal(t, "storage_gb", failed[0].MetricCode)
		assert.Equal(t, aggerrors.TypeStoreQueryFailed, failed[0].ErrorType)
		assert.Equal(t, 1, logs.FilterMessage("aggregation failed").Len())
		assert.Equal(t, 2, logs.FilterMessage("aggregation abandoned").Len())
	})

	t.Run("a cancelled caller still reports every request", func(t *testing.T) {
		bus := infra.NewBus()
		var mu sync.Mutex
		var failed []internal.AggregationFailedEvent
		bus.Subscribe(infra.AggregationFailed, func(e infra.Event) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, e.(internal.AggregationFailedEvent))
		})
		service := internal.NewAggregationService(memory.NewEventStore(), internal.WithBus(bus))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := service.AggregateMany(ctx, []specs.AggregationRequestSpec{request(apiCalls), request(storageGB)})

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeStoreUnavailable))
		require.Len(t, failed, 2)
		for _, f := range failed {
			assert.Equal(t, aggerrors.TypeStoreUnavailable, f.ErrorType)
		}
	})
}

func TestAggregationService_PerEvent(t *testing.T) {
	service, _ := newService(t,
		event("api_calls", "tx_1", day(1), nil),
		event("api_calls", "tx_2", day(2), nil),
		event("storage_gb", "tx_3", day(3), map[string]string{"gb": "5"}),
		event("storage_gb", "tx_4", day(1), map[string]string{"gb": "2"}),
		event("peak_cpu", "tx_5", day(1), map[string]string{"cpu": "2"}),
	)

	t.Run("count contributes one per event", func(t *testing.T) {
		values, err := service.PerEvent(context.Background(), request(apiCalls))

		require.NoError(t, err)
		assert.Equal(t, []string{"1", "1"}, values)
	})

	t.Run("sum contributes field values oldest first", func(t *testing.T) {
		values, err := service.PerEvent(context.Background(), request(storageGB))

		require.NoError(t, err)
		assert.Equal(t, []string{"2", "5"}, values)
	})

	t.Run("other types are unsupported", func(t *testing.T) {
		_, err := service.PerEvent(context.Background(), request(peakCPU))

		assert.True(t, aggerrors.IsType(err, aggerrors.TypeUnsupportedAggregation))
	})
}

// failingStore fails every query.
type failingStore struct {
	internal.EventStore
	err error
}

func (s failingStore) Count(context.Context, internal.EventQuery) (int64, error) {
	return 0, s.err
}

func (s failingStore) GroupedCount(context.Context, internal.EventQuery) ([]internal.GroupCount, error) {
	return nil, s.err
}

// batchStore fails Count for one metric and holds every other Count until
// its context is cancelled.
type batchStore struct {
	internal.EventStore
	failing string
	err     error
}

func (s batchStore) Count(ctx context.Context, q internal.EventQuery) (int64, error) {
	if q.Code.ToString() == s.failing {
		return 0, s.err
	}
	<-ctx.Done()
	return 0, ctx.Err()
}
