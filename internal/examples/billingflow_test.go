package examples

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisconley/tally/internal"
	"github.com/chrisconley/tally/internal/infra"
	"github.com/chrisconley/tally/internal/infra/memory"
	"github.com/chrisconley/tally/specs"
)

// === CATALOG ===

type Charge struct {
	Metric       specs.BillableMetricSpec
	UnitPrice    string
	PayInAdvance bool
}

type Catalog interface {
	Charge(code string) Charge
}

type HardcodedCatalog struct{}

func (c *HardcodedCatalog) Charge(code string) Charge {
	switch code {
	case "tokens":
		return Charge{
			Metric:       specs.BillableMetricSpec{Code: "tokens", AggregationType: "sum", FieldName: "tokens"},
			UnitPrice:    "0.002",
			PayInAdvance: true,
		}
	case "seats":
		return Charge{
			Metric:       specs.BillableMetricSpec{Code: "seats", AggregationType: "unique_count", FieldName: "user_id"},
			UnitPrice:    "10",
			PayInAdvance: true,
		}
	default:
		panic(fmt.Sprintf("unknown charge %q", code))
	}
}

var (
	periodStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func window() specs.TimeWindowSpec {
	return specs.TimeWindowSpec{Start: periodStart, End: periodEnd}
}

// === HANDLERS ===

// IngestionHandler stores each event and prices it immediately when its
// charge is paid in advance.
type IngestionHandler struct {
	store   *memory.EventStore
	service *internal.AggregationService
	catalog Catalog
}

func (h *IngestionHandler) Handle(ctx context.Context, event specs.EventSpec) error {
	if err := h.store.InsertSpecs(event); err != nil {
		return err
	}
	charge := h.catalog.Charge(event.Code)
	if !charge.PayInAdvance {
		return nil
	}
	_, err := h.service.Aggregate(ctx, specs.AggregationRequestSpec{
		BillableMetric: charge.Metric,
		OrganizationID: event.OrganizationID,
		SubscriptionID: event.SubscriptionID,
		Window:         window(),
		Mode:           "advance",
		PayInAdvance:   &specs.PayInAdvanceSpec{TransactionID: event.TransactionID},
	})
	return err
}

// AdvanceBillingHandler accumulates per-event fees from advance-mode results.
type AdvanceBillingHandler struct {
	catalog Catalog
	units   map[string]internal.Decimal
	fees    internal.Decimal
}

func NewAdvanceBillingHandler(catalog Catalog) *AdvanceBillingHandler {
	return &AdvanceBillingHandler{
		catalog: catalog,
		units:   map[string]internal.Decimal{},
		fees:    internal.ZeroDecimal(),
	}
}

func (h *AdvanceBillingHandler) Handle(e infra.Event) {
	evt := e.(internal.PayInAdvanceAggregationComputedEvent)
	price, err := internal.NewDecimal(h.catalog.Charge(evt.MetricCode).UnitPrice)
	if err != nil {
		panic(fmt.Sprintf("Invalid price: %v", err))
	}

	units, ok := h.units[evt.MetricCode]
	if !ok {
		units = internal.ZeroDecimal()
	}
	h.units[evt.MetricCode] = units.Add(evt.Value)
	h.fees = h.fees.Add(evt.Value.Mul(price))
}

// ArrearsHandler keeps the period-close results.
type ArrearsHandler struct {
	results map[string]internal.AggregationResult
}

func (h *ArrearsHandler) Handle(e infra.Event) {
	evt := e.(internal.AggregationComputedEvent)
	if evt.Mode != internal.ModeArrears {
		return
	}
	h.results[evt.MetricCode] = evt.Result
}

func TestAdvanceAndArrearsBilling(t *testing.T) {
	ctx := context.Background()
	bus := infra.NewBus()
	catalog := &HardcodedCatalog{}
	store := memory.NewEventStore()
	service := internal.NewAggregationService(store, internal.WithBus(bus))

	// === STEP 1: Wire up the advance-mode billing ===
	advance := NewAdvanceBillingHandler(catalog)
	bus.Subscribe(infra.PayInAdvanceAggregationComputed, advance.Handle)

	// === STEP 2: Wire up the period-close consumer ===
	arrears := &ArrearsHandler{results: map[string]internal.AggregationResult{}}
	bus.Subscribe(infra.AggregationComputed, arrears.Handle)

	ingestion := &IngestionHandler{store: store, service: service, catalog: catalog}

	// === STEP 3: Ingest a month of usage ===
	for i, event := range generateTokenEvents(30) {
		require.NoError(t, ingestion.Handle(ctx, event), "token event %d", i)
	}
	for i, event := range seatActivity() {
		require.NoError(t, ingestion.Handle(ctx, event), "seat event %d", i)
	}

	// === STEP 4: Close the period ===
	for _, code := range []string{"tokens", "seats"} {
		_, err := service.Aggregate(ctx, specs.AggregationRequestSpec{
			BillableMetric: catalog.Charge(code).Metric,
			OrganizationID: "org_1",
			SubscriptionID: "sub_1",
			Window:         window(),
		})
		require.NoError(t, err)
	}

	// === Verify ===
	// Every token event is billed once in advance, so the advance total
	// matches the arrears sum.
	require.Contains(t, arrears.results, "tokens")
	assert.Equal(t, "1650", arrears.results["tokens"].Aggregation.String())
	assert.Equal(t, int64(30), arrears.results["tokens"].Count)
	assert.Equal(t, "1650", advance.units["tokens"].String())

	// Seats are billed on first activation. bob leaves and comes back, which
	// bills a second activation, while arrears only sees three distinct users.
	require.Contains(t, arrears.results, "seats")
	assert.Equal(t, "3", arrears.results["seats"].Aggregation.String())
	assert.Equal(t, "3", arrears.results["seats"].CurrentUsageUnits.String())
	assert.Equal(t, "4", advance.units["seats"].String())

	// 1650 tokens * 0.002 + 4 seats * 10
	assert.Equal(t, 0, advance.fees.Cmp(mustDecimal(t, "43.3")), "fees = %s", advance.fees.String())

	t.Logf("advance: %s tokens, %s seat activations, fees %s",
		advance.units["tokens"].String(), advance.units["seats"].String(), advance.fees.String())
	t.Logf("arrears: %s tokens, %s seats", arrears.results["tokens"].Aggregation.String(),
		arrears.results["seats"].Aggregation.String())
}

// === HELPER FUNCTIONS ===

// generateTokenEvents emits one event per day with 10, 20, ... 100 tokens
// repeating, for a total of 1650 over 30 days.
func generateTokenEvents(days int) []specs.EventSpec {
	events := make([]specs.EventSpec, days)
	for i := 0; i < days; i++ {
		events[i] = specs.EventSpec{
			TransactionID:  fmt.Sprintf("tok_%03d", i),
			OrganizationID: "org_1",
			SubscriptionID: "sub_1",
			Code:           "tokens",
			Timestamp:      periodStart.AddDate(0, 0, i).Add(9 * time.Hour),
			Properties:     map[string]string{"tokens": fmt.Sprintf("%d", (i%10+1)*10)},
		}
	}
	return events
}

func seatActivity() []specs.EventSpec {
	activity := []struct {
		user      string
		operation string
	}{
		{"alice", "add"},
		{"bob", "add"},
		{"alice", "add"},
		{"carol", "add"},
		{"bob", "remove"},
		{"bob", "add"},
	}
	events := make([]specs.EventSpec, len(activity))
	for i, a := range activity {
		events[i] = specs.EventSpec{
			TransactionID:  fmt.Sprintf("seat_%d", i),
			OrganizationID: "org_1",
			SubscriptionID: "sub_1",
			Code:           "seats",
			Timestamp:      periodStart.AddDate(0, 0, 2*i+1),
			Properties: map[string]string{
				"user_id":                      a.user,
				internal.OperationTypeProperty: a.operation,
			},
		}
	}
	return events
}

func mustDecimal(t *testing.T, s string) internal.Decimal {
	t.Helper()
	d, err := internal.NewDecimal(s)
	require.NoError(t, err)
	return d
}
