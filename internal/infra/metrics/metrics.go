// Package metrics exports aggregation activity as Prometheus metrics. The
// collector is fed from the service's event bus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chrisconley/tally/internal"
	"github.com/chrisconley/tally/internal/infra"
)

const DefaultNamespace = "tally"

// Collector holds all Prometheus metrics for aggregation calls.
type Collector struct {
	AggregationsTotal   *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec
	AggregationGroups   *prometheus.HistogramVec
	AggregationFailures *prometheus.CounterVec
	PayInAdvanceTotal   *prometheus.CounterVec
}

// New creates a collector registered on the default registry.
func New(namespace string) *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer, namespace)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Collector{
		AggregationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregations_total",
				Help:      "Total number of successful aggregation calls",
			},
			[]string{"aggregation_type", "mode", "grouped"},
		),
		AggregationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Aggregation call duration in seconds, failures included",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"aggregation_type"},
		),
		AggregationGroups: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_groups",
				Help:      "Number of non-empty groups returned by grouped aggregation calls",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"aggregation_type"},
		),
		AggregationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_failures_total",
				Help:      "Total number of failed aggregation calls by error type",
			},
			[]string{"aggregation_type", "error_type"},
		),
		PayInAdvanceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pay_in_advance_aggregations_total",
				Help:      "Total number of triggering events priced in advance, by whether they contributed",
			},
			[]string{"aggregation_type", "contributed"},
		),
	}
}

// Subscribe registers the collector's handlers on bus.
func (c *Collector) Subscribe(bus *infra.Bus) {
	bus.Subscribe(infra.AggregationComputed, c.handle)
	bus.Subscribe(infra.PayInAdvanceAggregationComputed, c.handle)
	bus.Subscribe(infra.AggregationFailed, c.handle)
}

func (c *Collector) handle(e infra.Event) {
	switch evt := e.(type) {
	case internal.AggregationComputedEvent:
		c.AggregationsTotal.WithLabelValues(evt.AggregationType, evt.Mode, strconv.FormatBool(evt.Grouped)).Inc()
		c.AggregationDuration.WithLabelValues(evt.AggregationType).Observe(evt.Duration.Seconds())
		if evt.Grouped {
			c.AggregationGroups.WithLabelValues(evt.AggregationType).Observe(float64(len(evt.Result.Aggregations)))
		}
	case internal.PayInAdvanceAggregationComputedEvent:
		c.PayInAdvanceTotal.WithLabelValues(evt.AggregationType, strconv.FormatBool(!evt.Value.IsZero())).Inc()
	case internal.AggregationFailedEvent:
		errorType := string(evt.ErrorType)
		if errorType == "" {
			errorType = "UNKNOWN"
		}
		c.AggregationFailures.WithLabelValues(evt.AggregationType, errorType).Inc()
		c.AggregationDuration.WithLabelValues(evt.AggregationType).Observe(evt.Duration.Seconds())
	}
}
