package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chrisconley/tally/specs"
)

// requestFlags are the flags shared by commands that build an aggregation request.
type requestFlags struct {
	metric        string
	organization  string
	subscription  string
	from          string
	to            string
	mode          string
	groupBy       []string
	transactionID string
	freePerEvents int64
	freePerTotal  string
	metricsFile   string
}

func (f *requestFlags) register(cmd *cobra.Command, grouping bool) {
	flags := cmd.Flags()
	flags.StringVarP(&f.metric, "metric", "m", "", "billable metric code from the config catalog")
	flags.StringVar(&f.organization, "org", "", "organization id")
	flags.StringVarP(&f.subscription, "subscription", "s", "", "subscription id")
	flags.StringVar(&f.from, "from", "", "window start, RFC 3339, inclusive")
	flags.StringVar(&f.to, "to", "", "window end, RFC 3339, exclusive")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	if grouping {
		flags.StringVar(&f.mode, "mode", "arrears", "pricing mode (arrears, advance)")
		flags.StringSliceVarP(&f.groupBy, "group-by", "g", nil, "grouping key property, repeatable")
		flags.StringVar(&f.transactionID, "transaction-id", "", "triggering event for advance mode")
		flags.Int64Var(&f.freePerEvents, "free-units-per-events", 0, "free units counted per event")
		flags.StringVar(&f.freePerTotal, "free-units-per-total", "", "free units threshold on the total aggregation")
	}
	for _, name := range []string{"metric", "org", "subscription", "from", "to"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (f *requestFlags) spec() (specs.AggregationRequestSpec, error) {
	metric, err := appConfig.Metric(f.metric)
	if err != nil {
		return specs.AggregationRequestSpec{}, err
	}
	from, err := time.Parse(time.RFC3339, f.from)
	if err != nil {
		return specs.AggregationRequestSpec{}, fmt.Errorf("--from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, f.to)
	if err != nil {
		return specs.AggregationRequestSpec{}, fmt.Errorf("--to: %w", err)
	}

	spec := specs.AggregationRequestSpec{
		BillableMetric: metric,
		OrganizationID: f.organization,
		SubscriptionID: f.subscription,
		Window:         specs.TimeWindowSpec{Start: from.UTC(), End: to.UTC()},
		Mode:           f.mode,
		GroupingKey:    f.groupBy,
		FreeUnits: specs.FreeUnitOptionsSpec{
			FreeUnitsPerEvents:           f.freePerEvents,
			FreeUnitsPerTotalAggregation: f.freePerTotal,
		},
	}
	if f.transactionID != "" {
		spec.PayInAdvance = &specs.PayInAdvanceSpec{TransactionID: f.transactionID}
	}
	return spec, nil
}
