package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var aggregateFlags requestFlags

// aggregateCmd computes the billable quantity of one metric
var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Compute the billable quantity of a metric for a subscription and window",
	Long: `Compute the aggregation of a billable metric and print the result as JSON.

Examples:
  tally aggregate -m api_calls --org org_1 -s sub_1 \
      --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z
  tally aggregate -m storage_gb -g region -g zone ...
  tally aggregate -m seats --mode advance --transaction-id tx_42 ...
  tally aggregate -m api_calls --free-units-per-events 100 ...`,
	Args: cobra.NoArgs,
	RunE: runAggregate,
}

func init() {
	aggregateFlags.register(aggregateCmd, true)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	spec, err := aggregateFlags.spec()
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := s.context(cmd.Context())
	defer cancel()

	result, err := s.service.Aggregate(ctx, spec)
	if err != nil {
		return err
	}
	if err := s.writeMetrics(aggregateFlags.metricsFile); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
