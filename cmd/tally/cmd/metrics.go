package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// metricsCmd groups billable metric catalog commands
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect the billable metric catalog",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var metricsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured billable metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tAGGREGATION\tFIELD\tPROPERTIES")
		for _, m := range appConfig.BillableMetrics {
			field := m.FieldName
			if field == "" {
				field = "-"
			}
			properties := strings.Join(m.Properties, ",")
			if properties == "" {
				properties = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Code, m.AggregationType, field, properties)
		}
		return w.Flush()
	},
}

func init() {
	metricsCmd.AddCommand(metricsListCmd)
}
