package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var perEventFlags requestFlags

// perEventCmd prints the contribution of every event of the window
var perEventCmd = &cobra.Command{
	Use:   "per-event",
	Short: "Print each event's contribution to a count or sum metric, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := perEventFlags.spec()
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

		values, err := s.service.PerEvent(ctx, spec)
		if err != nil {
			return err
		}
		for _, v := range values {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return s.writeMetrics(perEventFlags.metricsFile)
	},
}

func init() {
	perEventFlags.register(perEventCmd, false)
}
