package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chrisconley/tally/internal/infra/sqlite"
)

// migrateCmd creates or upgrades the event database schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the event database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.Open(appConfig.Database.Path, appConfig.Database.BusyTimeout)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := db.Migrate()
		if err != nil {
			return err
		}
		logger.Info("migrations applied",
			zap.String("database", appConfig.Database.Path),
			zap.Strings("versions", applied),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", len(applied))
		return nil
	},
}
