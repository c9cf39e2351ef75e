// Package cmd provides the CLI commands for tally.
package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chrisconley/tally/internal"
	"github.com/chrisconley/tally/internal/config"
	"github.com/chrisconley/tally/internal/infra"
	"github.com/chrisconley/tally/internal/infra/metrics"
	"github.com/chrisconley/tally/internal/infra/sqlite"
	"github.com/chrisconley/tally/internal/logging"
)

var (
	cfgFile string
	verbose bool

	appConfig *config.Config
	logger    = zap.NewNop()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Aggregate usage events into billable quantities",
	Long: `tally computes the billable quantity of a metric for one subscription
over a billing period, from usage events stored in a SQLite database.

Examples:
  tally migrate
  tally load events.jsonl
  tally aggregate --metric api_calls --org org_1 --subscription sub_1 \
      --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z
  tally aggregate --metric storage_gb --group-by region ...
  tally metrics list`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tally.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(perEventCmd)
	rootCmd.AddCommand(metricsCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	l, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	appConfig = cfg
	logger = l
	return nil
}

// session bundles what a command needs to run aggregation calls.
type session struct {
	db       *sqlite.DB
	store    *sqlite.EventStore
	service  *internal.AggregationService
	registry *prometheus.Registry
}

func openSession() (*session, error) {
	db, err := sqlite.Open(appConfig.Database.Path, appConfig.Database.BusyTimeout)
	if err != nil {
		return nil, err
	}

	s := &session{db: db, store: sqlite.NewEventStore(db)}

	opts := []internal.ServiceOption{
		internal.WithLogger(logger),
		internal.WithMaxConcurrency(appConfig.Aggregation.MaxConcurrency),
	}
	if appConfig.Metrics.Enabled {
		bus := infra.NewBus()
		s.registry = prometheus.NewRegistry()
		metrics.NewWithRegistry(s.registry, appConfig.Metrics.Namespace).Subscribe(bus)
		opts = append(opts, internal.WithBus(bus))
	}
	s.service = internal.NewAggregationService(s.store, opts...)
	return s, nil
}

// context bounds a call by the configured query timeout.
func (s *session) context(parent context.Context) (context.Context, context.CancelFunc) {
	if appConfig.Aggregation.QueryTimeout > 0 {
		return context.WithTimeout(parent, appConfig.Aggregation.QueryTimeout)
	}
	return context.WithCancel(parent)
}

// writeMetrics dumps the session's metrics in the Prometheus text format, for
// the node exporter textfile collector.
func (s *session) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if s.registry == nil {
		return fmt.Errorf("--metrics-file requires metrics.enabled")
	}
	return prometheus.WriteToTextfile(path, s.registry)
}

func (s *session) Close() error {
	return s.db.Close()
}
