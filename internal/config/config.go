// Package config loads tally configuration from a YAML file, TALLY_-prefixed
// environment variables and built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chrisconley/tally/internal"
	"github.com/chrisconley/tally/internal/logging"
	"github.com/chrisconley/tally/specs"
)

// Config holds all application configuration
type Config struct {
	Database        DatabaseConfig
	Logging         logging.Config
	Aggregation     AggregationConfig
	Metrics         MetricsConfig
	BillableMetrics []MetricConfig
}

// DatabaseConfig holds the SQLite event store settings
type DatabaseConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// AggregationConfig holds service settings
type AggregationConfig struct {
	MaxConcurrency int           // bound for batched aggregation calls
	QueryTimeout   time.Duration // per aggregation call, 0 disables
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// MetricConfig declares one billable metric of the catalog.
type MetricConfig struct {
	Code            string   `mapstructure:"code"`
	AggregationType string   `mapstructure:"aggregation_type"`
	FieldName       string   `mapstructure:"field_name"`
	Properties      []string `mapstructure:"properties"`
}

func (m MetricConfig) ToSpec() specs.BillableMetricSpec {
	return specs.BillableMetricSpec{
		Code:            m.Code,
		AggregationType: m.AggregationType,
		FieldName:       m.FieldName,
		Properties:      append([]string(nil), m.Properties...),
	}
}

// Load reads configuration.
// Priority (highest to lowest):
// 1. Environment variables with TALLY_ prefix (e.g., TALLY_DATABASE_PATH)
// 2. The file at path, or tally.yaml in the working directory when path is empty
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tally")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tally")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file is fine, defaults and env vars apply.
	}

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Database: DatabaseConfig{
			Path:        v.GetString("database.path"),
			BusyTimeout: v.GetDuration("database.busy_timeout"),
		},
		Logging: logging.Config{
			Level:       v.GetString("logging.level"),
			Format:      v.GetString("logging.format"),
			Output:      v.GetString("logging.output"),
			Development: v.GetBool("logging.development"),
		},
		Aggregation: AggregationConfig{
			MaxConcurrency: v.GetInt("aggregation.max_concurrency"),
			QueryTimeout:   v.GetDuration("aggregation.query_timeout"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
		},
	}
	if err := v.UnmarshalKey("billable_metrics", &cfg.BillableMetrics); err != nil {
		return nil, fmt.Errorf("decode billable_metrics: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := logging.DefaultConfig()
	v.SetDefault("database.path", "tally.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("logging.level", defaults.Level)
	v.SetDefault("logging.format", defaults.Format)
	v.SetDefault("logging.output", defaults.Output)
	v.SetDefault("logging.development", defaults.Development)
	v.SetDefault("aggregation.max_concurrency", 8)
	v.SetDefault("aggregation.query_timeout", 30*time.Second)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "tally")
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Aggregation.MaxConcurrency < 1 {
		return fmt.Errorf("aggregation.max_concurrency must be positive, got %d", c.Aggregation.MaxConcurrency)
	}
	if c.Aggregation.QueryTimeout < 0 {
		return fmt.Errorf("aggregation.query_timeout must not be negative")
	}

	seen := make(map[string]bool, len(c.BillableMetrics))
	for i, m := range c.BillableMetrics {
		if _, err := internal.NewBillableMetric(m.ToSpec()); err != nil {
			return fmt.Errorf("billable_metrics[%d]: %w", i, err)
		}
		if seen[m.Code] {
			return fmt.Errorf("billable_metrics[%d]: duplicate code %q", i, m.Code)
		}
		seen[m.Code] = true
	}
	return nil
}

// Metric returns the catalog entry with the given code.
func (c *Config) Metric(code string) (specs.BillableMetricSpec, error) {
	for _, m := range c.BillableMetrics {
		if m.Code == code {
			return m.ToSpec(), nil
		}
	}
	return specs.BillableMetricSpec{}, fmt.Errorf("unknown billable metric %q", code)
}
