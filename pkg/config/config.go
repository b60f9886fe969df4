// Package config loads engine configuration from prodflow.yaml with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the engine's runtime configuration.
type Config struct {
	// DatabaseDSN is the GORM DSN, e.g. a sqlite file path.
	DatabaseDSN string `mapstructure:"database_dsn"`

	// SweepSchedule is the cron expression for the background sweeper.
	SweepSchedule string `mapstructure:"sweep_schedule"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads prodflow.yaml from the working directory. A missing file is
// not an error; defaults and PRODFLOW_* environment variables apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("prodflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("database_dsn", "prodflow.db")
	v.SetDefault("sweep_schedule", "@every 1m")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("PRODFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
