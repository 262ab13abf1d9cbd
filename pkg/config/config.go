// Package config loads the transfers service configuration from defaults,
// an optional YAML file, a secrets file, environment variables and flags.
package config

import "time"

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
	Transfers     TransfersConfig     `mapstructure:"transfers" yaml:"transfers"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	Version     string `mapstructure:"version" yaml:"version"`
}

// DatabaseConfig configures the PostgreSQL pool and gateway timeouts.
type DatabaseConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	MaxOpenConns     int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	FacetConcurrency int           `mapstructure:"facet_concurrency" yaml:"facet_concurrency"`
	MigrateTimeout   time.Duration `mapstructure:"migrate_timeout" yaml:"migrate_timeout"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
}

// TransfersConfig configures the transfers resource.
type TransfersConfig struct {
	Module        string `mapstructure:"module" yaml:"module"`
	Table         string `mapstructure:"table" yaml:"table"`
	DefaultTenant string `mapstructure:"default_tenant" yaml:"default_tenant"`
	DefaultLimit  int    `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit      int    `mapstructure:"max_limit" yaml:"max_limit"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "transfers",
			Environment: "production",
			Version:     "dev",
		},
		Database: DatabaseConfig{
			MaxOpenConns:     25,
			MaxIdleConns:     5,
			ConnMaxLifetime:  5 * time.Minute,
			ConnMaxIdleTime:  5 * time.Minute,
			QueryTimeout:     30 * time.Second,
			WriteTimeout:     30 * time.Second,
			FacetConcurrency: 8,
			MigrateTimeout:   60 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 0.1,
		},
		Transfers: TransfersConfig{
			Module:        "mod_feesfines",
			Table:         "transfers",
			DefaultTenant: "diku",
			DefaultLimit:  10,
			MaxLimit:      1000,
		},
	}
}
