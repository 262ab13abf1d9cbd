package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable the loader reads.
const DefaultEnvPrefix = "TRANSFERS"

// Loader loads and validates configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader on viper with precedence
// flags > env > secrets file > config file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

var _ Loader = (*ViperLoader)(nil)

// NewViperLoader creates a loader. configFile may be empty; envPrefix
// defaults to TRANSFERS.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{configFile: configFile, envPrefix: envPrefix}
}

// WithFlags binds the flags registered by RegisterFlags as the highest
// precedence source. Only flags set on the command line override.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the configured file path, if any.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load reads every source and validates the result.
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.LoadWithSecrets()
	return cfg, err
}

func (l *ViperLoader) build() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}
	return v, nil
}

func (l *ViperLoader) finish(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(l.prefix())
	if err := l.bindEnvVars(v); err != nil {
		return nil, err
	}
	if err := l.bindFlags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks cfg.
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

var envKeys = []string{
	"service.name",
	"service.environment",
	"service.version",

	"database.url",
	"database.max_open_conns",
	"database.max_idle_conns",
	"database.conn_max_lifetime",
	"database.conn_max_idle_time",
	"database.query_timeout",
	"database.write_timeout",
	"database.facet_concurrency",
	"database.migrate_timeout",

	"observability.log_level",
	"observability.log_format",
	"observability.tracing_enabled",
	"observability.tracing_endpoint",
	"observability.tracing_sample_rate",

	"transfers.module",
	"transfers.table",
	"transfers.default_tenant",
	"transfers.default_limit",
	"transfers.max_limit",
}

// bindEnvVars binds each key to PREFIX_SECTION_FIELD, e.g.
// TRANSFERS_DATABASE_QUERY_TIMEOUT. database.url also falls back to DATABASE_URL.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys {
		names := []string{key, l.envName(key)}
		if key == "database.url" {
			names = append(names, "DATABASE_URL")
		}
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func (l *ViperLoader) envName(key string) string {
	return l.prefix() + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (l *ViperLoader) prefix() string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)
	v.SetDefault("service.version", cfg.Service.Version)

	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", cfg.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)
	v.SetDefault("database.write_timeout", cfg.Database.WriteTimeout)
	v.SetDefault("database.facet_concurrency", cfg.Database.FacetConcurrency)
	v.SetDefault("database.migrate_timeout", cfg.Database.MigrateTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)

	v.SetDefault("transfers.module", cfg.Transfers.Module)
	v.SetDefault("transfers.table", cfg.Transfers.Table)
	v.SetDefault("transfers.default_tenant", cfg.Transfers.DefaultTenant)
	v.SetDefault("transfers.default_limit", cfg.Transfers.DefaultLimit)
	v.SetDefault("transfers.max_limit", cfg.Transfers.MaxLimit)
}
