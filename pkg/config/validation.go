package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var modulePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks that the configuration is usable. It does not require a
// database URL; commands that open a connection call RequireDatabase.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.Name) == "" {
		return fmt.Errorf("service.name is required")
	}

	db := c.Database
	if db.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must not be negative")
	}
	if db.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must not be negative")
	}
	if db.MaxOpenConns > 0 && db.MaxIdleConns > db.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) must not exceed database.max_open_conns (%d)", db.MaxIdleConns, db.MaxOpenConns)
	}
	for name, d := range map[string]time.Duration{
		"database.conn_max_lifetime":  db.ConnMaxLifetime,
		"database.conn_max_idle_time": db.ConnMaxIdleTime,
		"database.query_timeout":      db.QueryTimeout,
		"database.write_timeout":      db.WriteTimeout,
		"database.migrate_timeout":    db.MigrateTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if db.FacetConcurrency < 0 {
		return fmt.Errorf("database.facet_concurrency must not be negative")
	}
	if db.URL != "" {
		if _, err := url.Parse(db.URL); err != nil {
			return fmt.Errorf("database.url is not a valid URL: %w", err)
		}
	}

	obs := c.Observability
	if !contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(obs.LogLevel)) {
		return fmt.Errorf("invalid observability.log_level %q (must be debug, info, warn or error)", obs.LogLevel)
	}
	if !contains([]string{"json", "text", "console"}, strings.ToLower(obs.LogFormat)) {
		return fmt.Errorf("invalid observability.log_format %q (must be json or text)", obs.LogFormat)
	}
	if obs.TracingSampleRate < 0 || obs.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1")
	}
	if obs.TracingEnabled && strings.TrimSpace(obs.TracingEndpoint) == "" {
		return fmt.Errorf("observability.tracing_endpoint is required when tracing is enabled")
	}

	tr := c.Transfers
	if !modulePattern.MatchString(tr.Module) {
		return fmt.Errorf("invalid transfers.module %q", tr.Module)
	}
	if !modulePattern.MatchString(tr.Table) {
		return fmt.Errorf("invalid transfers.table %q", tr.Table)
	}
	if tr.DefaultLimit <= 0 {
		return fmt.Errorf("transfers.default_limit must be positive")
	}
	if tr.MaxLimit < tr.DefaultLimit {
		return fmt.Errorf("transfers.max_limit (%d) must be at least transfers.default_limit (%d)", tr.MaxLimit, tr.DefaultLimit)
	}
	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required (set TRANSFERS_DATABASE_URL or --database-url)")
	}
	return nil
}

// Redacted returns a copy of c with the database password and any value
// present in secrets masked.
func (c *Config) Redacted(secrets *Config) *Config {
	out := *c
	out.Database.URL = redactURL(c.Database.URL)
	if secrets == nil {
		return &out
	}
	if secrets.Database.URL != "" {
		out.Database.URL = "***"
	}
	if secrets.Observability.TracingEndpoint != "" {
		out.Observability.TracingEndpoint = "***"
	}
	return &out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
