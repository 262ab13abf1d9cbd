package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"database-url":  "database.url",
	"query-timeout": "database.query_timeout",
	"log-level":     "observability.log_level",
	"log-format":    "observability.log_format",
	"max-limit":     "transfers.max_limit",
}

// RegisterFlags adds the configuration override flags to fs. Their defaults
// are informational; only flags set explicitly override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Duration("query-timeout", d.Database.QueryTimeout, "timeout for read queries without a deadline")
	fs.String("log-level", d.Observability.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Observability.LogFormat, "log format (json, text)")
	fs.Int("max-limit", d.Transfers.MaxLimit, "largest page size a list request may ask for")
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}
