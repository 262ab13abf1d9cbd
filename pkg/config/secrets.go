package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration like Load and additionally merges a
// secrets file between the config file and the environment. The secrets-only
// view is returned so callers can redact those values.
//
// The secrets file is <PREFIX>_SECRETS_FILE when set, otherwise secrets.<ext>
// next to the config file, otherwise absent.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	v, err := l.build()
	if err != nil {
		return nil, nil, err
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, nil, err
	}
	var secrets *Config
	if secretsFile != "" {
		sv := viper.New()
		sv.SetConfigFile(secretsFile)
		if err := sv.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		var s Config
		if err := sv.Unmarshal(&s); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", secretsFile, err)
		}
		secrets = &s
		if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
			return nil, nil, fmt.Errorf("failed to merge secrets: %w", err)
		}
	}

	cfg, err := l.finish(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, secrets, nil
}

func (l *ViperLoader) discoverSecretsFile() (string, error) {
	name := l.prefix() + "_SECRETS_FILE"
	if raw, ok := os.LookupEnv(name); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%s is set but empty", name)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", name, path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", name, path)
		}
		return path, nil
	}

	if l.configFile != "" {
		path := filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}
