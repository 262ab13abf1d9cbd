package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nimburion/transfers/pkg/config"
	"github.com/nimburion/transfers/pkg/migrate"
	"github.com/nimburion/transfers/pkg/observability/logger"
	"github.com/nimburion/transfers/pkg/observability/metrics"
	"github.com/nimburion/transfers/pkg/observability/tracing"
	"github.com/nimburion/transfers/pkg/repository"
	pgstore "github.com/nimburion/transfers/pkg/store/postgres"
	"github.com/nimburion/transfers/pkg/transfers"
	"github.com/nimburion/transfers/pkg/version"
)

// runtime is everything one command invocation needs. Fields after log are
// only set by connect.
type runtime struct {
	cfg     *config.Config
	secrets *config.Config
	log     *logger.ZapLogger
	service *transfers.Service

	metrics *metrics.Registry
	tracer  *tracing.TracerProvider
	store   *pgstore.PostgreSQLAdapter
}

// LoadConfigAndLogger loads configuration with flag overrides and builds the
// zap logger it describes.
func LoadConfigAndLogger(cmd *cobra.Command, configFile, envPrefix, secretFile string) (*config.Config, *config.Config, *logger.ZapLogger, error) {
	if err := applySecretFileFlag(envPrefix, secretFile); err != nil {
		return nil, nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(configFile, envPrefix).
		WithFlags(cmd.Flags()).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}
	if strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		log.Debug("effective configuration", "config", fmt.Sprintf("%+v", cfg.Redacted(secrets)))
	}
	return cfg, secrets, log, nil
}

func applySecretFileFlag(envPrefix, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", path)
	}
	return os.Setenv(envPrefix+"_SECRETS_FILE", filepath.Clean(path))
}

// load prepares configuration, logging and a store-less service.
func (a *app) load(cmd *cobra.Command) (*runtime, error) {
	cfg, secrets, log, err := LoadConfigAndLogger(cmd, a.configFile, a.opts.EnvPrefix, a.secretFile)
	if err != nil {
		return nil, err
	}
	return &runtime{
		cfg:     cfg,
		secrets: secrets,
		log:     log,
		service: transfers.NewService(nil, serviceConfig(cfg), log),
	}, nil
}

// connect loads configuration and opens the store, tracing and the gateway.
// The caller must call close.
func (a *app) connect(cmd *cobra.Command) (*runtime, error) {
	rt, err := a.load(cmd)
	if err != nil {
		return nil, err
	}
	if err := rt.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	ctx := cmd.Context()

	rt.tracer, err = tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    rt.cfg.Service.Name,
		ServiceVersion: version.Current(rt.cfg.Service.Name, 0).Version,
		Environment:    rt.cfg.Service.Environment,
		Endpoint:       rt.cfg.Observability.TracingEndpoint,
		SampleRate:     rt.cfg.Observability.TracingSampleRate,
		Enabled:        rt.cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	rt.metrics = metrics.NewRegistry()

	db := rt.cfg.Database
	rt.store, err = a.opts.OpenStore(ctx, pgstore.Config{
		URL:             db.URL,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
		QueryTimeout:    db.QueryTimeout,
		WriteTimeout:    db.WriteTimeout,
	}, rt.log)
	if err != nil {
		_ = rt.tracer.Shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	gateway := repository.NewGateway(rt.store, rt.log,
		repository.WithQueryTimeout(db.QueryTimeout),
		repository.WithWriteTimeout(db.WriteTimeout),
		repository.WithFacetConcurrency(db.FacetConcurrency),
	)
	rt.service = transfers.NewService(gateway, serviceConfig(rt.cfg), rt.log)
	return rt, nil
}

// close releases the store and tracer and, when asked, dumps the gateway
// metrics to stderr.
func (a *app) close(cmd *cobra.Command, rt *runtime) {
	ctx := context.WithoutCancel(cmd.Context())
	if a.metrics && rt.metrics != nil {
		if err := rt.metrics.WriteText(cmd.ErrOrStderr(), "transfers_"); err != nil {
			rt.log.Warn("failed to write metrics", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("failed to close store", "error", err)
		}
	}
	if rt.tracer != nil {
		if err := rt.tracer.Shutdown(ctx); err != nil {
			rt.log.Warn("failed to flush traces", "error", err)
		}
	}
	_ = rt.log.Sync()
}

// requestContext tags ctx with a fresh request id.
func requestContext(ctx context.Context) context.Context {
	return logger.ContextWithRequestID(ctx, uuid.NewString())
}

func serviceConfig(cfg *config.Config) transfers.Config {
	t := cfg.Transfers
	return transfers.Config{
		Module:        t.Module,
		Table:         t.Table,
		DefaultTenant: t.DefaultTenant,
		DefaultLimit:  t.DefaultLimit,
		MaxLimit:      t.MaxLimit,
	}
}

func (rt *runtime) schema(tenantID string) (string, error) {
	return rt.service.SchemaName(tenantID)
}

func (rt *runtime) migrations(tenantID string) (*migrate.SQLManager, error) {
	schema, err := rt.schema(tenantID)
	if err != nil {
		return nil, err
	}
	return migrate.New(rt.store.DB(), schema)
}
