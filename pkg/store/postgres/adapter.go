// Package postgres owns the pooled PostgreSQL connection the gateway runs on.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nimburion/transfers/pkg/observability/logger"
)

// PostgreSQLAdapter is a pooled *sql.DB plus its configuration.
type PostgreSQLAdapter struct {
	db     *sql.DB
	logger logger.Logger
	config Config
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// QueryTimeout bounds read operations that carry no deadline.
	QueryTimeout time.Duration
	// WriteTimeout bounds write transactions, which run detached from caller cancellation.
	WriteTimeout time.Duration
}

// NewPostgreSQLAdapter opens the pool and verifies connectivity.
func NewPostgreSQLAdapter(cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	adapter, err := NewFromDB(db, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return adapter, nil
}

// NewFromDB wraps an already opened pool, applies the pool settings and pings it.
func NewFromDB(db *sql.DB, cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("PostgreSQL connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"query_timeout", cfg.QueryTimeout,
		"write_timeout", cfg.WriteTimeout,
	)

	return &PostgreSQLAdapter{
		db:     db,
		logger: log,
		config: cfg,
	}, nil
}

// DB returns the underlying pool.
func (a *PostgreSQLAdapter) DB() *sql.DB {
	return a.db
}

// Config returns the configuration the adapter was built with.
func (a *PostgreSQLAdapter) Config() Config {
	return a.config
}

func (a *PostgreSQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// HealthCheck pings the database with a two second bound.
func (a *PostgreSQLAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.Ping(ctx); err != nil {
		a.logger.Error("PostgreSQL health check failed", "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the pool.
func (a *PostgreSQLAdapter) Close() error {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close PostgreSQL connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	a.logger.Debug("PostgreSQL connection closed")
	return nil
}

// BeginTx starts a transaction on the pool.
func (a *PostgreSQLAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return a.db.BeginTx(ctx, opts)
}

func (a *PostgreSQLAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pool. The context must stay alive until
// the returned rows are closed.
func (a *PostgreSQLAdapter) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

func (a *PostgreSQLAdapter) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return a.db.QueryRowContext(ctx, query, args...)
}
