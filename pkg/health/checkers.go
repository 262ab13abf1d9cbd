package health

import (
	"context"
	"fmt"
	"time"

	"github.com/nimburion/transfers/pkg/migrate"
)

const defaultTimeout = 5 * time.Second

// Pinger is satisfied by the store adapter.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// StoreChecker reports whether the database answers within timeout.
type StoreChecker struct {
	store   Pinger
	timeout time.Duration
}

func NewStoreChecker(store Pinger, timeout time.Duration) *StoreChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &StoreChecker{store: store, timeout: timeout}
}

func (c *StoreChecker) Name() string { return "database" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.HealthCheck(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "OK"}
}

// StatusFunc reports the migration state of one tenant schema.
type StatusFunc func(ctx context.Context) (*migrate.Status, error)

// SchemaChecker is degraded while a tenant schema has pending migrations
// and unhealthy when its state cannot be read.
type SchemaChecker struct {
	schema  string
	status  StatusFunc
	timeout time.Duration
}

func NewSchemaChecker(schema string, status StatusFunc, timeout time.Duration) *SchemaChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SchemaChecker{schema: schema, status: status, timeout: timeout}
}

func (c *SchemaChecker) Name() string { return "schema:" + c.schema }

func (c *SchemaChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	st, err := c.status(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	meta := map[string]any{
		"applied": len(st.AppliedVersions),
		"pending": len(st.Pending),
	}
	if len(st.Pending) > 0 {
		return CheckResult{
			Status:   StatusDegraded,
			Message:  fmt.Sprintf("%d pending migrations", len(st.Pending)),
			Metadata: meta,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "up to date", Metadata: meta}
}
