// Package repository is the persistence gateway for JSONB document tables.
//
// Reads run a compiled predicate for the page, the total count and every
// requested facet concurrently. Writes execute exactly one statement inside a
// transaction and commit only when exactly one record was affected.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/logger"
	"github.com/nimburion/transfers/pkg/observability/metrics"
	"github.com/nimburion/transfers/pkg/observability/tracing"
	"github.com/nimburion/transfers/pkg/query"
)

const defaultFacetConcurrency = 8

// Gateway implements Repository on a PostgreSQL Store.
type Gateway struct {
	db               Store
	logger           logger.Logger
	queryTimeout     time.Duration
	writeTimeout     time.Duration
	facetConcurrency int
	newID            func() string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithQueryTimeout bounds reads whose context carries no deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.queryTimeout = d }
}

// WithWriteTimeout bounds write transactions.
func WithWriteTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.writeTimeout = d }
}

// WithFacetConcurrency limits how many facet queries run at once.
func WithFacetConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.facetConcurrency = n
		}
	}
}

// WithIDGenerator replaces the UUIDv4 generator used by Create.
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.newID = fn
		}
	}
}

// NewGateway creates a gateway over db.
func NewGateway(db Store, log logger.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = logger.NewNop()
	}
	g := &Gateway{
		db:               db,
		logger:           log,
		facetConcurrency: defaultFacetConcurrency,
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Repository = (*Gateway)(nil)

// Find returns one page of records matching q, the total match count and the
// requested facets. The three are computed concurrently over the same predicate.
func (g *Gateway) Find(ctx context.Context, table string, q *query.Compiled) (*Page, error) {
	const op = "find"
	if q == nil {
		return nil, failure.New(failure.KindMalformedQuery, op, "compiled query is required")
	}

	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery, g.spanOptions(ctx, table)...)
	page, err := g.find(ctx, table, q)
	g.finish(ctx, span, op, table, start, err)
	return page, err
}

func (g *Gateway) find(ctx context.Context, table string, q *query.Compiled) (*Page, error) {
	ctx, cancel := g.readContext(ctx)
	defer cancel()

	var (
		records []Record
		total   int64
		facets  map[string]map[string]int64
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		var err error
		records, err = g.selectPage(gctx, table, q)
		return err
	})
	grp.Go(func() error {
		var err error
		total, err = g.count(gctx, table, q)
		return err
	})
	grp.Go(func() error {
		var err error
		facets, err = g.aggregate(gctx, table, q)
		return err
	})
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	return &Page{Records: records, TotalMatched: total, Facets: facets}, nil
}

func (g *Gateway) selectPage(ctx context.Context, table string, q *query.Compiled) ([]Record, error) {
	args := q.ArgsCopy(2)
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s%s", criteria.IDColumn, criteria.DocumentColumn, table, q.WhereClause())
	if q.OrderBy != "" {
		stmt += " ORDER BY " + q.OrderBy
	}
	args = append(args, q.Limit, q.Offset)
	stmt += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	g.logger.WithContext(ctx).Debug("selecting page", "sql", stmt, "query", q.Query)
	return g.queryRecords(ctx, "find", stmt, args)
}

func (g *Gateway) count(ctx context.Context, table string, q *query.Compiled) (int64, error) {
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, q.WhereClause())
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBCount,
		tracing.WithDBTable(table), tracing.WithDBStatement(stmt))

	var total int64
	err := g.db.QueryRowContext(ctx, stmt, q.ArgsCopy(0)...).Scan(&total)
	if err != nil {
		err = classify("count", err)
	}
	tracing.Finish(span, err)
	return total, err
}

// FindByCriterion returns every record matching c.
func (g *Gateway) FindByCriterion(ctx context.Context, table string, c criteria.Criteria) ([]Record, error) {
	const op = "find_by_criterion"
	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery, g.spanOptions(ctx, table)...)
	records, err := g.selectByCriterion(ctx, op, table, c, 0)
	g.finish(ctx, span, op, table, start, err)
	return records, err
}

// Get returns the single record matching c. No match is KindNotFound; more
// than one match is KindIntegrityViolation.
func (g *Gateway) Get(ctx context.Context, table string, c criteria.Criteria) (*Record, error) {
	const op = "get"
	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery, g.spanOptions(ctx, table)...)
	rec, err := g.get(ctx, op, table, c)
	g.finish(ctx, span, op, table, start, err)
	return rec, err
}

func (g *Gateway) get(ctx context.Context, op, table string, c criteria.Criteria) (*Record, error) {
	if len(c) == 0 {
		return nil, failure.New(failure.KindMalformedQuery, op, "an identifying criterion is required")
	}
	records, err := g.selectByCriterion(ctx, op, table, c, 2)
	if err != nil {
		return nil, err
	}
	switch len(records) {
	case 0:
		return nil, failure.New(failure.KindNotFound, op, "no record matches "+c.String())
	case 1:
		return &records[0], nil
	default:
		g.logger.WithContext(ctx).Error("identifier matched more than one record",
			"table", table,
			"criteria", c.String(),
		)
		return nil, failure.New(failure.KindIntegrityViolation, op, "more than one record matches "+c.String())
	}
}

func (g *Gateway) selectByCriterion(ctx context.Context, op, table string, c criteria.Criteria, limit int) ([]Record, error) {
	ctx, cancel := g.readContext(ctx)
	defer cancel()

	where, args := c.SQL(1)
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s", criteria.IDColumn, criteria.DocumentColumn, table, where)
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}
	g.logger.WithContext(ctx).Debug("selecting by criterion", "sql", stmt)
	return g.queryRecords(ctx, op, stmt, args)
}

func (g *Gateway) queryRecords(ctx context.Context, op, stmt string, args []any) ([]Record, error) {
	rows, err := g.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, classify(op, fmt.Errorf("failed to scan row: %w", err))
		}
		data, err := decodeDocument(doc)
		if err != nil {
			return nil, failure.Wrap(failure.KindBackendFailure, op, err, "stored document for "+id+" is not a JSON object")
		}
		records = append(records, Record{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return records, nil
}

func decodeDocument(doc []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// readContext applies the query timeout when ctx has no deadline of its own.
func (g *Gateway) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.queryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.queryTimeout)
}

// writeContext detaches ctx from caller cancellation and applies the write
// timeout, so an open transaction always reaches commit or rollback.
func (g *Gateway) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if g.writeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.writeTimeout)
}

func (g *Gateway) spanOptions(ctx context.Context, table string) []tracing.DatabaseSpanOption {
	return []tracing.DatabaseSpanOption{
		tracing.WithDBTable(table),
		tracing.WithDBSystem("postgresql"),
		tracing.WithTenant(logger.TenantFromContext(ctx)),
	}
}

// finish records metrics, logs the outcome and ends the operation span.
func (g *Gateway) finish(ctx context.Context, span trace.Span, op, table string, start time.Time, err error) {
	kind := failure.KindOf(err)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = string(kind)
	}
	metrics.RecordGatewayOperation(op, outcome, time.Since(start))
	tracing.Finish(span, err)

	log := g.logger.WithContext(ctx)
	elapsed := time.Since(start)
	switch kind {
	case "":
		log.Debug("gateway operation completed", "operation", op, "table", table, "duration", elapsed)
	case failure.KindMalformedQuery, failure.KindNotFound, failure.KindConflict:
		log.Debug("gateway operation rejected", "operation", op, "table", table, "kind", kind, "error", err)
	case failure.KindBackendUnavailable:
		log.Warn("store unavailable", "operation", op, "table", table, "duration", elapsed, "error", err)
	default:
		log.Error("gateway operation failed", "operation", op, "table", table, "kind", kind, "error", err)
	}
}
