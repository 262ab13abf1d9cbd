package repository

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/tracing"
	"github.com/nimburion/transfers/pkg/query"
)

// Aggregate computes the facets requested in q over every record matching
// its predicate, ignoring limit and offset. NULL values are not counted. An
// empty facet list returns an empty map without querying the store.
func (g *Gateway) Aggregate(ctx context.Context, table string, q *query.Compiled) (map[string]map[string]int64, error) {
	const op = "aggregate"
	if q == nil {
		return nil, failure.New(failure.KindMalformedQuery, op, "compiled query is required")
	}
	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBFacet, g.spanOptions(ctx, table)...)
	ctx, cancel := g.readContext(ctx)
	facets, err := g.aggregate(ctx, table, q)
	cancel()
	g.finish(ctx, span, op, table, start, err)
	return facets, err
}

func (g *Gateway) aggregate(ctx context.Context, table string, q *query.Compiled) (map[string]map[string]int64, error) {
	out := make(map[string]map[string]int64, len(q.Facets))
	if len(q.Facets) == 0 {
		return out, nil
	}

	results := make([]map[string]int64, len(q.Facets))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.facetConcurrency)
	for i, f := range q.Facets {
		grp.Go(func() error {
			counts, err := g.facet(gctx, table, q, f)
			if err != nil {
				return err
			}
			results[i] = counts
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	for i, f := range q.Facets {
		out[f.Path] = results[i]
	}
	return out, nil
}

func (g *Gateway) facet(ctx context.Context, table string, q *query.Compiled, f query.Facet) (map[string]int64, error) {
	stmt, args := facetStatement(table, q, f)
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBFacet,
		tracing.WithDBTable(table), tracing.WithDBStatement(stmt))
	g.logger.WithContext(ctx).Debug("computing facet", "facet", f.Path, "sql", stmt)

	counts, err := g.scanFacet(ctx, stmt, args)
	tracing.Finish(span, err)
	return counts, err
}

func facetStatement(table string, q *query.Compiled, f query.Facet) (string, []any) {
	expr := criteria.TextPath(criteria.DocumentColumn, f.Path)
	where := " WHERE " + expr + " IS NOT NULL"
	if q.Where != "" {
		where = " WHERE (" + q.Where + ") AND " + expr + " IS NOT NULL"
	}
	stmt := fmt.Sprintf("SELECT %s AS value, COUNT(*) AS count FROM %s%s GROUP BY 1 ORDER BY 2 DESC, 1 ASC",
		expr, table, where)

	args := q.ArgsCopy(1)
	if f.TopN > 0 {
		args = append(args, f.TopN)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return stmt, args
}

func (g *Gateway) scanFacet(ctx context.Context, stmt string, args []any) (map[string]int64, error) {
	const op = "facet"
	rows, err := g.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			value string
			count int64
		)
		if err := rows.Scan(&value, &count); err != nil {
			return nil, classify(op, fmt.Errorf("failed to scan facet row: %w", err))
		}
		counts[value] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return counts, nil
}
