package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/tracing"
)

// Create inserts rec. An empty ID is taken from Data["id"] and otherwise
// generated; the stored document always carries the final id. A duplicate id
// fails with KindConflict.
func (g *Gateway) Create(ctx context.Context, table string, rec Record) (*WriteResult, error) {
	const op = "create"
	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBInsert, g.spanOptions(ctx, table)...)
	res, err := g.create(ctx, op, table, rec)
	g.finish(ctx, span, op, table, start, err)
	return res, err
}

func (g *Gateway) create(ctx context.Context, op, table string, rec Record) (*WriteResult, error) {
	id, err := resolveID(op, rec)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = g.newID()
	}
	data, doc, err := encodeDocument(op, id, rec.Data)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, $2)", table, criteria.IDColumn, criteria.DocumentColumn)
	err = g.withTx(ctx, op, func(ctx context.Context, tx *sql.Tx) error {
		n, err := execAffected(ctx, tx, op, stmt, id, string(doc))
		if err != nil {
			return err
		}
		if n != 1 {
			return failure.New(failure.KindBackendFailure, op, fmt.Sprintf("insert affected %d rows", n))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &WriteResult{Record: &Record{ID: id, Data: data}, Affected: 1}, nil
}

// Update replaces the payload of the single record matching c with rec.Data.
// When c pins an id, the record id must equal it. No match is KindNotFound and more than one match is KindIntegrityViolation;
// both leave the table unchanged.
func (g *Gateway) Update(ctx context.Context, table string, rec Record, c criteria.Criteria) (*WriteResult, error) {
	const op = "update"
	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBUpdate, g.spanOptions(ctx, table)...)
	res, err := g.update(ctx, op, table, rec, c)
	g.finish(ctx, span, op, table, start, err)
	return res, err
}

func (g *Gateway) update(ctx context.Context, op, table string, rec Record, c criteria.Criteria) (*WriteResult, error) {
	if len(c) == 0 {
		return nil, failure.New(failure.KindMalformedQuery, op, "an identifying criterion is required")
	}
	id, err := resolveID(op, rec)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, failure.New(failure.KindMalformedQuery, op, "record id is required")
	}
	if pinned, ok := c.ID(); ok && pinned != id {
		return nil, failure.New(failure.KindMalformedQuery, op,
			fmt.Sprintf("record id %q does not match criterion id %q", id, pinned))
	}
	data, doc, err := encodeDocument(op, id, rec.Data)
	if err != nil {
		return nil, err
	}

	where, whereArgs := c.SQL(2)
	stmt := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s", table, criteria.DocumentColumn, where)
	args := append([]any{string(doc)}, whereArgs...)

	n, err := g.execSingle(ctx, op, table, stmt, args, c)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Record: &Record{ID: id, Data: data}, Affected: n}, nil
}

// Delete removes the single record matching c with the same outcome rules as Update.
func (g *Gateway) Delete(ctx context.Context, table string, c criteria.Criteria) (*WriteResult, error) {
	const op = "delete"
	start := time.Now()
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBDelete, g.spanOptions(ctx, table)...)
	res, err := g.delete(ctx, op, table, c)
	g.finish(ctx, span, op, table, start, err)
	return res, err
}

func (g *Gateway) delete(ctx context.Context, op, table string, c criteria.Criteria) (*WriteResult, error) {
	if len(c) == 0 {
		return nil, failure.New(failure.KindMalformedQuery, op, "an identifying criterion is required")
	}
	where, args := c.SQL(1)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)

	n, err := g.execSingle(ctx, op, table, stmt, args, c)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Affected: n}, nil
}

// execSingle runs stmt in a transaction and commits only if exactly one row
// was affected.
func (g *Gateway) execSingle(ctx context.Context, op, table, stmt string, args []any, c criteria.Criteria) (int64, error) {
	var affected int64
	err := g.withTx(ctx, op, func(ctx context.Context, tx *sql.Tx) error {
		n, err := execAffected(ctx, tx, op, stmt, args...)
		if err != nil {
			return err
		}
		switch {
		case n == 0:
			return failure.New(failure.KindNotFound, op, "no record matches "+c.String())
		case n > 1:
			g.logger.WithContext(ctx).Error("write matched more than one record, rolling back",
				"operation", op,
				"table", table,
				"criteria", c.String(),
				"affected", n,
			)
			return failure.New(failure.KindIntegrityViolation, op, fmt.Sprintf("%d records match %s", n, c.String()))
		}
		affected = n
		return nil
	})
	return affected, err
}

func execAffected(ctx context.Context, tx *sql.Tx, op, stmt string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(op, fmt.Errorf("failed to read affected rows: %w", err))
	}
	return n, nil
}

// resolveID reconciles rec.ID with the payload id. Either may be empty; when
// both are set they must agree.
func resolveID(op string, rec Record) (string, error) {
	var payloadID string
	if v, ok := rec.Data[criteria.IDField]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return "", failure.New(failure.KindMalformedQuery, op, "payload id must be a string")
		}
		payloadID = s
	}
	switch {
	case rec.ID == "":
		return payloadID, nil
	case payloadID != "" && payloadID != rec.ID:
		return "", failure.New(failure.KindMalformedQuery, op,
			fmt.Sprintf("payload id %q does not match record id %q", payloadID, rec.ID))
	default:
		return rec.ID, nil
	}
}

// encodeDocument copies data, stamps id into it and serializes it.
func encodeDocument(op, id string, data map[string]any) (map[string]any, []byte, error) {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[criteria.IDField] = id

	doc, err := json.Marshal(out)
	if err != nil {
		return nil, nil, failure.Wrap(failure.KindMalformedQuery, op, err, "payload is not serializable as JSON")
	}
	return out, doc, nil
}
