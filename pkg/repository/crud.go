package repository

import (
	"context"
	"database/sql"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/query"
)

// Reader provides read operations over a document table.
type Reader interface {
	Find(ctx context.Context, table string, q *query.Compiled) (*Page, error)
	FindByCriterion(ctx context.Context, table string, c criteria.Criteria) ([]Record, error)
	Get(ctx context.Context, table string, c criteria.Criteria) (*Record, error)
}

// Writer provides transactional write operations over a document table.
type Writer interface {
	Create(ctx context.Context, table string, rec Record) (*WriteResult, error)
	Update(ctx context.Context, table string, rec Record, c criteria.Criteria) (*WriteResult, error)
	Delete(ctx context.Context, table string, c criteria.Criteria) (*WriteResult, error)
}

// Repository combines Reader and Writer.
type Repository interface {
	Reader
	Writer
}

// SQLExecutor is the query surface shared by *sql.DB, *sql.Tx and the
// postgres adapter.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the pool the gateway runs on: *sql.DB or *postgres.PostgreSQLAdapter.
type Store interface {
	SQLExecutor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Record is one stored document. Data always carries "id" equal to ID once persisted.
type Record struct {
	ID   string
	Data map[string]any
}

// Page is the result of a filtered read.
type Page struct {
	Records []Record
	// TotalMatched counts every record matching the predicate, ignoring limit and offset.
	TotalMatched int64
	// Facets maps facet path to value to count.
	Facets map[string]map[string]int64
}

// WriteResult reports a committed write.
type WriteResult struct {
	// Record is the persisted document for Create and Update; nil for Delete.
	Record   *Record
	Affected int64
}
