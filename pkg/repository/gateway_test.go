package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/logger"
	"github.com/nimburion/transfers/pkg/query"
)

const testTable = `"diku_mod_feesfines"."transfers"`

func newMockGateway(t *testing.T, opts ...Option) (*Gateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return NewGateway(db, logger.NewNop(), opts...), mock
}

func compile(t *testing.T, q string, limit, offset int, facets ...string) *query.Compiled {
	t.Helper()
	c := query.NewCompiler(criteria.DocumentColumn, query.Schema{
		"status": query.String,
		"amount": query.Number,
	})
	compiled, err := c.Compile(q, limit, offset, facets)
	if err != nil {
		t.Fatalf("Compile(%q) error = %v", q, err)
	}
	return compiled
}

func assertKind(t *testing.T, err error, want failure.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := failure.KindOf(err); got != want {
		t.Fatalf("error kind = %s, want %s (%v)", got, want, err)
	}
}

// captureArg matches any string argument and remembers it.
type captureArg struct{ value *string }

func (c captureArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.value = s
	}
	return ok
}

func TestGateway_FindPagesAndCounts(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT id, jsonb FROM "diku_mod_feesfines"."transfers" WHERE jsonb->>'status' ILIKE $1 LIMIT $2 OFFSET $3`).
		WithArgs("open", 2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "jsonb"}).
			AddRow("t1", []byte(`{"id":"t1","status":"open"}`)).
			AddRow("t2", []byte(`{"id":"t2","status":"open"}`)))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "diku_mod_feesfines"."transfers" WHERE jsonb->>'status' ILIKE $1`).
		WithArgs("open").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	page, err := g.Find(context.Background(), testTable, compile(t, "status=open", 2, 0))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(page.Records))
	}
	if page.TotalMatched != 5 {
		t.Fatalf("TotalMatched = %d, want 5", page.TotalMatched)
	}
	if page.Records[0].ID != "t1" || page.Records[0].Data["status"] != "open" {
		t.Errorf("first record = %+v", page.Records[0])
	}
	if len(page.Facets) != 0 {
		t.Errorf("Facets = %v, want empty", page.Facets)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_FindWithSortAndFacets(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT id, jsonb FROM "diku_mod_feesfines"."transfers" WHERE (jsonb->>'amount')::numeric > $1::numeric ORDER BY jsonb->>'status' DESC, id ASC LIMIT $2 OFFSET $3`).
		WithArgs("10", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "jsonb"}))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "diku_mod_feesfines"."transfers" WHERE (jsonb->>'amount')::numeric > $1::numeric`).
		WithArgs("10").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT jsonb->>'status' AS value, COUNT(*) AS count FROM "diku_mod_feesfines"."transfers" WHERE ((jsonb->>'amount')::numeric > $1::numeric) AND jsonb->>'status' IS NOT NULL GROUP BY 1 ORDER BY 2 DESC, 1 ASC LIMIT $2`).
		WithArgs("10", 5).
		WillReturnRows(sqlmock.NewRows([]string{"value", "count"}).
			AddRow("open", int64(2)).
			AddRow("closed", int64(1)))
	mock.ExpectQuery(`SELECT jsonb->>'amount' AS value, COUNT(*) AS count FROM "diku_mod_feesfines"."transfers" WHERE ((jsonb->>'amount')::numeric > $1::numeric) AND jsonb->>'amount' IS NOT NULL GROUP BY 1 ORDER BY 2 DESC, 1 ASC`).
		WithArgs("10").
		WillReturnRows(sqlmock.NewRows([]string{"value", "count"}).AddRow("12", int64(3)))

	page, err := g.Find(context.Background(), testTable,
		compile(t, "amount>10 sortBy status/sort.descending", 10, 20, "status:5", "amount"))
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(page.Records) != 0 || page.Records == nil {
		t.Errorf("Records = %#v, want empty non-nil slice", page.Records)
	}
	if page.TotalMatched != 3 {
		t.Errorf("TotalMatched = %d, want 3", page.TotalMatched)
	}
	want := map[string]map[string]int64{
		"status": {"open": 2, "closed": 1},
		"amount": {"12": 3},
	}
	if !reflect.DeepEqual(page.Facets, want) {
		t.Errorf("Facets = %v, want %v", page.Facets, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_FindCountFailureIsClassified(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT id, jsonb FROM "diku_mod_feesfines"."transfers" LIMIT $1 OFFSET $2`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "jsonb"}))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "diku_mod_feesfines"."transfers"`).
		WillReturnError(&pq.Error{Code: "57014", Message: "canceling statement due to statement timeout"})

	_, err := g.Find(context.Background(), testTable, compile(t, "", 10, 0))
	assertKind(t, err, failure.KindBackendUnavailable)
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestGateway_FindRejectsNilQuery(t *testing.T) {
	g, mock := newMockGateway(t)

	_, err := g.Find(context.Background(), testTable, nil)
	assertKind(t, err, failure.KindMalformedQuery)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_FindCorruptDocument(t *testing.T) {
	g, mock := newMockGateway(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT id, jsonb FROM "diku_mod_feesfines"."transfers" LIMIT $1 OFFSET $2`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "jsonb"}).AddRow("t1", []byte(`[1,2]`)))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "diku_mod_feesfines"."transfers"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	_, err := g.Find(context.Background(), testTable, compile(t, "", 10, 0))
	assertKind(t, err, failure.KindBackendFailure)
}

func TestGateway_AggregateWithoutFacetsSkipsStore(t *testing.T) {
	g, mock := newMockGateway(t)

	facets, err := g.Aggregate(context.Background(), testTable, compile(t, "status=open", 10, 0))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if facets == nil || len(facets) != 0 {
		t.Fatalf("facets = %#v, want empty map", facets)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_AggregateEmptyMatchSet(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectQuery(`SELECT jsonb->>'status' AS value, COUNT(*) AS count FROM "diku_mod_feesfines"."transfers" WHERE (jsonb->>'status' = $1) AND jsonb->>'status' IS NOT NULL GROUP BY 1 ORDER BY 2 DESC, 1 ASC`).
		WithArgs("nothing").
		WillReturnRows(sqlmock.NewRows([]string{"value", "count"}))

	facets, err := g.Aggregate(context.Background(), testTable, compile(t, "status==nothing", 10, 0, "status"))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	inner, ok := facets["status"]
	if !ok || inner == nil || len(inner) != 0 {
		t.Fatalf("facets = %#v, want status -> empty map", facets)
	}
}

func TestGateway_Get(t *testing.T) {
	const stmt = `SELECT id, jsonb FROM "diku_mod_feesfines"."transfers" WHERE id = $1 LIMIT 2`

	tests := []struct {
		name     string
		rows     *sqlmock.Rows
		wantKind failure.Kind
	}{
		{
			name:     "no match",
			rows:     sqlmock.NewRows([]string{"id", "jsonb"}),
			wantKind: failure.KindNotFound,
		},
		{
			name:     "single match",
			rows:     sqlmock.NewRows([]string{"id", "jsonb"}).AddRow("abc-123", []byte(`{"id":"abc-123","amount":5}`)),
			wantKind: "",
		},
		{
			name: "duplicate identifier",
			rows: sqlmock.NewRows([]string{"id", "jsonb"}).
				AddRow("abc-123", []byte(`{"id":"abc-123"}`)).
				AddRow("abc-123", []byte(`{"id":"abc-123"}`)),
			wantKind: failure.KindIntegrityViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newMockGateway(t)
			mock.ExpectQuery(stmt).WithArgs("abc-123").WillReturnRows(tt.rows)

			rec, err := g.Get(context.Background(), testTable, criteria.ByID("abc-123"))
			if tt.wantKind != "" {
				assertKind(t, err, tt.wantKind)
				return
			}
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if rec.ID != "abc-123" || rec.Data["amount"] != float64(5) {
				t.Errorf("record = %+v", rec)
			}
		})
	}
}

func TestGateway_GetRequiresCriterion(t *testing.T) {
	g, mock := newMockGateway(t)
	_, err := g.Get(context.Background(), testTable, nil)
	assertKind(t, err, failure.KindMalformedQuery)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_FindByCriterion(t *testing.T) {
	g, mock := newMockGateway(t)

	owner, err := criteria.New("ownerId", criteria.OpEq, "o-1")
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery(`SELECT id, jsonb FROM "diku_mod_feesfines"."transfers" WHERE jsonb->>'ownerId' = $1`).
		WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "jsonb"}).
			AddRow("a", []byte(`{"id":"a"}`)).
			AddRow("b", []byte(`{"id":"b"}`)).
			AddRow("c", []byte(`{"id":"c"}`)))

	records, err := g.FindByCriterion(context.Background(), testTable, criteria.And(owner))
	if err != nil {
		t.Fatalf("FindByCriterion() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
}

func TestGateway_CreateAssignsID(t *testing.T) {
	g, mock := newMockGateway(t, WithIDGenerator(func() string { return "gen-1" }))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "diku_mod_feesfines"."transfers" (id, jsonb) VALUES ($1, $2)`).
		WithArgs("gen-1", `{"amount":5,"id":"gen-1"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload := map[string]any{"amount": 5}
	res, err := g.Create(context.Background(), testTable, Record{Data: payload})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Record.ID != "gen-1" || res.Record.Data["id"] != "gen-1" || res.Affected != 1 {
		t.Errorf("result = %+v", res.Record)
	}
	if _, ok := payload["id"]; ok {
		t.Error("Create mutated the caller's payload")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_CreateKeepsPayloadID(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "diku_mod_feesfines"."transfers" (id, jsonb) VALUES ($1, $2)`).
		WithArgs("given", `{"id":"given"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := g.Create(context.Background(), testTable, Record{Data: map[string]any{"id": "given"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Record.ID != "given" {
		t.Errorf("ID = %q, want given", res.Record.ID)
	}
}

func TestGateway_CreatedIDsAreUniqueUUIDs(t *testing.T) {
	g, mock := newMockGateway(t)

	const n = 25
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "diku_mod_feesfines"."transfers" (id, jsonb) VALUES ($1, $2)`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		res, err := g.Create(context.Background(), testTable, Record{Data: map[string]any{"n": i}})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		id := res.Record.ID
		parsed, err := uuid.Parse(id)
		if err != nil || parsed.Version() != 4 {
			t.Fatalf("id %q is not a UUIDv4", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGateway_CreateDuplicateIsConflict(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "diku_mod_feesfines"."transfers" (id, jsonb) VALUES ($1, $2)`).
		WithArgs("dup", `{"id":"dup"}`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := g.Create(context.Background(), testTable, Record{ID: "dup"})
	assertKind(t, err, failure.KindConflict)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_CreateRejectsIDMismatch(t *testing.T) {
	g, mock := newMockGateway(t)

	_, err := g.Create(context.Background(), testTable, Record{ID: "a", Data: map[string]any{"id": "b"}})
	assertKind(t, err, failure.KindMalformedQuery)

	_, err = g.Create(context.Background(), testTable, Record{Data: map[string]any{"id": 42}})
	assertKind(t, err, failure.KindMalformedQuery)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_CreateSurvivesCallerCancellation(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "diku_mod_feesfines"."transfers" (id, jsonb) VALUES ($1, $2)`).
		WithArgs("x", `{"id":"x"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Create(ctx, testTable, Record{ID: "x"}); err != nil {
		t.Fatalf("Create() on cancelled caller context error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_UpdateOutcomes(t *testing.T) {
	const stmt = `UPDATE "diku_mod_feesfines"."transfers" SET jsonb = $1 WHERE id = $2`

	tests := []struct {
		name     string
		affected int64
		wantKind failure.Kind
		commit   bool
	}{
		{name: "no match", affected: 0, wantKind: failure.KindNotFound},
		{name: "single match", affected: 1, commit: true},
		{name: "duplicate identifier", affected: 2, wantKind: failure.KindIntegrityViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newMockGateway(t)
			mock.ExpectBegin()
			mock.ExpectExec(stmt).
				WithArgs(`{"amount":7,"id":"abc-123"}`, "abc-123").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.commit {
				mock.ExpectCommit()
			} else {
				mock.ExpectRollback()
			}

			rec := Record{ID: "abc-123", Data: map[string]any{"amount": 7}}
			res, err := g.Update(context.Background(), testTable, rec, criteria.ByID("abc-123"))
			if tt.wantKind != "" {
				assertKind(t, err, tt.wantKind)
			} else {
				if err != nil {
					t.Fatalf("Update() error = %v", err)
				}
				if res.Affected != 1 || res.Record.Data["id"] != "abc-123" {
					t.Errorf("result = %+v", res)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestGateway_UpdateValidation(t *testing.T) {
	g, mock := newMockGateway(t)

	_, err := g.Update(context.Background(), testTable, Record{ID: "a"}, nil)
	assertKind(t, err, failure.KindMalformedQuery)

	_, err = g.Update(context.Background(), testTable, Record{Data: map[string]any{}}, criteria.ByID("a"))
	assertKind(t, err, failure.KindMalformedQuery)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_UpdateRejectsIDOutsideCriterion(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{name: "record id", rec: Record{ID: "b", Data: map[string]any{"x": 1}}},
		{name: "payload id", rec: Record{Data: map[string]any{"id": "b", "x": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newMockGateway(t)

			_, err := g.Update(context.Background(), testTable, tt.rec, criteria.ByID("a"))
			assertKind(t, err, failure.KindMalformedQuery)

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestGateway_DeleteMissingTwice(t *testing.T) {
	g, mock := newMockGateway(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "diku_mod_feesfines"."transfers" WHERE id = $1`).
			WithArgs("abc-123").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}

	for i := 0; i < 2; i++ {
		_, err := g.Delete(context.Background(), testTable, criteria.ByID("abc-123"))
		assertKind(t, err, failure.KindNotFound)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_DeleteMultipleRowsRollsBack(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "diku_mod_feesfines"."transfers" WHERE id = $1`).
		WithArgs("abc-123").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectRollback()

	_, err := g.Delete(context.Background(), testTable, criteria.ByID("abc-123"))
	assertKind(t, err, failure.KindIntegrityViolation)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_DeleteBeginFailure(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	_, err := g.Delete(context.Background(), testTable, criteria.ByID("abc-123"))
	assertKind(t, err, failure.KindBackendUnavailable)
}

func TestGateway_CommitFailure(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "diku_mod_feesfines"."transfers" WHERE id = $1`).
		WithArgs("abc-123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	_, err := g.Delete(context.Background(), testTable, criteria.ByID("abc-123"))
	assertKind(t, err, failure.KindBackendFailure)
}

func TestGateway_WithTxRollsBackOnPanic(t *testing.T) {
	g, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = g.withTx(context.Background(), "test", func(context.Context, *sql.Tx) error {
			panic("boom")
		})
	}()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGateway_CreateThenGetRoundTrip(t *testing.T) {
	g, mock := newMockGateway(t, WithIDGenerator(func() string { return "rt-1" }))

	var stored string
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "diku_mod_feesfines"."transfers" (id, jsonb) VALUES ($1, $2)`).
		WithArgs("rt-1", captureArg{&stored}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload := map[string]any{
		"accountName": "Main",
		"desc":        "late fee",
		"metadata":    map[string]any{"createdByUserId": "u-1"},
	}
	created, err := g.Create(context.Background(), testTable, Record{Data: payload})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mock.ExpectQuery(`SELECT id, jsonb FROM "diku_mod_feesfines"."transfers" WHERE id = $1 LIMIT 2`).
		WithArgs("rt-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "jsonb"}).AddRow("rt-1", []byte(stored)))

	got, err := g.Get(context.Background(), testTable, criteria.ByID(created.Record.ID))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got.Data, created.Record.Data) {
		t.Errorf("round trip mismatch:\n got  %v\n want %v", got.Data, created.Record.Data)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
