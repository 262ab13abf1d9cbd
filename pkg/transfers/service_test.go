package transfers

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/logger"
	"github.com/nimburion/transfers/pkg/outcome"
	"github.com/nimburion/transfers/pkg/query"
	"github.com/nimburion/transfers/pkg/repository"
)

// memoryRepo is an in-memory Repository keyed by table and id. Find ignores
// the predicate and pages over all records in id order.
type memoryRepo struct {
	mu      sync.Mutex
	tables  map[string]map[string]map[string]any
	calls   int
	lastQ   *query.Compiled
	facets  map[string]map[string]int64
	nextID  int
	findErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tables: map[string]map[string]map[string]any{}}
}

func (m *memoryRepo) rows(table string) map[string]map[string]any {
	if m.tables[table] == nil {
		m.tables[table] = map[string]map[string]any{}
	}
	return m.tables[table]
}

func (m *memoryRepo) Find(_ context.Context, table string, q *query.Compiled) (*repository.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastQ = q
	if m.findErr != nil {
		return nil, m.findErr
	}
	rows := m.rows(table)
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	records := make([]repository.Record, 0)
	for i := q.Offset; i < len(ids) && len(records) < q.Limit; i++ {
		records = append(records, repository.Record{ID: ids[i], Data: rows[ids[i]]})
	}
	facets := m.facets
	if facets == nil {
		facets = map[string]map[string]int64{}
	}
	return &repository.Page{Records: records, TotalMatched: int64(len(ids)), Facets: facets}, nil
}

func (m *memoryRepo) FindByCriterion(ctx context.Context, table string, c criteria.Criteria) ([]repository.Record, error) {
	rec, err := m.Get(ctx, table, c)
	if err != nil {
		return []repository.Record{}, nil
	}
	return []repository.Record{*rec}, nil
}

func (m *memoryRepo) Get(_ context.Context, table string, c criteria.Criteria) (*repository.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	id := c[0].Value()
	doc, ok := m.rows(table)[id]
	if !ok {
		return nil, failure.New(failure.KindNotFound, "get", "no record matches "+c.String())
	}
	return &repository.Record{ID: id, Data: doc}, nil
}

func (m *memoryRepo) Create(_ context.Context, table string, rec repository.Record) (*repository.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	id, _ := rec.Data["id"].(string)
	if id == "" {
		m.nextID++
		id = fmt.Sprintf("gen-%d", m.nextID)
	}
	rows := m.rows(table)
	if _, dup := rows[id]; dup {
		return nil, failure.New(failure.KindConflict, "create", "record already exists")
	}
	doc := map[string]any{}
	for k, v := range rec.Data {
		doc[k] = v
	}
	doc["id"] = id
	rows[id] = doc
	return &repository.WriteResult{Record: &repository.Record{ID: id, Data: doc}, Affected: 1}, nil
}

func (m *memoryRepo) Update(_ context.Context, table string, rec repository.Record, c criteria.Criteria) (*repository.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	rows := m.rows(table)
	id := c[0].Value()
	if _, ok := rows[id]; !ok {
		return nil, failure.New(failure.KindNotFound, "update", "no record matches "+c.String())
	}
	doc := map[string]any{}
	for k, v := range rec.Data {
		doc[k] = v
	}
	doc["id"] = rec.ID
	rows[id] = doc
	return &repository.WriteResult{Record: &repository.Record{ID: rec.ID, Data: doc}, Affected: 1}, nil
}

func (m *memoryRepo) Delete(_ context.Context, table string, c criteria.Criteria) (*repository.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	rows := m.rows(table)
	id := c[0].Value()
	if _, ok := rows[id]; !ok {
		return nil, failure.New(failure.KindNotFound, "delete", "no record matches "+c.String())
	}
	delete(rows, id)
	return &repository.WriteResult{Affected: 1}, nil
}

const dikuTable = `"diku_mod_feesfines"."transfers"`

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, DefaultConfig(), logger.NewNop())
}

func intPtr(n int) *int { return &n }

func seed(repo *memoryRepo, table string, n int) {
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("t%d", i)
		repo.rows(table)[id] = map[string]any{"id": id, "accountName": "Main"}
	}
}

func TestService_ListDefaultsLimit(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, dikuTable, 15)
	svc := newTestService(repo)

	res := svc.List(context.Background(), "", ListParams{})
	if res.Kind != outcome.OK {
		t.Fatalf("List() = %+v", res)
	}
	coll := res.Data.(Collection)
	if len(coll.Transfers) != 10 || coll.TotalRecords != 15 || coll.ResultInfo.TotalRecords != 15 {
		t.Fatalf("collection: %d transfers, total %d", len(coll.Transfers), coll.TotalRecords)
	}
	if repo.lastQ.Limit != 10 || repo.lastQ.Offset != 0 {
		t.Errorf("compiled limit/offset = %d/%d", repo.lastQ.Limit, repo.lastQ.Offset)
	}
}

func TestService_ListPagesWithExplicitLimit(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, dikuTable, 5)
	svc := newTestService(repo)

	res := svc.List(context.Background(), "diku", ListParams{Query: "accountName=Main", Limit: intPtr(2)})
	if res.Kind != outcome.OK {
		t.Fatalf("List() = %+v", res)
	}
	coll := res.Data.(Collection)
	if len(coll.Transfers) != 2 || coll.TotalRecords != 5 {
		t.Fatalf("collection: %d transfers, total %d", len(coll.Transfers), coll.TotalRecords)
	}
	if repo.lastQ.Where != "jsonb->>'accountName' ILIKE $1" {
		t.Errorf("Where = %q", repo.lastQ.Where)
	}
}

func TestService_ListZeroLimitCountsOnly(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, dikuTable, 3)
	svc := newTestService(repo)

	res := svc.List(context.Background(), "", ListParams{Limit: intPtr(0)})
	coll := res.Data.(Collection)
	if len(coll.Transfers) != 0 || coll.TotalRecords != 3 {
		t.Fatalf("collection: %d transfers, total %d", len(coll.Transfers), coll.TotalRecords)
	}
}

func TestService_ListRejectsWithoutTouchingStore(t *testing.T) {
	tests := []struct {
		name   string
		params ListParams
		tenant string
	}{
		{name: "incomplete clause", params: ListParams{Query: "status=="}},
		{name: "unknown field", params: ListParams{Query: "status=open"}},
		{name: "negative offset", params: ListParams{Offset: -1}},
		{name: "negative limit", params: ListParams{Limit: intPtr(-1)}},
		{name: "limit above max", params: ListParams{Limit: intPtr(1001)}},
		{name: "unknown facet", params: ListParams{Facets: []string{"color"}}},
		{name: "invalid tenant", params: ListParams{}, tenant: "bad tenant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepo()
			svc := newTestService(repo)

			res := svc.List(context.Background(), tt.tenant, tt.params)
			if res.Kind != outcome.ValidationError {
				t.Fatalf("Kind = %s, want validation_error (%s)", res.Kind, res.Message)
			}
			if res.HTTPStatus() != 400 {
				t.Errorf("HTTPStatus() = %d", res.HTTPStatus())
			}
			if repo.calls != 0 {
				t.Errorf("store was called %d times", repo.calls)
			}
		})
	}
}

func TestService_ListFacetsOrdered(t *testing.T) {
	repo := newMemoryRepo()
	repo.facets = map[string]map[string]int64{
		"ownerId": {"o-2": 1, "o-1": 4, "o-3": 4},
	}
	svc := newTestService(repo)

	res := svc.List(context.Background(), "", ListParams{Facets: []string{"ownerId:10"}})
	coll := res.Data.(Collection)
	want := []Facet{{
		FieldName: "ownerId",
		Values:    []FacetValue{{"o-1", 4}, {"o-3", 4}, {"o-2", 1}},
	}}
	if !reflect.DeepEqual(coll.ResultInfo.Facets, want) {
		t.Errorf("Facets = %+v, want %+v", coll.ResultInfo.Facets, want)
	}
}

func TestService_ListEmptyFacets(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	res := svc.List(context.Background(), "", ListParams{Facets: []string{"ownerId"}})
	coll := res.Data.(Collection)
	if len(coll.ResultInfo.Facets) != 1 || len(coll.ResultInfo.Facets[0].Values) != 0 {
		t.Errorf("Facets = %+v", coll.ResultInfo.Facets)
	}
}

func TestService_ListBackendFailureIsInternal(t *testing.T) {
	repo := newMemoryRepo()
	repo.findErr = failure.Wrap(failure.KindBackendUnavailable, "find", context.DeadlineExceeded, "store unavailable")
	svc := newTestService(repo)

	res := svc.List(context.Background(), "", ListParams{})
	if res.Kind != outcome.InternalError || res.HTTPStatus() != 500 {
		t.Fatalf("res = %+v", res)
	}
	if strings.Contains(res.Message, "deadline") {
		t.Errorf("Message leaks cause: %q", res.Message)
	}
}

func TestService_CreateGetRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created := svc.Create(ctx, "diku", map[string]any{"accountName": "Main", "desc": "late fee"})
	if created.Kind != outcome.Created || created.HTTPStatus() != 201 {
		t.Fatalf("Create() = %+v", created)
	}
	doc := created.Data.(map[string]any)
	id, _ := doc["id"].(string)
	if id == "" {
		t.Fatal("created transfer has no id")
	}

	got := svc.Get(ctx, "diku", id)
	if got.Kind != outcome.OK {
		t.Fatalf("Get() = %+v", got)
	}
	if !reflect.DeepEqual(got.Data, doc) {
		t.Errorf("Get() = %v, want %v", got.Data, doc)
	}
}

func TestService_CreateDuplicateIsConflict(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	svc.Create(ctx, "", map[string]any{"id": "dup"})
	res := svc.Create(ctx, "", map[string]any{"id": "dup"})
	if res.Kind != outcome.Conflict || res.HTTPStatus() != 409 {
		t.Fatalf("res = %+v", res)
	}
}

func TestService_CreateRequiresPayload(t *testing.T) {
	repo := newMemoryRepo()
	res := newTestService(repo).Create(context.Background(), "", nil)
	if res.Kind != outcome.ValidationError || repo.calls != 0 {
		t.Fatalf("res = %+v, calls = %d", res, repo.calls)
	}
}

func TestService_Update(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, dikuTable, 1)
	svc := newTestService(repo)
	ctx := context.Background()

	tests := []struct {
		name     string
		id       string
		data     map[string]any
		wantKind outcome.Kind
	}{
		{name: "missing id", id: "", data: map[string]any{}, wantKind: outcome.ValidationError},
		{name: "mismatched payload id", id: "t1", data: map[string]any{"id": "t2"}, wantKind: outcome.ValidationError},
		{name: "non-string payload id", id: "t1", data: map[string]any{"id": 7}, wantKind: outcome.ValidationError},
		{name: "nil payload", id: "t1", data: nil, wantKind: outcome.ValidationError},
		{name: "unknown transfer", id: "nope", data: map[string]any{}, wantKind: outcome.NotFound},
		{name: "payload id taken from path", id: "t1", data: map[string]any{"desc": "updated"}, wantKind: outcome.NoContent},
		{name: "empty payload id taken from path", id: "t1", data: map[string]any{"id": "", "desc": "blank"}, wantKind: outcome.NoContent},
		{name: "matching payload id", id: "t1", data: map[string]any{"id": "t1", "desc": "again"}, wantKind: outcome.NoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Update(ctx, "", tt.id, tt.data)
			if res.Kind != tt.wantKind {
				t.Fatalf("Kind = %s, want %s (%s)", res.Kind, tt.wantKind, res.Message)
			}
		})
	}

	if got := repo.rows(dikuTable)["t1"]; got["desc"] != "again" || got["id"] != "t1" {
		t.Errorf("stored = %v", got)
	}
}

func TestService_DeleteMissingTwice(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	for i := 0; i < 2; i++ {
		res := svc.Delete(context.Background(), "", "abc-123")
		if res.Kind != outcome.NotFound || res.HTTPStatus() != 404 {
			t.Fatalf("attempt %d: res = %+v", i+1, res)
		}
	}
}

func TestService_DeleteThenGet(t *testing.T) {
	repo := newMemoryRepo()
	seed(repo, dikuTable, 1)
	svc := newTestService(repo)
	ctx := context.Background()

	if res := svc.Delete(ctx, "", "t1"); res.Kind != outcome.NoContent {
		t.Fatalf("Delete() = %+v", res)
	}
	if res := svc.Get(ctx, "", "t1"); res.Kind != outcome.NotFound {
		t.Fatalf("Get() after delete = %+v", res)
	}
}

func TestService_TenantsAreIsolated(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created := svc.Create(ctx, "college", map[string]any{"id": "c1"})
	if created.Kind != outcome.Created {
		t.Fatalf("Create() = %+v", created)
	}
	if _, ok := repo.rows(`"college_mod_feesfines"."transfers"`)["c1"]; !ok {
		t.Fatal("record not stored in the tenant schema")
	}
	if res := svc.Get(ctx, "diku", "c1"); res.Kind != outcome.NotFound {
		t.Fatalf("other tenant can read record: %+v", res)
	}
}

func TestService_Table(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	got, err := svc.Table("College")
	if err != nil || got != `"college_mod_feesfines"."transfers"` {
		t.Fatalf("Table() = %q, %v", got, err)
	}
	if _, err := svc.Table("1bad"); failure.KindOf(err) != failure.KindMalformedQuery {
		t.Fatalf("Table(1bad) error = %v", err)
	}
}
