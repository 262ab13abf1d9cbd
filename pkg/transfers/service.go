// Package transfers serves the per-tenant transfers resource on top of the
// query compiler and the persistence gateway.
package transfers

import (
	"context"
	"fmt"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/failure"
	"github.com/nimburion/transfers/pkg/observability/logger"
	"github.com/nimburion/transfers/pkg/outcome"
	"github.com/nimburion/transfers/pkg/query"
	"github.com/nimburion/transfers/pkg/repository"
	"github.com/nimburion/transfers/pkg/tenant"
)

// Schema is the set of transfer fields a query, sort key or facet may address.
var Schema = query.Schema{
	"accountName":              query.String,
	"desc":                     query.String,
	"ownerId":                  query.String,
	"metadata.createdDate":     query.String,
	"metadata.updatedDate":     query.String,
	"metadata.createdByUserId": query.String,
	"metadata.updatedByUserId": query.String,
}

// Config sets tenant naming and paging bounds.
type Config struct {
	Module        string
	Table         string
	DefaultTenant string
	DefaultLimit  int
	MaxLimit      int
}

// DefaultConfig mirrors the built-in configuration defaults.
func DefaultConfig() Config {
	return Config{
		Module:        "mod_feesfines",
		Table:         "transfers",
		DefaultTenant: tenant.DefaultTenant,
		DefaultLimit:  10,
		MaxLimit:      1000,
	}
}

// ListParams are the inputs of a list request. A nil Limit selects the
// configured default.
type ListParams struct {
	Query  string
	Limit  *int
	Offset int
	Facets []string
}

// Service implements list, get, create, update and delete for transfers.
type Service struct {
	repo     repository.Repository
	compiler *query.Compiler
	cfg      Config
	logger   logger.Logger
}

// NewService creates a Service. Zero values in cfg fall back to DefaultConfig.
func NewService(repo repository.Repository, cfg Config, log logger.Logger) *Service {
	def := DefaultConfig()
	if cfg.Module == "" {
		cfg.Module = def.Module
	}
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = def.DefaultTenant
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		repo:     repo,
		compiler: query.NewCompiler(criteria.DocumentColumn, Schema),
		cfg:      cfg,
		logger:   log,
	}
}

// Compile validates and compiles a list request without touching the store.
func (s *Service) Compile(params ListParams) (*query.Compiled, error) {
	limit := s.cfg.DefaultLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	if limit > s.cfg.MaxLimit {
		return nil, failure.Malformed("limit must not exceed %d, got %d", s.cfg.MaxLimit, limit)
	}
	return s.compiler.Compile(params.Query, limit, params.Offset, params.Facets)
}

// List returns one page of the tenant's transfers as a Collection.
func (s *Service) List(ctx context.Context, tenantID string, params ListParams) outcome.Result {
	ctx, table, err := s.scope(ctx, tenantID)
	if err != nil {
		return outcome.Map(ctx, nil, err)
	}
	compiled, err := s.Compile(params)
	if err != nil {
		s.logger.WithContext(ctx).Debug("rejected list query", "query", params.Query, "error", err)
		return outcome.Map(ctx, nil, err)
	}
	page, err := s.repo.Find(ctx, table, compiled)
	if err != nil {
		return outcome.Map(ctx, nil, err)
	}
	return outcome.Map(ctx, newCollection(page, compiled.Facets), nil)
}

// Get returns the transfer with the given id.
func (s *Service) Get(ctx context.Context, tenantID, id string) outcome.Result {
	ctx, table, err := s.scope(ctx, tenantID)
	if err != nil {
		return outcome.Map(ctx, nil, err)
	}
	if id == "" {
		return outcome.Validation(ctx, "transfer id is required", nil)
	}
	rec, err := s.repo.Get(ctx, table, criteria.ByID(id))
	if err != nil {
		return outcome.Map(ctx, nil, err)
	}
	return outcome.Map(ctx, rec.Data, nil)
}

// Create stores a new transfer, assigning an id when the payload has none.
func (s *Service) Create(ctx context.Context, tenantID string, data map[string]any) outcome.Result {
	ctx, table, err := s.scope(ctx, tenantID)
	if err != nil {
		return outcome.Map(ctx, nil, err)
	}
	if data == nil {
		return outcome.Validation(ctx, "transfer payload is required", nil)
	}
	res, err := s.repo.Create(ctx, table, repository.Record{Data: data})
	if err != nil {
		return outcome.FromWrite(ctx, outcome.Created, nil, err)
	}
	return outcome.FromWrite(ctx, outcome.Created, res.Record.Data, nil)
}

// Update replaces the payload of transfer id. A payload without an id takes
// the path id; a different payload id is rejected.
func (s *Service) Update(ctx context.Context, tenantID, id string, data map[string]any) outcome.Result {
	ctx, table, err := s.scope(ctx, tenantID)
	if err != nil {
		return outcome.Map(ctx, nil, err)
	}
	if id == "" {
		return outcome.Validation(ctx, "transfer id is required", nil)
	}
	if data == nil {
		return outcome.Validation(ctx, "transfer payload is required", nil)
	}
	if payloadID, ok := data[criteria.IDField]; ok && payloadID != nil && payloadID != "" && payloadID != id {
		return outcome.Validation(ctx,
			fmt.Sprintf("payload id %v does not match transfer id %s", payloadID, id),
			map[string]any{"field": criteria.IDField})
	}
	_, err = s.repo.Update(ctx, table, repository.Record{ID: id, Data: data}, criteria.ByID(id))
	return outcome.FromWrite(ctx, outcome.NoContent, nil, err)
}

// Delete removes transfer id.
func (s *Service) Delete(ctx context.Context, tenantID, id string) outcome.Result {
	ctx, table, err := s.scope(ctx, tenantID)
	if err != nil {
		return outcome.Map(ctx, nil, err)
	}
	if id == "" {
		return outcome.Validation(ctx, "transfer id is required", nil)
	}
	_, err = s.repo.Delete(ctx, table, criteria.ByID(id))
	return outcome.FromWrite(ctx, outcome.NoContent, nil, err)
}

// Table returns the quoted transfers table of tenantID.
func (s *Service) Table(tenantID string) (string, error) {
	schema, err := s.SchemaName(tenantID)
	if err != nil {
		return "", err
	}
	return tenant.Table(schema, s.cfg.Table), nil
}

// SchemaName returns the schema that holds tenantID's transfers.
func (s *Service) SchemaName(tenantID string) (string, error) {
	if tenantID == "" {
		tenantID = s.cfg.DefaultTenant
	}
	schema, err := tenant.SchemaName(tenantID, s.cfg.Module)
	if err != nil {
		return "", failure.Malformed("%v", err)
	}
	return schema, nil
}

func (s *Service) scope(ctx context.Context, tenantID string) (context.Context, string, error) {
	table, err := s.Table(tenantID)
	if err != nil {
		return ctx, "", err
	}
	if tenantID == "" {
		tenantID = s.cfg.DefaultTenant
	}
	return logger.ContextWithTenant(ctx, tenantID), table, nil
}
