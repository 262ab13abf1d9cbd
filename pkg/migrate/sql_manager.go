package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/nimburion/transfers/pkg/tenant"
)

// SchemaPlaceholder is replaced with the quoted tenant schema in every script.
const SchemaPlaceholder = "{{schema}}"

// Dir is the directory of the embedded migration scripts.
const Dir = "migrations"

//go:embed migrations/*.sql
var Files embed.FS

var migrationNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_\-]+)\.(up|down)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// SQLManager applies migrations to a single tenant schema and tracks them in
// that schema's schema_migrations table.
type SQLManager struct {
	db         *sql.DB
	schema     string
	migrations []Migration
}

// New creates a manager for schema using the embedded transfers migrations.
func New(db *sql.DB, schema string) (*SQLManager, error) {
	return NewSQLManager(db, Files, Dir, schema)
}

// LatestVersion returns the newest embedded migration version.
func LatestVersion() (int64, error) {
	migrations, err := loadMigrations(Files, Dir)
	if err != nil {
		return 0, err
	}
	if len(migrations) == 0 {
		return 0, nil
	}
	return migrations[len(migrations)-1].Version, nil
}

// NewSQLManager creates a manager for schema from the scripts in migrationsDir.
func NewSQLManager(db *sql.DB, migrationFiles fs.FS, migrationsDir, schema string) (*SQLManager, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if migrationFiles == nil {
		return nil, fmt.Errorf("migration files filesystem is required")
	}
	if strings.TrimSpace(migrationsDir) == "" {
		return nil, fmt.Errorf("migration directory is required")
	}
	if strings.TrimSpace(schema) == "" {
		return nil, fmt.Errorf("schema is required")
	}

	migrations, err := loadMigrations(migrationFiles, migrationsDir)
	if err != nil {
		return nil, err
	}
	return &SQLManager{db: db, schema: schema, migrations: migrations}, nil
}

// Schema returns the schema the manager migrates.
func (m *SQLManager) Schema() string {
	return m.schema
}

// Migrations returns the loaded migrations ordered by version.
func (m *SQLManager) Migrations() []Migration {
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	return out
}

// Operations exposes the manager to Run.
func (m *SQLManager) Operations() Operations {
	return Operations{Up: m.Up, Down: m.Down, Status: m.Status}
}

// Up applies all pending migrations in version order, one transaction each.
func (m *SQLManager) Up(ctx context.Context) (int, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedSet(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range m.migrations {
		if _, done := applied[migration.Version]; done {
			continue
		}
		err := m.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.render(migration.UpSQL)); err != nil {
				return fmt.Errorf("apply migration %d_%s: %w", migration.Version, migration.Name, err)
			}
			stmt := fmt.Sprintf("INSERT INTO %s (version, applied_at) VALUES ($1, NOW())", m.metadataTable())
			if _, err := tx.ExecContext(ctx, stmt, migration.Version); err != nil {
				return fmt.Errorf("record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Down reverts the most recent steps migrations.
func (m *SQLManager) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	if err := m.ensureMetadataTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedVersionsDesc(ctx)
	if err != nil {
		return 0, err
	}
	if steps > len(applied) {
		steps = len(applied)
	}

	reverted := 0
	for _, version := range applied[:steps] {
		migration, ok := m.migrationByVersion(version)
		if !ok {
			return reverted, fmt.Errorf("migration definition not found for applied version %d", version)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return reverted, fmt.Errorf("down migration missing for version %d", version)
		}
		err := m.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.render(migration.DownSQL)); err != nil {
				return fmt.Errorf("rollback migration %d_%s: %w", migration.Version, migration.Name, err)
			}
			stmt := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.metadataTable())
			if _, err := tx.ExecContext(ctx, stmt, version); err != nil {
				return fmt.Errorf("delete migration record %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return reverted, err
		}
		reverted++
	}
	return reverted, nil
}

// Status reports applied and pending migrations.
func (m *SQLManager) Status(ctx context.Context) (*Status, error) {
	if err := m.ensureMetadataTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	versions := make([]int64, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	pending := make([]PendingMigration, 0)
	for _, migration := range m.migrations {
		if _, ok := applied[migration.Version]; !ok {
			pending = append(pending, PendingMigration{Version: migration.Version, Name: migration.Name})
		}
	}
	return &Status{Schema: m.schema, AppliedVersions: versions, Pending: pending}, nil
}

func (m *SQLManager) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (m *SQLManager) render(script string) string {
	return strings.ReplaceAll(script, SchemaPlaceholder, pq.QuoteIdentifier(m.schema))
}

func (m *SQLManager) metadataTable() string {
	return tenant.Table(m.schema, "schema_migrations")
}

func (m *SQLManager) ensureMetadataTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(m.schema)); err != nil {
		return fmt.Errorf("ensure schema %s: %w", m.schema, err)
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, m.metadataTable())
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	return nil
}

func (m *SQLManager) appliedSet(ctx context.Context) (map[int64]struct{}, error) {
	versions, err := m.queryVersions(ctx, "SELECT version FROM "+m.metadataTable())
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		set[v] = struct{}{}
	}
	return set, nil
}

func (m *SQLManager) appliedVersionsDesc(ctx context.Context) ([]int64, error) {
	return m.queryVersions(ctx, "SELECT version FROM "+m.metadataTable()+" ORDER BY version DESC")
}

func (m *SQLManager) queryVersions(ctx context.Context, stmt string) ([]int64, error) {
	rows, err := m.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

func (m *SQLManager) migrationByVersion(version int64) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.Version == version {
			return migration, true
		}
	}
	return Migration{}, false
}

func loadMigrations(migrationFiles fs.FS, migrationsDir string) ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	byVersion := make(map[int64]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %q: %w", matches[1], err)
		}
		payload, err := fs.ReadFile(migrationFiles, migrationsDir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration file %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = item
		}
		if matches[3] == "up" {
			item.UpSQL = string(payload)
		} else {
			item.DownSQL = string(payload)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("missing up migration for version %d", item.Version)
		}
		migrations = append(migrations, *item)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
