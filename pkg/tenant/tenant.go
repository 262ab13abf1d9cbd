// Package tenant derives per-tenant PostgreSQL schema and table names.
package tenant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// DefaultTenant is used when a request carries no tenant id.
const DefaultTenant = "diku"

var (
	tenantPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,30}$`)
	modulePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// SchemaName returns "<tenant>_<module>" for tenantID, lower-cased.
func SchemaName(tenantID, module string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(tenantID))
	if id == "" {
		id = DefaultTenant
	}
	if !tenantPattern.MatchString(id) {
		return "", fmt.Errorf("invalid tenant id %q", tenantID)
	}
	if !modulePattern.MatchString(module) {
		return "", fmt.Errorf("invalid module name %q", module)
	}
	return id + "_" + module, nil
}

// Table returns the quoted, schema-qualified name of table.
func Table(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
