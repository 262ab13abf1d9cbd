// Package query compiles CQL filter queries into parameterized PostgreSQL
// predicates over a JSONB document column.
//
// Field paths are resolved against a Schema whitelist and projected into JSONB
// path access; every literal is bound as a positional parameter.
//
// Example:
//
//	c := query.NewCompiler(criteria.DocumentColumn, query.Schema{"status": query.String})
//	compiled, err := c.Compile(`status=open sortBy status`, 10, 0, []string{"status"})
//	// compiled.Where   == "jsonb->>'status' ILIKE $1"
//	// compiled.Args    == []any{"open"}
//	// compiled.OrderBy == "jsonb->>'status' ASC, id ASC"
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nimburion/transfers/pkg/criteria"
	"github.com/nimburion/transfers/pkg/failure"
)

// Compiled is the store-ready form of a filter query plus pagination and facets.
type Compiled struct {
	// Query is the original filter string, kept for logging.
	Query string
	// Where is the predicate fragment; empty matches all records.
	Where string
	// Args are the values bound to $1..$n in Where.
	Args []any
	// OrderBy is the ORDER BY list without the keyword; empty when no sort was requested.
	OrderBy string
	Limit   int
	Offset  int
	Facets  []Facet
}

// WhereClause renders " WHERE <predicate>" or the empty string.
func (c *Compiled) WhereClause() string {
	if c == nil || c.Where == "" {
		return ""
	}
	return " WHERE " + c.Where
}

// ArgsCopy returns a copy of Args that callers may append to.
func (c *Compiled) ArgsCopy(extra int) []any {
	out := make([]any, len(c.Args), len(c.Args)+extra)
	copy(out, c.Args)
	return out
}

// Compiler turns filter strings into Compiled queries for one document column and schema.
type Compiler struct {
	column string
	schema Schema
}

// NewCompiler creates a compiler bound to a JSONB column and a field whitelist.
func NewCompiler(column string, schema Schema) *Compiler {
	if column == "" {
		column = criteria.DocumentColumn
	}
	if schema == nil {
		schema = Schema{}
	}
	return &Compiler{column: column, schema: schema}
}

// Schema returns the compiler's field whitelist.
func (c *Compiler) Schema() Schema {
	return c.schema
}

// Compile parses and renders queryString. Negative limit or offset, unknown
// fields, type mismatches and syntax errors fail with failure.KindMalformedQuery.
func (c *Compiler) Compile(queryString string, limit, offset int, facetFields []string) (*Compiled, error) {
	if limit < 0 {
		return nil, failure.Malformed("limit must not be negative, got %d", limit)
	}
	if offset < 0 {
		return nil, failure.Malformed("offset must not be negative, got %d", offset)
	}

	facets, err := c.parseFacets(facetFields)
	if err != nil {
		return nil, err
	}

	parsed, err := Parse(queryString)
	if err != nil {
		return nil, err
	}

	r := &renderer{column: c.column, schema: c.schema}
	where := ""
	if parsed.Root != nil {
		where, err = r.render(parsed.Root)
		if err != nil {
			return nil, failure.Malformed("%v", err)
		}
		if where == "TRUE" {
			where = ""
		}
	}

	orderBy, err := r.orderBy(parsed.Sort)
	if err != nil {
		return nil, failure.Malformed("%v", err)
	}

	return &Compiled{
		Query:   queryString,
		Where:   where,
		Args:    r.args,
		OrderBy: orderBy,
		Limit:   limit,
		Offset:  offset,
		Facets:  facets,
	}, nil
}

type renderer struct {
	column string
	schema Schema
	args   []any
}

func (r *renderer) bind(v any) string {
	r.args = append(r.args, v)
	return fmt.Sprintf("$%d", len(r.args))
}

func (r *renderer) render(n Node) (string, error) {
	switch node := n.(type) {
	case *AllRecordsNode:
		return "TRUE", nil
	case *BooleanNode:
		left, err := r.render(node.Left)
		if err != nil {
			return "", err
		}
		right, err := r.render(node.Right)
		if err != nil {
			return "", err
		}
		switch node.Op {
		case BoolAnd:
			return "(" + left + " AND " + right + ")", nil
		case BoolOr:
			return "(" + left + " OR " + right + ")", nil
		case BoolNot:
			return "(" + left + " AND NOT " + right + ")", nil
		}
		return "", fmt.Errorf("unsupported boolean operator %q", node.Op)
	case *ClauseNode:
		return r.clause(node)
	}
	return "", fmt.Errorf("unsupported query node %T", n)
}

func (r *renderer) clause(c *ClauseNode) (string, error) {
	fieldType, ok := r.schema.Lookup(c.Index)
	if !ok {
		return "", fmt.Errorf("unknown field %q, known fields: %s", c.Index, r.schema.known())
	}
	path := criteria.TextPath(r.column, c.Index)

	switch fieldType {
	case Number:
		return r.numberClause(path, c)
	case Boolean:
		return r.booleanClause(path, c)
	default:
		return r.stringClause(path, c)
	}
}

func (r *renderer) stringClause(path string, c *ClauseNode) (string, error) {
	switch c.Relation {
	case RelEq:
		return fmt.Sprintf("%s ILIKE %s", path, r.bind(likePattern(c.Term))), nil
	case RelExact:
		if hasWildcards(c.Term) {
			return fmt.Sprintf("%s LIKE %s", path, r.bind(likePattern(c.Term))), nil
		}
		return fmt.Sprintf("%s = %s", path, r.bind(unescape(c.Term))), nil
	case RelNe:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", path, r.bind(unescape(c.Term))), nil
	case RelLt, RelGt, RelLte, RelGte:
		return fmt.Sprintf("%s %s %s", path, c.Relation, r.bind(unescape(c.Term))), nil
	case RelAdj:
		phrase := strings.Join(strings.Fields(c.Term), " ")
		if phrase == "" {
			return "", fmt.Errorf("adj requires a non-empty term for %q", c.Index)
		}
		return fmt.Sprintf("%s ILIKE %s", path, r.bind("%"+likePattern(phrase)+"%")), nil
	case RelAll, RelAny:
		words := strings.Fields(c.Term)
		if len(words) == 0 {
			return "", fmt.Errorf("%s requires at least one word for %q", c.Relation, c.Index)
		}
		parts := make([]string, len(words))
		for i, w := range words {
			parts[i] = fmt.Sprintf("%s ILIKE %s", path, r.bind("%"+likePattern(w)+"%"))
		}
		joiner := " AND "
		if c.Relation == RelAny {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	}
	return "", fmt.Errorf("unsupported relation %q", c.Relation)
}

// numericLiteral accepts the decimal forms PostgreSQL's numeric input takes.
var numericLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func (r *renderer) numberClause(path string, c *ClauseNode) (string, error) {
	term := unescape(c.Term)
	if hasWildcards(c.Term) {
		return "", fmt.Errorf("wildcards are not allowed on number field %q", c.Index)
	}
	if !numericLiteral.MatchString(term) {
		return "", fmt.Errorf("field %q expects a number, got %q", c.Index, term)
	}
	op := string(c.Relation)
	switch c.Relation {
	case RelEq, RelExact:
		op = "="
	case RelNe, RelLt, RelGt, RelLte, RelGte:
	default:
		return "", fmt.Errorf("relation %q is not supported on number field %q", c.Relation, c.Index)
	}
	return fmt.Sprintf("(%s)::numeric %s %s::numeric", path, op, r.bind(term)), nil
}

func (r *renderer) booleanClause(path string, c *ClauseNode) (string, error) {
	term := strings.ToLower(unescape(c.Term))
	if term != "true" && term != "false" {
		return "", fmt.Errorf("field %q expects true or false, got %q", c.Index, c.Term)
	}
	op := "="
	switch c.Relation {
	case RelEq, RelExact:
	case RelNe:
		op = "IS DISTINCT FROM"
	default:
		return "", fmt.Errorf("relation %q is not supported on boolean field %q", c.Relation, c.Index)
	}
	return fmt.Sprintf("(%s)::boolean %s %s::boolean", path, op, r.bind(term)), nil
}

func (r *renderer) orderBy(keys []SortKey) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(keys)+1)
	sortsByID := false
	for _, key := range keys {
		fieldType, ok := r.schema.Lookup(key.Index)
		if !ok {
			return "", fmt.Errorf("unknown sort field %q, known fields: %s", key.Index, r.schema.known())
		}
		expr := criteria.TextPath(r.column, key.Index)
		switch fieldType {
		case Number:
			expr = "(" + expr + ")::numeric"
		case Boolean:
			expr = "(" + expr + ")::boolean"
		}
		direction := "ASC"
		if key.Descending {
			direction = "DESC"
		}
		parts = append(parts, expr+" "+direction)
		if key.Index == criteria.IDField {
			sortsByID = true
		}
	}
	if !sortsByID {
		parts = append(parts, criteria.IDColumn+" ASC")
	}
	return strings.Join(parts, ", "), nil
}
