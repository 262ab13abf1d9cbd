// Package criteria models direct-lookup predicates over stored records.
//
// A Criterion is a single (field path, operator, value) predicate; Criteria is
// an ordered conjunction of them. The identifier field renders against the
// indexed id column, every other field as a path into the JSONB payload.
//
// Example:
//
//	c := criteria.ByID("8d0b2f1c-4d1e-4a55-9c41-0d7a6b0c3e11")
//	where, args := c.SQL(1) // "id = $1", ["8d0b..."]
package criteria

import (
	"fmt"
	"strings"
)

// Operator is a comparison operator usable in a Criterion.
type Operator string

// Supported operators
const (
	OpEq   Operator = "="
	OpNe   Operator = "<>"
	OpGt   Operator = ">"
	OpGte  Operator = ">="
	OpLt   Operator = "<"
	OpLte  Operator = "<="
	OpLike Operator = "LIKE"
)

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike:
		return true
	}
	return false
}

// Criterion is an immutable single-field predicate.
type Criterion struct {
	field    string
	operator Operator
	value    string
}

// New builds a Criterion after validating the field path and operator.
func New(field string, op Operator, value string) (Criterion, error) {
	if err := ValidatePath(field); err != nil {
		return Criterion{}, err
	}
	if !op.Valid() {
		return Criterion{}, fmt.Errorf("unsupported operator %q", op)
	}
	return Criterion{field: field, operator: op, value: value}, nil
}

// Field returns the dot-addressed field path.
func (c Criterion) Field() string { return c.field }

// Operator returns the comparison operator.
func (c Criterion) Operator() Operator { return c.operator }

// Value returns the bound comparison value.
func (c Criterion) Value() string { return c.value }

// String renders a human-readable form for logs.
func (c Criterion) String() string {
	return fmt.Sprintf("%s %s %q", c.field, c.operator, c.value)
}

// Criteria is an ordered conjunction of criteria; all must hold.
type Criteria []Criterion

// And builds a conjunction of the given criteria.
func And(cs ...Criterion) Criteria {
	out := make(Criteria, len(cs))
	copy(out, cs)
	return out
}

// ByID builds the single-field equality used by every by-id operation.
func ByID(id string) Criteria {
	return Criteria{{field: IDField, operator: OpEq, value: id}}
}

// ID returns the value of the first id equality in the conjunction.
func (cs Criteria) ID() (string, bool) {
	for _, c := range cs {
		if c.field == IDField && c.operator == OpEq {
			return c.value, true
		}
	}
	return "", false
}

// And returns a new conjunction with c appended.
func (cs Criteria) And(c Criterion) Criteria {
	out := make(Criteria, 0, len(cs)+1)
	out = append(out, cs...)
	return append(out, c)
}

// SQL renders the conjunction as a WHERE fragment with placeholders starting
// at $start. An empty conjunction renders "TRUE".
func (cs Criteria) SQL(start int) (string, []any) {
	if len(cs) == 0 {
		return "TRUE", nil
	}
	parts := make([]string, 0, len(cs))
	args := make([]any, 0, len(cs))
	for i, c := range cs {
		placeholder := fmt.Sprintf("$%d", start+i)
		parts = append(parts, fmt.Sprintf("%s %s %s", TextPath(DocumentColumn, c.field), c.operator, placeholder))
		args = append(args, c.value)
	}
	return strings.Join(parts, " AND "), args
}

// String renders a human-readable form for logs.
func (cs Criteria) String() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}
