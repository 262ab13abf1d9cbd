package query

import (
	"sort"
	"strings"

	"github.com/nimburion/transfers/pkg/criteria"
)

// FieldType is the JSON type of an addressable field.
type FieldType int

// Field types
const (
	String FieldType = iota
	Number
	Boolean
)

func (t FieldType) String() string {
	switch t {
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	default:
		return "string"
	}
}

// Schema is the whitelist of field paths a query, sort key or facet may address.
// The identifier field is always addressable as a string.
type Schema map[string]FieldType

// Lookup returns the type of path and whether it is addressable.
func (s Schema) Lookup(path string) (FieldType, bool) {
	if path == criteria.IDField {
		return String, true
	}
	t, ok := s[path]
	if !ok || criteria.ValidatePath(path) != nil {
		return String, false
	}
	return t, true
}

// Fields returns the addressable paths in sorted order.
func (s Schema) Fields() []string {
	out := make([]string, 0, len(s)+1)
	out = append(out, criteria.IDField)
	for path := range s {
		if path != criteria.IDField {
			out = append(out, path)
		}
	}
	sort.Strings(out[1:])
	return out
}

func (s Schema) known() string {
	return strings.Join(s.Fields(), ", ")
}
