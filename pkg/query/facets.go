package query

import (
	"strconv"
	"strings"

	"github.com/nimburion/transfers/pkg/failure"
)

// Facet requests grouped counts for one field. TopN of zero returns every value.
type Facet struct {
	Path string
	Type FieldType
	TopN int
}

// parseFacets validates "path" or "path:N" entries against the schema.
// Duplicate paths collapse onto the first occurrence.
func (c *Compiler) parseFacets(fields []string) ([]Facet, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(fields))
	facets := make([]Facet, 0, len(fields))
	for _, raw := range fields {
		entry := strings.TrimSpace(raw)
		path, top := entry, 0
		if idx := strings.LastIndexByte(entry, ':'); idx >= 0 {
			path = entry[:idx]
			n, err := strconv.Atoi(entry[idx+1:])
			if err != nil || n <= 0 {
				return nil, failure.Malformed("invalid facet %q: top count must be a positive integer", raw)
			}
			top = n
		}
		fieldType, ok := c.schema.Lookup(path)
		if !ok {
			return nil, failure.Malformed("unknown facet field %q, known fields: %s", path, c.schema.known())
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		facets = append(facets, Facet{Path: path, Type: fieldType, TopN: top})
	}
	return facets, nil
}
