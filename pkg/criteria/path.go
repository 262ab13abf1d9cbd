package criteria

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// IDField is the record identifier field, stored in its own indexed column.
	IDField = "id"
	// IDColumn is the identifier column name.
	IDColumn = "id"
	// DocumentColumn is the JSONB payload column name.
	DocumentColumn = "jsonb"
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidatePath checks that every dot-separated segment of path is a plain identifier.
// Only validated paths are ever embedded into SQL text.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("field path is required")
	}
	for _, segment := range strings.Split(path, ".") {
		if !segmentPattern.MatchString(segment) {
			return fmt.Errorf("invalid field path %q", path)
		}
	}
	return nil
}

// TextPath projects a validated dot path into PostgreSQL JSONB text access on column,
// e.g. "metadata.createdDate" -> jsonb->'metadata'->>'createdDate'.
// The identifier field maps to the id column.
func TextPath(column, path string) string {
	if path == IDField {
		return IDColumn
	}
	segments := strings.Split(path, ".")
	var b strings.Builder
	b.WriteString(column)
	for i, segment := range segments {
		if i == len(segments)-1 {
			b.WriteString("->>")
		} else {
			b.WriteString("->")
		}
		b.WriteString("'")
		b.WriteString(segment)
		b.WriteString("'")
	}
	return b.String()
}
