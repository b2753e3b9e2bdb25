// Package schema derives a human-readable schema description from
// row-oriented sources (spreadsheets, CSV exports).
//
// The description is attached to every vector record produced from a
// tabular document so that retrieval-time consumers can interpret column
// semantics without re-deriving them from raw cells.
package schema

import (
	"fmt"
	"strings"
)

// EmptySchema is the explicit marker produced when a tabular source has no
// rows. Downstream consumers must treat it as "no tabular context
// available", not as an error.
const EmptySchema = "empty schema (no rows)"

// Role classifies the semantic meaning of a column, inferred from its
// header name.
type Role string

const (
	RolePrice    Role = "price"
	RoleURL      Role = "url"
	RoleLocation Role = "location"
	RoleDate     Role = "date"
	RoleNumber   Role = "number"
	RoleText     Role = "text"
)

// roleKeywords maps lowercase header substrings to semantic roles.
// First match wins; order matters (price before number).
var roleKeywords = []struct {
	substrings []string
	role       Role
}{
	{[]string{"price", "cost", "amount", "rent", "fee"}, RolePrice},
	{[]string{"url", "link", "website", "listing"}, RoleURL},
	{[]string{"location", "address", "city", "area", "district", "neighborhood"}, RoleLocation},
	{[]string{"date", "available", "updated", "created"}, RoleDate},
	{[]string{"size", "sqm", "sqft", "rooms", "beds", "baths", "count", "number", "qty"}, RoleNumber},
}

// Column describes a single column of a tabular source.
type Column struct {
	Name string
	Role Role
}

// InferRole infers the semantic role of a column from its header name.
func InferRole(header string) Role {
	lower := strings.ToLower(header)
	for _, rk := range roleKeywords {
		for _, sub := range rk.substrings {
			if strings.Contains(lower, sub) {
				return rk.role
			}
		}
	}
	return RoleText
}

// Columns normalizes a header list into named, role-tagged columns.
// Header order is preserved. Empty or absent headers are assigned
// positional placeholders (column_1, column_2, ...).
func Columns(headers []string) []Column {
	cols := make([]Column, len(headers))
	for i, h := range headers {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		cols[i] = Column{Name: name, Role: InferRole(name)}
	}
	return cols
}

// Describe produces a single schema-description string summarizing the
// column names of a tabular source and, where inferable, their semantic
// roles. If rows is empty the EmptySchema marker is returned.
func Describe(headers []string, rows []map[string]string) string {
	if len(rows) == 0 {
		return EmptySchema
	}

	cols := Columns(headers)
	parts := make([]string, len(cols))
	for i, c := range cols {
		if c.Role == RoleText {
			parts[i] = c.Name
		} else {
			parts[i] = fmt.Sprintf("%s (%s)", c.Name, c.Role)
		}
	}

	return fmt.Sprintf("columns: %s; rows: %d", strings.Join(parts, ", "), len(rows))
}

// FindByRole returns the name of the first column with the given role,
// or "" if the headers contain no such column.
func FindByRole(headers []string, role Role) string {
	for _, c := range Columns(headers) {
		if c.Role == role {
			return c.Name
		}
	}
	return ""
}
