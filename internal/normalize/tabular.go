package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/casadex/casadex/internal/schema"
)

// extractCSV parses CSV bytes and aggregates rows into grouped segments.
func extractCSV(src Source, cfg Config) (*Result, error) {
	r := csv.NewReader(bytes.NewReader(src.Data))
	r.FieldsPerRecord = -1 // tolerate ragged rows
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parsing csv for %q: %v", ErrUnsupportedFormat, src.Identity, err)
	}
	if len(records) == 0 {
		return &Result{Schema: schema.EmptySchema}, nil
	}

	headers := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, col := range schema.Columns(headers) {
			if i < len(rec) {
				row[col.Name] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}

	return tabularResult(src, headers, rows, cfg), nil
}

// tabularResult builds grouped segments from parsed rows. Shared between
// the CSV and XLSX extractors.
func tabularResult(src Source, headers []string, rows []map[string]string, cfg Config) *Result {
	desc := schema.Describe(headers, rows)
	res := &Result{Schema: desc}
	if len(rows) == 0 {
		return res
	}

	cols := schema.Columns(headers)
	priceCol := schema.FindByRole(headers, schema.RolePrice)
	urlCol := schema.FindByRole(headers, schema.RoleURL)

	for start := 0; start < len(rows); start += cfg.RowsPerSegment {
		end := start + cfg.RowsPerSegment
		if end > len(rows) {
			end = len(rows)
		}
		group := rows[start:end]

		var b strings.Builder
		for i, row := range group {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(renderRow(cols, row))
		}

		seg := Segment{
			Text:     b.String(),
			Schema:   desc,
			URL:      src.URL,
			RowRange: rowRange(start, end),
		}
		if priceCol != "" {
			seg.Price = firstNonEmpty(group, priceCol)
		}
		if urlCol != "" {
			if u := firstNonEmpty(group, urlCol); u != "" {
				seg.URL = u
			}
		}
		res.Segments = append(res.Segments, seg)
	}

	return res
}

// renderRow serializes one row as "name: value" pairs in header order,
// skipping empty cells.
func renderRow(cols []schema.Column, row map[string]string) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		if v := row[c.Name]; v != "" {
			parts = append(parts, c.Name+": "+v)
		}
	}
	return strings.Join(parts, "; ")
}

// firstNonEmpty returns the first non-empty value of the named column
// within a row group.
func firstNonEmpty(rows []map[string]string, col string) string {
	for _, row := range rows {
		if v := row[col]; v != "" {
			return v
		}
	}
	return ""
}

// rowRange formats a human-readable 1-based data row range.
func rowRange(start, end int) string {
	if end-start == 1 {
		return fmt.Sprintf("row %d", start+1)
	}
	return fmt.Sprintf("rows %d-%d", start+1, end)
}
