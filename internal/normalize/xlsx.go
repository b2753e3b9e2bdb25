package normalize

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/casadex/casadex/internal/schema"
)

// XLSX files are ZIP archives of XML parts. Only the pieces needed for
// row extraction are parsed here: the shared string table and the first
// worksheet. Formulas are ignored; cached cell values are used as-is.

// sharedStringsXML models xl/sharedStrings.xml.
type sharedStringsXML struct {
	Items []struct {
		Text  string `xml:"t"`
		Runs  []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

// worksheetXML models xl/worksheets/sheetN.xml.
type worksheetXML struct {
	Rows []struct {
		Ref   string `xml:"r,attr"`
		Cells []struct {
			Ref   string `xml:"r,attr"`
			Type  string `xml:"t,attr"`
			Value string `xml:"v"`
			// Inline strings carry their text under is/t.
			Inline struct {
				Text string `xml:"t"`
			} `xml:"is"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// extractXLSX parses a minimal XLSX workbook and aggregates rows of the
// first worksheet into grouped segments.
func extractXLSX(src Source, cfg Config) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening xlsx for %q: %v", ErrUnsupportedFormat, src.Identity, err)
	}

	shared, err := readSharedStrings(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: reading shared strings for %q: %v", ErrUnsupportedFormat, src.Identity, err)
	}

	grid, err := readFirstSheet(zr, shared)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return &Result{Schema: schema.EmptySchema}, nil
	}

	headers := grid[0]
	rows := make([]map[string]string, 0, len(grid)-1)
	for _, rec := range grid[1:] {
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

// readSharedStrings loads the shared string table, if present.
func readSharedStrings(zr *zip.Reader) ([]string, error) {
	data, ok, err := readZipFile(zr, "xl/sharedStrings.xml")
	if err != nil || !ok {
		return nil, err
	}

	var ss sharedStringsXML
	if err := xml.Unmarshal(data, &ss); err != nil {
		return nil, err
	}

	out := make([]string, len(ss.Items))
	for i, item := range ss.Items {
		if item.Text != "" {
			out[i] = item.Text
			continue
		}
		var b strings.Builder
		for _, r := range item.Runs {
			b.WriteString(r.Text)
		}
		out[i] = b.String()
	}
	return out, nil
}

// readFirstSheet parses the lowest-numbered worksheet into a dense grid.
func readFirstSheet(zr *zip.Reader, shared []string) ([][]string, error) {
	var names []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: xlsx has no worksheets", ErrUnsupportedFormat)
	}
	sort.Strings(names)

	data, _, err := readZipFile(zr, names[0])
	if err != nil {
		return nil, fmt.Errorf("%w: reading worksheet: %v", ErrUnsupportedFormat, err)
	}

	var ws worksheetXML
	if err := xml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("%w: parsing worksheet: %v", ErrUnsupportedFormat, err)
	}

	grid := make([][]string, 0, len(ws.Rows))
	for _, row := range ws.Rows {
		var cells []string
		for _, c := range row.Cells {
			idx := columnIndex(c.Ref)
			for len(cells) <= idx {
				cells = append(cells, "")
			}
			cells[idx] = cellValue(c.Type, c.Value, c.Inline.Text, shared)
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

// cellValue resolves a cell's display value from its type attribute.
func cellValue(typ, value, inline string, shared []string) string {
	switch typ {
	case "s": // shared string
		i, err := strconv.Atoi(value)
		if err != nil || i < 0 || i >= len(shared) {
			return ""
		}
		return shared[i]
	case "inlineStr":
		return inline
	default: // numbers, booleans, cached formula results
		return value
	}
}

// columnIndex converts a cell reference like "C7" to a zero-based column
// index. Malformed references map to column 0.
func columnIndex(ref string) int {
	idx := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		idx = idx*26 + int(r-'A'+1)
	}
	if idx == 0 {
		return 0
	}
	return idx - 1
}

// readZipFile reads one named file from the archive.
func readZipFile(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return data, true, err
	}
	return nil, false, nil
}
