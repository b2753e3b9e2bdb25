package normalize

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

// buildWorkbook assembles a minimal XLSX archive from raw XML parts.
func buildWorkbook(t *testing.T, parts map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
	return buf.Bytes()
}

func TestExtractXLSX(t *testing.T) {
	data := buildWorkbook(t, map[string]string{
		"xl/sharedStrings.xml": `<?xml version="1.0"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="5" uniqueCount="5">
	<si><t>Price</t></si>
	<si><t>Location</t></si>
	<si><t>Lisbon</t></si>
	<si><r><t>Po</t></r><r><t>rto</t></r></si>
	<si><t>Link</t></si>
</sst>`,
		"xl/worksheets/sheet1.xml": `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
	<sheetData>
		<row r="1">
			<c r="A1" t="s"><v>0</v></c>
			<c r="B1" t="s"><v>1</v></c>
			<c r="C1" t="s"><v>4</v></c>
		</row>
		<row r="2">
			<c r="A2"><v>250000</v></c>
			<c r="B2" t="s"><v>2</v></c>
			<c r="C2" t="inlineStr"><is><t>https://example.com/a</t></is></c>
		</row>
		<row r="3">
			<c r="A3"><v>310000</v></c>
			<c r="B3" t="s"><v>3</v></c>
		</row>
	</sheetData>
</worksheet>`,
	})

	res, err := Extract(Source{
		Identity: "inventory.xlsx",
		URL:      "https://files.example.com/inventory.xlsx",
		Kind:     KindXLSX,
		Data:     data,
	}, Config{})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if !strings.Contains(res.Schema, "Price (price)") {
		t.Errorf("schema %q missing price column", res.Schema)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}

	first := res.Segments[0]
	if first.Price != "250000" {
		t.Errorf("price = %q, want %q", first.Price, "250000")
	}
	if first.URL != "https://example.com/a" {
		t.Errorf("url = %q, want the listing link cell", first.URL)
	}
	if !strings.Contains(first.Text, "Location: Lisbon") {
		t.Errorf("text %q missing rendered cell", first.Text)
	}

	// Second row has no link cell, so the document URL applies; the rich
	// text run ("Po" + "rto") must concatenate.
	second := res.Segments[1]
	if second.URL != "https://files.example.com/inventory.xlsx" {
		t.Errorf("url = %q, want document url fallback", second.URL)
	}
	if !strings.Contains(second.Text, "Porto") {
		t.Errorf("text %q missing concatenated rich text run", second.Text)
	}
}

func TestExtractXLSXNoSharedStrings(t *testing.T) {
	// Inline strings only; the shared string table is optional.
	data := buildWorkbook(t, map[string]string{
		"xl/worksheets/sheet1.xml": `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
	<sheetData>
		<row r="1"><c r="A1" t="inlineStr"><is><t>Name</t></is></c></row>
		<row r="2"><c r="A2" t="inlineStr"><is><t>Casa Azul</t></is></c></row>
	</sheetData>
</worksheet>`,
	})

	res, err := Extract(Source{Identity: "x.xlsx", Kind: KindXLSX, Data: data}, Config{})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(res.Segments))
	}
	if !strings.Contains(res.Segments[0].Text, "Casa Azul") {
		t.Errorf("text = %q, want inline string value", res.Segments[0].Text)
	}
}

func TestExtractXLSXNoWorksheets(t *testing.T) {
	data := buildWorkbook(t, map[string]string{
		"xl/sharedStrings.xml": `<sst></sst>`,
	})

	_, err := Extract(Source{Identity: "x.xlsx", Kind: KindXLSX, Data: data}, Config{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractXLSXNotAnArchive(t *testing.T) {
	_, err := Extract(Source{Identity: "x.xlsx", Kind: KindXLSX, Data: []byte("not a zip")}, Config{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
	}
}
