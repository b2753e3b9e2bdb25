// Package normalize converts heterogeneous source documents (spreadsheets,
// brochures, plain text) into a uniform sequence of text segments with
// attached schema and listing context, ready for chunking and embedding.
//
// Tabular sources additionally run through the schema extractor so every
// segment carries a description of the source columns; price and URL cell
// values are lifted into segment metadata where the schema identifies
// those roles, so the retrieval filter can enforce completeness without
// re-parsing content.
package normalize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat indicates a source kind the normalizer cannot
// interpret. Ingestion of that identity must abort; no best-effort
// extraction is attempted.
var ErrUnsupportedFormat = errors.New("unsupported source format")

// Kind identifies the extraction strategy for a source document.
type Kind string

const (
	KindCSV      Kind = "csv"
	KindXLSX     Kind = "xlsx"
	KindText     Kind = "text"
	KindMarkdown Kind = "markdown"
)

// Tabular reports whether the kind uses the tabular extraction strategy.
func (k Kind) Tabular() bool {
	return k == KindCSV || k == KindXLSX
}

// kindByExtension maps file extensions to kinds.
var kindByExtension = map[string]Kind{
	".csv":  KindCSV,
	".xlsx": KindXLSX,
	".txt":  KindText,
	".md":   KindMarkdown,
}

// kindByMIME maps MIME types to kinds.
var kindByMIME = map[string]Kind{
	"text/csv":      KindCSV,
	"text/plain":    KindText,
	"text/markdown": KindMarkdown,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": KindXLSX,
}

// DetectKind resolves the source kind from a MIME type or, failing that,
// the file name extension. Unknown sources return ErrUnsupportedFormat.
func DetectKind(name, mimeType string) (Kind, error) {
	if mt := strings.ToLower(strings.TrimSpace(mimeType)); mt != "" {
		// Parameters like "; charset=utf-8" are irrelevant here.
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		if k, ok := kindByMIME[mt]; ok {
			return k, nil
		}
	}
	if k, ok := kindByExtension[strings.ToLower(filepath.Ext(name))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: name=%q mime=%q", ErrUnsupportedFormat, name, mimeType)
}

// Source is one document to normalize.
type Source struct {
	Identity string // stable document identity
	Title    string
	URL      string
	Kind     Kind
	Data     []byte
}

// Segment is one normalized unit of text with its listing context.
// Price and URL are empty when the source carries no such data; the
// retrieval filter treats records without them as incomplete.
type Segment struct {
	Text     string
	Schema   string // schema description, tabular sources only
	Price    string // listing price, if identifiable
	URL      string // listing URL, falls back to the document URL
	RowRange string // "rows 3-5", tabular sources only
}

// Result is the normalized form of one source document.
type Result struct {
	Schema   string // non-empty only for tabular sources
	URL      string // document-level URL: source metadata or first URL found in content
	Segments []Segment
}

// Config controls extraction behavior.
type Config struct {
	// RowsPerSegment groups this many spreadsheet rows into one segment.
	// Default 1: one listing row per vector record, so completeness rules
	// apply per listing.
	RowsPerSegment int
}

// Extract dispatches by source kind into the tabular or document
// extraction strategy.
func Extract(src Source, cfg Config) (*Result, error) {
	if cfg.RowsPerSegment <= 0 {
		cfg.RowsPerSegment = 1
	}

	var (
		res *Result
		err error
	)
	switch src.Kind {
	case KindCSV:
		res, err = extractCSV(src, cfg)
	case KindXLSX:
		res, err = extractXLSX(src, cfg)
	case KindText, KindMarkdown:
		res, err = extractDocument(src)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, src.Kind)
	}
	if err != nil {
		return nil, err
	}

	res.URL = src.URL
	if res.URL == "" {
		for _, seg := range res.Segments {
			if seg.URL != "" {
				res.URL = seg.URL
				break
			}
		}
	}
	return res, nil
}
