package store

import (
	"encoding/json"
	"time"
)

// Document is the metadata row kept per source identity. One row exists
// per ingested document regardless of how many chunks it produced.
type Document struct {
	Identity   string
	Title      string
	URL        string
	Kind       string
	Schema     string
	ChunkCount int
	UpdatedAt  time.Time
}

// Metadata is the per-chunk context stored alongside each embedding.
// It marshals to a flat JSON object so JSONB containment queries can
// match any subset of its fields; zero-valued fields are omitted.
//
// Extra holds source-specific keys that have no dedicated field. Its
// entries are flattened into the same top-level object.
type Metadata struct {
	Identity string `json:"identity,omitempty"`
	Title    string `json:"title,omitempty"`
	Schema   string `json:"schema,omitempty"`
	Price    string `json:"price,omitempty"`
	URL      string `json:"url,omitempty"`
	RowRange string `json:"row_range,omitempty"`

	Extra map[string]string `json:"-"`
}

// metadataAlias breaks the MarshalJSON recursion.
type metadataAlias Metadata

// MarshalJSON flattens Extra into the top-level object. Dedicated
// fields win over colliding Extra keys.
func (m Metadata) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(metadataAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}

	flat := make(map[string]string, len(m.Extra)+6)
	for k, v := range m.Extra {
		flat[k] = v
	}
	var named map[string]string
	if err := json.Unmarshal(base, &named); err != nil {
		return nil, err
	}
	for k, v := range named {
		flat[k] = v
	}
	return json.Marshal(flat)
}

// UnmarshalJSON restores dedicated fields and collects unrecognized
// keys into Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var alias metadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*m = Metadata(alias)

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	delete(flat, "identity")
	delete(flat, "title")
	delete(flat, "schema")
	delete(flat, "price")
	delete(flat, "url")
	delete(flat, "row_range")
	if len(flat) > 0 {
		m.Extra = flat
	}
	return nil
}

// Chunk is one embeddable unit ready for insertion.
type Chunk struct {
	Content   string
	Metadata  Metadata
	Embedding []float32
}

// Result is one similarity search hit. Distance is cosine distance:
// lower is closer. ID is the insertion-order surrogate key used to
// break distance ties deterministically.
type Result struct {
	ID       int64
	Content  string
	Metadata Metadata
	Distance float64
}
