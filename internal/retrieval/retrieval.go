// Package retrieval turns a user query into a vetted set of knowledge
// base results. Similarity alone does not qualify a result: records
// missing a price or a well-formed listing URL are dropped, so the
// assistant never presents a listing it cannot substantiate.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/casadex/casadex/internal/ai"
	"github.com/casadex/casadex/internal/store"
)

// ErrNoQualifyingResults indicates that retrieval found no record
// passing the completeness rules. Callers present an explicit
// "nothing found" answer instead of the nearest incomplete match.
var ErrNoQualifyingResults = errors.New("no qualifying results")

// Default retrieval settings. The overfetch factor widens the raw
// similarity query so completeness filtering still has enough
// candidates to fill topK.
const (
	DefaultTopK      = 5
	DefaultOverfetch = 4
)

// Searcher is the similarity query the filter runs over. *store.Store
// satisfies it.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, filter *store.Metadata) ([]store.Result, error)
}

// Filter retrieves and vets knowledge base results.
type Filter struct {
	embedder  ai.Embedder
	searcher  Searcher
	topK      int
	overfetch int
	logger    *slog.Logger
}

// Option configures a Filter.
type Option func(*Filter)

// WithTopK sets how many qualifying results a query returns at most.
func WithTopK(k int) Option {
	return func(f *Filter) {
		if k > 0 {
			f.topK = k
		}
	}
}

// WithOverfetch sets the raw-candidate multiplier.
func WithOverfetch(factor int) Option {
	return func(f *Filter) {
		if factor > 0 {
			f.overfetch = factor
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a Filter.
func New(embedder ai.Embedder, searcher Searcher, opts ...Option) (*Filter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}

	f := &Filter{
		embedder:  embedder,
		searcher:  searcher,
		topK:      DefaultTopK,
		overfetch: DefaultOverfetch,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Retrieve embeds the query, searches the store with overfetch, and
// returns up to topK complete results in ascending distance order. A
// non-nil metadata filter restricts candidates before vetting.
//
// Returns ErrNoQualifyingResults when nothing passes the completeness
// rules, even if similar-but-incomplete records exist.
func (f *Filter) Retrieve(ctx context.Context, query string, filter *store.Metadata) ([]store.Result, error) {
	vecs, err := f.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(vecs))
	}

	candidates, err := f.searcher.Search(ctx, vecs[0], f.topK*f.overfetch, filter)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	results := make([]store.Result, 0, f.topK)
	dropped := 0
	for _, c := range candidates {
		if !complete(c) {
			dropped++
			continue
		}
		results = append(results, c)
		if len(results) == f.topK {
			break
		}
	}

	f.logger.Debug("retrieval filtered",
		"candidates", len(candidates), "dropped", dropped, "returned", len(results))

	if len(results) == 0 {
		return nil, ErrNoQualifyingResults
	}
	return results, nil
}

// complete reports whether a record carries everything an answer may
// cite: a price and a well-formed absolute listing URL.
func complete(r store.Result) bool {
	return r.Metadata.Price != "" && wellFormedURL(r.Metadata.URL)
}

// wellFormedURL accepts absolute http(s) URLs with a host.
func wellFormedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
