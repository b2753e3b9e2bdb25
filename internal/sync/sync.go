// Package sync keeps the knowledge base consistent with a source
// folder. Each file maps to one document identity (its path relative
// to the folder root, slash-separated); ingesting an identity is an
// idempotent replace, so duplicate or reordered events converge to the
// state of the file on disk.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/casadex/casadex/internal/ai"
	"github.com/casadex/casadex/internal/chunk"
	"github.com/casadex/casadex/internal/normalize"
	"github.com/casadex/casadex/internal/store"
)

// Op is the kind of change an Event describes.
type Op string

const (
	// OpUpsert re-ingests the identity from disk.
	OpUpsert Op = "upsert"
	// OpDelete retires the identity from the index.
	OpDelete Op = "delete"
)

// Event is one unit of sync work. Title, URL, and Kind are optional
// listing context supplied by the event source; anything left empty is
// derived from the file itself during ingestion.
type Event struct {
	Identity string
	Op       Op
	Title    string
	URL      string
	Kind     normalize.Kind
}

// Index is the store surface the synchronizer writes to. *store.Store
// satisfies it.
type Index interface {
	Replace(ctx context.Context, doc store.Document, chunks []store.Chunk) error
	Delete(ctx context.Context, identity string) error
	Identities(ctx context.Context) (map[string]struct{}, error)
}

// Retry policy for transient failures. The whole identity is retried;
// the store never holds a partial chunk set between attempts.
const (
	maxAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

// Synchronizer ingests source files into the index.
//
// Writes to the same identity are serialized in-process through a
// keyed mutex; concurrent events for different identities proceed in
// parallel. Within one identity the last completed write wins.
type Synchronizer struct {
	root     string
	index    Index
	embedder ai.Embedder
	splitter *chunk.Splitter
	rows     int
	logger   *slog.Logger

	mu    gosync.Mutex
	locks map[string]*identityLock
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithSplitter overrides the chunk splitter.
func WithSplitter(s *chunk.Splitter) Option {
	return func(sy *Synchronizer) {
		if s != nil {
			sy.splitter = s
		}
	}
}

// WithRowsPerSegment sets how many spreadsheet rows form one record.
func WithRowsPerSegment(n int) Option {
	return func(sy *Synchronizer) {
		if n > 0 {
			sy.rows = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(sy *Synchronizer) {
		if logger != nil {
			sy.logger = logger
		}
	}
}

// New creates a Synchronizer over the given source folder.
func New(root string, index Index, embedder ai.Embedder, opts ...Option) (*Synchronizer, error) {
	if root == "" {
		return nil, fmt.Errorf("source folder is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	s := &Synchronizer{
		root:     root,
		index:    index,
		embedder: embedder,
		splitter: chunk.New(),
		rows:     1,
		logger:   slog.Default(),
		locks:    make(map[string]*identityLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// identityLock serializes events for one identity. Entries are
// reference counted so the lock table shrinks back as identities go
// idle instead of growing with every path ever seen.
type identityLock struct {
	mu   gosync.Mutex
	refs int
}

// acquire blocks until the caller holds the identity's lock.
func (s *Synchronizer) acquire(identity string) *identityLock {
	s.mu.Lock()
	l, ok := s.locks[identity]
	if !ok {
		l = &identityLock{}
		s.locks[identity] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

// release unlocks and drops the table entry once no one is waiting.
func (s *Synchronizer) release(identity string, l *identityLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, identity)
	}
	s.mu.Unlock()
}

// Handle applies one event. Unsupported formats and malformed input
// are logged and skipped; transient failures are retried with backoff
// before the error is returned.
func (s *Synchronizer) Handle(ctx context.Context, ev Event) error {
	l := s.acquire(ev.Identity)
	defer s.release(ev.Identity, l)

	var err error
	switch ev.Op {
	case OpUpsert:
		err = s.withRetry(ctx, ev.Identity, func() error {
			return s.ingest(ctx, ev)
		})
	case OpDelete:
		err = s.withRetry(ctx, ev.Identity, func() error {
			return s.index.Delete(ctx, ev.Identity)
		})
	default:
		return fmt.Errorf("unknown sync op %q", ev.Op)
	}

	if err != nil && skippable(err) {
		s.logger.Warn("skipping document", "identity", ev.Identity, "error", err)
		return nil
	}
	return err
}

// skippable reports whether an error means the document can never be
// ingested as-is, so retrying or failing the sync run is pointless.
func skippable(err error) bool {
	return errors.Is(err, normalize.ErrUnsupportedFormat) || errors.Is(err, ai.ErrMalformedInput)
}

// withRetry runs fn up to maxAttempts times, backing off between
// attempts. Non-retryable errors abort immediately.
func (s *Synchronizer) withRetry(ctx context.Context, identity string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if skippable(err) || ctx.Err() != nil {
			return err
		}
		if attempt < maxAttempts {
			s.logger.Warn("sync attempt failed, retrying",
				"identity", identity, "attempt", attempt, "error", err)
			select {
			case <-time.After(retryBackoff << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}

// ingest reads, normalizes, chunks, embeds, and stores one identity.
// The embedding batch completes before any store write, and the store
// swap is atomic, so a failure at any stage leaves the previous
// version of the document intact.
func (s *Synchronizer) ingest(ctx context.Context, ev Event) error {
	identity := ev.Identity
	path := filepath.Join(s.root, filepath.FromSlash(identity))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %q: %w", identity, err)
	}

	kind := ev.Kind
	if kind == "" {
		if kind, err = normalize.DetectKind(identity, ""); err != nil {
			return err
		}
	}

	title := ev.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(identity), filepath.Ext(identity))
	}
	res, err := normalize.Extract(normalize.Source{
		Identity: identity,
		Title:    title,
		URL:      ev.URL,
		Kind:     kind,
		Data:     data,
	}, normalize.Config{RowsPerSegment: s.rows})
	if err != nil {
		return err
	}

	var chunks []store.Chunk
	for _, seg := range res.Segments {
		for _, text := range s.splitter.Split(seg.Text) {
			chunks = append(chunks, store.Chunk{
				Content: text,
				Metadata: store.Metadata{
					Identity: identity,
					Title:    title,
					Schema:   seg.Schema,
					Price:    seg.Price,
					URL:      seg.URL,
					RowRange: seg.RowRange,
				},
			})
		}
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding %q: %w", identity, err)
		}
		if len(vecs) != len(chunks) {
			return fmt.Errorf("embedding %q: got %d vectors for %d chunks", identity, len(vecs), len(chunks))
		}
		for i := range chunks {
			chunks[i].Embedding = vecs[i]
		}
	}

	doc := store.Document{
		Identity: identity,
		Title:    title,
		URL:      res.URL,
		Kind:     string(kind),
		Schema:   res.Schema,
	}
	if err := s.index.Replace(ctx, doc, chunks); err != nil {
		return fmt.Errorf("storing %q: %w", identity, err)
	}

	s.logger.Info("document ingested", "identity", identity, "kind", kind, "chunks", len(chunks))
	return nil
}

// SyncAll reconciles the whole index with the source folder: every
// supported file is re-ingested and identities with no backing file
// are retired. Unsupported files are skipped.
func (s *Synchronizer) SyncAll(ctx context.Context) error {
	onDisk := make(map[string]struct{})
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		identity := filepath.ToSlash(rel)
		if _, err := normalize.DetectKind(identity, ""); err != nil {
			s.logger.Debug("ignoring unsupported file", "identity", identity)
			return nil
		}
		onDisk[identity] = struct{}{}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking source folder: %w", err)
	}

	indexed, err := s.index.Identities(ctx)
	if err != nil {
		return fmt.Errorf("listing indexed identities: %w", err)
	}

	var errs []error
	for identity := range onDisk {
		if err := s.Handle(ctx, Event{Identity: identity, Op: OpUpsert}); err != nil {
			errs = append(errs, fmt.Errorf("ingesting %q: %w", identity, err))
		}
	}
	for identity := range indexed {
		if _, ok := onDisk[identity]; ok {
			continue
		}
		if err := s.Handle(ctx, Event{Identity: identity, Op: OpDelete}); err != nil {
			errs = append(errs, fmt.Errorf("retiring %q: %w", identity, err))
		}
	}
	return errors.Join(errs...)
}
