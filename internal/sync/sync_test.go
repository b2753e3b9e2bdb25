package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"google.golang.org/genai"

	"github.com/casadex/casadex/internal/ai"
	"github.com/casadex/casadex/internal/log"
	"github.com/casadex/casadex/internal/store"
)

// fakeIndex records store calls and detects concurrent writes to the
// same identity.
type fakeIndex struct {
	mu       gosync.Mutex
	replaced map[string][]store.Chunk
	docs     map[string]store.Document
	deleted  []string
	active   map[string]bool
	overlap  bool
	ids      map[string]struct{}
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		replaced: make(map[string][]store.Chunk),
		docs:     make(map[string]store.Document),
		active:   make(map[string]bool),
		ids:      make(map[string]struct{}),
	}
}

func (f *fakeIndex) Replace(_ context.Context, doc store.Document, chunks []store.Chunk) error {
	f.mu.Lock()
	if f.active[doc.Identity] {
		f.overlap = true
	}
	f.active[doc.Identity] = true
	f.mu.Unlock()

	// Widen the race window so unserialized same-identity writes overlap.
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[doc.Identity] = false
	f.replaced[doc.Identity] = chunks
	f.docs[doc.Identity] = doc
	f.ids[doc.Identity] = struct{}{}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, identity)
	delete(f.ids, identity)
	return nil
}

func (f *fakeIndex) Identities(_ context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.ids))
	for id := range f.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// fakeEmbedder can fail a configured number of times before succeeding.
type fakeEmbedder struct {
	mu       gosync.Mutex
	calls    int
	failures int
	err      error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func writeSourceFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestHandleUpsertIngestsFile(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "listings.csv",
		"Price,Location,Link\n250000,Lisbon,https://example.com/a\n")

	idx := newFakeIndex()
	s, err := New(root, idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Handle(context.Background(), Event{Identity: "listings.csv", Op: OpUpsert}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	chunks, ok := idx.replaced["listings.csv"]
	if !ok {
		t.Fatal("Replace not called for listings.csv")
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Metadata.Price != "250000" {
		t.Errorf("price metadata = %q, want 250000", c.Metadata.Price)
	}
	if c.Metadata.URL != "https://example.com/a" {
		t.Errorf("url metadata = %q", c.Metadata.URL)
	}
	if c.Metadata.Identity != "listings.csv" {
		t.Errorf("identity metadata = %q", c.Metadata.Identity)
	}
	if len(c.Embedding) == 0 {
		t.Errorf("chunk not embedded")
	}
}

func TestHandleTextDocumentCarriesURL(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "brochure.txt",
		"Riverside flat, asking €450,000. See https://example.com/listing/9.")

	idx := newFakeIndex()
	s, err := New(root, idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Handle(context.Background(), Event{Identity: "brochure.txt", Op: OpUpsert}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	chunks := idx.replaced["brochure.txt"]
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	// Both completeness fields must be populated so the retrieval
	// filter can pass the record through.
	if chunks[0].Metadata.Price != "€450,000" {
		t.Errorf("price metadata = %q, want %q", chunks[0].Metadata.Price, "€450,000")
	}
	if chunks[0].Metadata.URL != "https://example.com/listing/9" {
		t.Errorf("url metadata = %q, want %q", chunks[0].Metadata.URL, "https://example.com/listing/9")
	}
	if doc := idx.docs["brochure.txt"]; doc.URL != "https://example.com/listing/9" {
		t.Errorf("document url = %q, want content link", doc.URL)
	}
}

func TestHandleEventMetadataUsed(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "notes.txt", "Cosy studio, €120,000, central location.")

	idx := newFakeIndex()
	s, err := New(root, idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ev := Event{
		Identity: "notes.txt",
		Op:       OpUpsert,
		Title:    "Studio in Baixa",
		URL:      "https://agency.example.com/studio-baixa",
	}
	if err := s.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	doc := idx.docs["notes.txt"]
	if doc.Title != "Studio in Baixa" {
		t.Errorf("title = %q, want event title", doc.Title)
	}
	if doc.URL != "https://agency.example.com/studio-baixa" {
		t.Errorf("document url = %q, want event url", doc.URL)
	}
	chunks := idx.replaced["notes.txt"]
	if len(chunks) != 1 || chunks[0].Metadata.URL != "https://agency.example.com/studio-baixa" {
		t.Errorf("chunk url not inherited from event: %+v", chunks)
	}
}

func TestHandleUnsupportedFormatSkipped(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "photo.jpg", "not really a photo")

	idx := newFakeIndex()
	s, err := New(root, idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Skips are not errors; the sync run keeps going.
	if err := s.Handle(context.Background(), Event{Identity: "photo.jpg", Op: OpUpsert}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(idx.replaced) != 0 {
		t.Errorf("unsupported file was ingested")
	}
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "doc.txt", "a brochure paragraph")

	emb := &fakeEmbedder{failures: 2, err: genai.APIError{Code: 503, Message: "unavailable"}}
	idx := newFakeIndex()
	s, err := New(root, idx, emb, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Handle(context.Background(), Event{Identity: "doc.txt", Op: OpUpsert}); err != nil {
		t.Fatalf("Handle after retries: %v", err)
	}
	if emb.calls != 3 {
		t.Errorf("embedder called %d times, want 3", emb.calls)
	}
	if _, ok := idx.replaced["doc.txt"]; !ok {
		t.Errorf("document not stored after successful retry")
	}
}

func TestHandleMalformedInputNotRetried(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "doc.txt", "content the model rejects")

	emb := &fakeEmbedder{failures: 10, err: fmt.Errorf("%w: oversized", ai.ErrMalformedInput)}
	idx := newFakeIndex()
	s, err := New(root, idx, emb, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Handle(context.Background(), Event{Identity: "doc.txt", Op: OpUpsert}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("embedder called %d times, want 1 (no retry on malformed input)", emb.calls)
	}
	if len(idx.replaced) != 0 {
		t.Errorf("rejected document was stored")
	}
}

func TestHandleDelete(t *testing.T) {
	idx := newFakeIndex()
	idx.ids["stale.csv"] = struct{}{}

	s, err := New(t.TempDir(), idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Handle(context.Background(), Event{Identity: "stale.csv", Op: OpDelete}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "stale.csv" {
		t.Errorf("deleted = %v, want [stale.csv]", idx.deleted)
	}
}

func TestHandleDuplicateEventsConverge(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "doc.txt", "same content")

	idx := newFakeIndex()
	s, err := New(root, idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Duplicate events fired concurrently must serialize and converge.
	var wg gosync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Handle(context.Background(), Event{Identity: "doc.txt", Op: OpUpsert}); err != nil {
				t.Errorf("Handle: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(idx.replaced) != 1 {
		t.Errorf("got %d identities, want 1", len(idx.replaced))
	}
	if idx.overlap {
		t.Errorf("same-identity writes overlapped")
	}

	// Lock entries are reference counted; with no event in flight the
	// table must be empty again.
	s.mu.Lock()
	remaining := len(s.locks)
	s.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d lock entries left after all events finished", remaining)
	}
}

func TestSyncAllReconciles(t *testing.T) {
	root := t.TempDir()
	writeSourceFile(t, root, "a.csv", "Price,Link\n100,https://example.com/a\n")
	writeSourceFile(t, root, "sub/b.txt", "a paragraph about a house")
	writeSourceFile(t, root, "ignore.jpg", "binary-ish")

	idx := newFakeIndex()
	idx.ids["removed.csv"] = struct{}{}

	s, err := New(root, idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	for _, want := range []string{"a.csv", "sub/b.txt"} {
		if _, ok := idx.replaced[want]; !ok {
			t.Errorf("%s not ingested", want)
		}
	}
	if _, ok := idx.replaced["ignore.jpg"]; ok {
		t.Errorf("unsupported file ingested")
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "removed.csv" {
		t.Errorf("deleted = %v, want [removed.csv]", idx.deleted)
	}
}

func TestRunProcessesEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	writeSourceFile(t, root, "a.txt", "first doc")
	writeSourceFile(t, root, "b.txt", "second doc")

	idx := newFakeIndex()
	s, err := New(root, idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	events := make(chan Event, 4)
	events <- Event{Identity: "a.txt", Op: OpUpsert}
	events <- Event{Identity: "b.txt", Op: OpUpsert}
	close(events)

	s.Run(context.Background(), events, 2)

	if len(idx.replaced) != 2 {
		t.Errorf("got %d ingested identities, want 2", len(idx.replaced))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	idx := newFakeIndex()
	s, err := New(t.TempDir(), idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event) // never closed
	done := make(chan struct{})
	go func() {
		s.Run(ctx, events, 2)
		close(done)
	}()

	cancel()
	<-done
}

func TestHandleUnknownOp(t *testing.T) {
	s, err := New(t.TempDir(), newFakeIndex(), &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Handle(context.Background(), Event{Identity: "x", Op: "rename"}); err == nil {
		t.Error("expected error for unknown op")
	}
}

func TestHandleMissingFileRetriesThenFails(t *testing.T) {
	idx := newFakeIndex()
	s, err := New(t.TempDir(), idx, &fakeEmbedder{}, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.Handle(context.Background(), Event{Identity: "missing.csv", Op: OpUpsert})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want wrapped os.ErrNotExist", err)
	}
}
