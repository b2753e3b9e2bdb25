package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/casadex/casadex/internal/ai"
	"github.com/casadex/casadex/internal/log"
	"github.com/casadex/casadex/internal/retrieval"
	"github.com/casadex/casadex/internal/session"
	"github.com/casadex/casadex/internal/store"
)

type fakeRetriever struct {
	results []store.Result
	err     error
	queries []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, _ *store.Metadata) ([]store.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type fakeGenerator struct {
	reply string
	err   error
	last  ai.GenerateRequest
}

func (f *fakeGenerator) Generate(_ context.Context, req ai.GenerateRequest) (string, error) {
	f.last = req
	return f.reply, f.err
}

func newService(t *testing.T, r Retriever, g ai.Generator, h session.History) *Service {
	t.Helper()
	s, err := New(r, g, h, WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestAskGroundedAnswer(t *testing.T) {
	retr := &fakeRetriever{results: []store.Result{{
		Content:  "Price: 250000; Location: Lisbon",
		Metadata: store.Metadata{Price: "250000", URL: "https://example.com/a"},
	}}}
	gen := &fakeGenerator{reply: "One match: a Lisbon flat at 250000."}
	hist := session.NewMemoryHistory()

	s := newService(t, retr, gen, hist)
	reply, err := s.Ask(context.Background(), "s1", "flats in lisbon?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != gen.reply {
		t.Errorf("reply = %q", reply)
	}

	if len(gen.last.Grounding) != 1 {
		t.Fatalf("got %d grounding entries, want 1", len(gen.last.Grounding))
	}
	g := gen.last.Grounding[0]
	if !strings.Contains(g, "price: 250000") || !strings.Contains(g, "url: https://example.com/a") {
		t.Errorf("grounding missing citable facts:\n%s", g)
	}

	turns, err := hist.Recent(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns recorded, want 2", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[1].Role != session.RoleModel {
		t.Errorf("turn roles = %q, %q; want user then model", turns[0].Role, turns[1].Role)
	}
}

func TestAskNoQualifyingResults(t *testing.T) {
	retr := &fakeRetriever{err: retrieval.ErrNoQualifyingResults}
	gen := &fakeGenerator{reply: "No matching listings were found."}

	s := newService(t, retr, gen, session.NewMemoryHistory())
	reply, err := s.Ask(context.Background(), "s1", "castles under 100?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != gen.reply {
		t.Errorf("reply = %q", reply)
	}

	// The model gets an explicit no-results notice, not an empty block.
	if len(gen.last.Grounding) != 1 || !strings.Contains(gen.last.Grounding[0], "no qualifying listings") {
		t.Errorf("grounding = %v, want explicit no-results notice", gen.last.Grounding)
	}
}

func TestAskCarriesHistory(t *testing.T) {
	hist := session.NewMemoryHistory()
	ctx := context.Background()
	_ = hist.Append(ctx, "s1", session.Turn{Role: session.RoleUser, Content: "earlier question"})
	_ = hist.Append(ctx, "s1", session.Turn{Role: session.RoleModel, Content: "earlier answer"})

	gen := &fakeGenerator{reply: "ok"}
	s := newService(t, &fakeRetriever{err: retrieval.ErrNoQualifyingResults}, gen, hist)

	if _, err := s.Ask(ctx, "s1", "and now?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(gen.last.History) != 2 {
		t.Fatalf("got %d history messages, want 2", len(gen.last.History))
	}
	if gen.last.History[0].Text != "earlier question" {
		t.Errorf("history[0] = %q", gen.last.History[0].Text)
	}
}

func TestAskRetrievalFailure(t *testing.T) {
	wantErr := errors.New("store down")
	s := newService(t, &fakeRetriever{err: wantErr}, &fakeGenerator{reply: "x"}, session.NewMemoryHistory())

	_, err := s.Ask(context.Background(), "s1", "anything")
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want wrapped retrieval error", err)
	}
}

func TestAskGeneratorFailureRecordsNothing(t *testing.T) {
	hist := session.NewMemoryHistory()
	gen := &fakeGenerator{err: errors.New("model down")}
	s := newService(t, &fakeRetriever{err: retrieval.ErrNoQualifyingResults}, gen, hist)

	if _, err := s.Ask(context.Background(), "s1", "anything"); err == nil {
		t.Fatal("expected generator error")
	}

	turns, _ := hist.Recent(context.Background(), "s1", 0)
	if len(turns) != 0 {
		t.Errorf("got %d turns after failed generation, want 0", len(turns))
	}
}

func TestAskEmptyQuery(t *testing.T) {
	s := newService(t, &fakeRetriever{}, &fakeGenerator{}, session.NewMemoryHistory())
	if _, err := s.Ask(context.Background(), "s1", ""); err == nil {
		t.Error("expected error for empty query")
	}
}
