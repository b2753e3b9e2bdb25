// Package answer orchestrates one conversational exchange: load the
// session history, retrieve vetted knowledge, generate a grounded
// reply, and record both turns.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casadex/casadex/internal/ai"
	"github.com/casadex/casadex/internal/retrieval"
	"github.com/casadex/casadex/internal/session"
	"github.com/casadex/casadex/internal/store"
)

// DefaultHistoryLimit is how many prior turns accompany each query.
const DefaultHistoryLimit = 20

// systemPrompt pins the model to the retrieved results. The no-results
// branch is handled explicitly below, never left to model judgment.
const systemPrompt = `You are a real estate assistant answering from a curated listing knowledge base.
Only present listings that appear in the knowledge base results provided with the question.
Every listing you mention must include its price and its URL, taken verbatim from the results.
Never invent, estimate, or extrapolate listings, prices, or URLs.`

// noResultsNotice is sent as the grounding block when retrieval found
// nothing qualifying, so the model states that plainly.
const noResultsNotice = `The knowledge base returned no qualifying listings for this query.
Tell the user no matching listings were found. Do not suggest or invent any listing.`

// Retriever supplies vetted knowledge for a query. *retrieval.Filter
// satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter *store.Metadata) ([]store.Result, error)
}

// Service answers user queries over the knowledge base.
type Service struct {
	retriever    Retriever
	generator    ai.Generator
	history      session.History
	historyLimit int
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHistoryLimit sets how many prior turns are loaded per query.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service.
func New(retriever Retriever, generator ai.Generator, history session.History, opts ...Option) (*Service, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history is required")
	}

	s := &Service{
		retriever:    retriever,
		generator:    generator,
		history:      history,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ask answers one user query within a session. The query and the
// answer are appended to the session history on success, in that
// order, so the conversation replays chronologically.
func (s *Service) Ask(ctx context.Context, sessionID, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	turns, err := s.history.Recent(ctx, sessionID, s.historyLimit)
	if err != nil {
		return "", fmt.Errorf("loading history for session %q: %w", sessionID, err)
	}

	var grounding []string
	results, err := s.retriever.Retrieve(ctx, query, nil)
	switch {
	case errors.Is(err, retrieval.ErrNoQualifyingResults):
		grounding = []string{noResultsNotice}
		s.logger.Info("no qualifying results", "session", sessionID)
	case err != nil:
		return "", fmt.Errorf("retrieving knowledge: %w", err)
	default:
		grounding = make([]string, len(results))
		for i, r := range results {
			grounding[i] = renderResult(r)
		}
	}

	reply, err := s.generator.Generate(ctx, ai.GenerateRequest{
		System:    systemPrompt,
		History:   toMessages(turns),
		Query:     query,
		Grounding: grounding,
	})
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	// History is append-only; a failed append loses context for later
	// turns but must not fail the answer already produced.
	for _, turn := range []session.Turn{
		{Role: session.RoleUser, Content: query},
		{Role: session.RoleModel, Content: reply},
	} {
		if err := s.history.Append(ctx, sessionID, turn); err != nil {
			s.logger.Error("appending turn", "session", sessionID, "role", turn.Role, "error", err)
		}
	}

	return reply, nil
}

// renderResult lays out one retrieval hit for the prompt: content
// first, then the citable listing facts.
func renderResult(r store.Result) string {
	out := r.Content
	if r.Metadata.Schema != "" {
		out = r.Metadata.Schema + "\n" + out
	}
	return fmt.Sprintf("%s\nprice: %s\nurl: %s", out, r.Metadata.Price, r.Metadata.URL)
}

func toMessages(turns []session.Turn) []ai.Message {
	msgs := make([]ai.Message, len(turns))
	for i, t := range turns {
		msgs[i] = ai.Message{Role: t.Role, Text: t.Content}
	}
	return msgs
}
