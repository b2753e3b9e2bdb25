package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Default model and call settings. The embedding dimensionality must
// match the vector column width of the chunk table.
const (
	DefaultEmbedModel    = "gemini-embedding-001"
	DefaultGenerateModel = "gemini-2.5-flash"
	DefaultDimension     = 768

	// EmbedTimeout bounds one embedding batch call.
	EmbedTimeout = 30 * time.Second
	// GenerateTimeout bounds one answer generation call.
	GenerateTimeout = 60 * time.Second

	// defaultRPS limits outbound model calls. Free-tier Gemini quotas
	// are low; sync bursts after a folder change would trip them.
	defaultRPS = 2
)

// Gemini implements Embedder and Generator against the Gemini API.
//
// A single rate limiter covers both call types so sync traffic and
// interactive queries share one quota budget.
type Gemini struct {
	client        *genai.Client
	embedModel    string
	generateModel string
	dimension     int32
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// Option configures a Gemini client.
type Option func(*Gemini)

// WithEmbedModel overrides the embedding model.
func WithEmbedModel(model string) Option {
	return func(g *Gemini) {
		if model != "" {
			g.embedModel = model
		}
	}
}

// WithGenerateModel overrides the generation model.
func WithGenerateModel(model string) Option {
	return func(g *Gemini) {
		if model != "" {
			g.generateModel = model
		}
	}
}

// WithDimension overrides the embedding dimensionality.
func WithDimension(dim int) Option {
	return func(g *Gemini) {
		if dim > 0 {
			g.dimension = int32(dim)
		}
	}
}

// WithRateLimit overrides the outbound requests-per-second cap.
func WithRateLimit(rps float64) Option {
	return func(g *Gemini) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gemini) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGemini creates a Gemini client authenticated with the given API key.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	g := &Gemini{
		client:        client,
		embedModel:    DefaultEmbedModel,
		generateModel: DefaultGenerateModel,
		dimension:     DefaultDimension,
		limiter:       rate.NewLimiter(rate.Limit(defaultRPS), 1),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Dimension returns the configured embedding dimensionality.
func (g *Gemini) Dimension() int {
	return int(g.dimension)
}

// Embed embeds a batch of texts. The result has exactly one vector per
// input in input order; any other response shape is an error and the
// whole batch must be retried or abandoned by the caller.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dim := g.dimension
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents,
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return nil, classify(fmt.Errorf("embedding %d texts: %w", len(texts), err))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Generate produces one grounded answer.
func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	contents := buildContents(req)
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.generateModel, contents, cfg)
	if err != nil {
		return "", classify(fmt.Errorf("generating answer: %w", err))
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return text, nil
}

// buildContents lays out history, grounding, and the current query as
// model input. Grounding is attached to the final user turn so the
// model sees it next to the question it must answer.
func buildContents(req GenerateRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		var role genai.Role = genai.RoleUser
		if m.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(finalTurn(req), genai.RoleUser))
	return contents
}

// finalTurn renders the current query together with its grounding block.
func finalTurn(req GenerateRequest) string {
	if len(req.Grounding) == 0 {
		return req.Query
	}
	var b []byte
	b = append(b, "Knowledge base results:\n"...)
	for i, gText := range req.Grounding {
		b = append(b, fmt.Sprintf("[%d] %s\n", i+1, gText)...)
	}
	b = append(b, "\nQuestion: "...)
	b = append(b, req.Query...)
	return string(b)
}
