// Package ai defines the model-facing interfaces of the assistant and
// their Gemini implementations. Consumers depend on the interfaces;
// construction of the concrete client happens once at wiring time.
package ai

import "context"

// Embedder turns text into vector embeddings.
//
// Embed is batch-shaped: the response carries exactly one vector per
// input, in input order, or the whole call fails. Callers never receive
// a partially embedded batch.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Message is one conversational turn handed to the generator.
type Message struct {
	Role string // "user" or "model"
	Text string
}

// GenerateRequest carries everything the generator may condition on.
type GenerateRequest struct {
	// System is the standing instruction prefixed to every call.
	System string
	// History holds prior turns, oldest first.
	History []Message
	// Query is the current user message.
	Query string
	// Grounding is retrieved knowledge the answer must stay within.
	// Empty when retrieval produced no qualifying results; the prompt
	// then instructs the model to say so rather than invent listings.
	Grounding []string
}

// Generator produces a conversational answer from a grounded request.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
