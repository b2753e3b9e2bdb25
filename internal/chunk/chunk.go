// Package chunk splits normalized text into bounded, semantically coherent
// segments suitable for embedding.
//
// Splitting is sentence-aligned where possible: text is first broken into
// sentences, then sentences are packed into chunks up to a hard rune cap.
// Adjacent chunks share a configurable overlap so that context spanning a
// chunk boundary is preserved in at least one chunk.
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Defaults, in runes.
const (
	DefaultMaxRunes = 1000
	DefaultOverlap  = 200
)

// sentenceRe matches sentence-like units ending in ., !, or ?.
var sentenceRe = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?]+)`)

// Splitter splits text into overlapping chunks.
type Splitter struct {
	maxRunes int
	overlap  int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithMaxRunes sets the hard length cap per chunk, in runes.
func WithMaxRunes(n int) Option {
	return func(s *Splitter) {
		if n > 0 {
			s.maxRunes = n
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks, in runes.
func WithOverlap(n int) Option {
	return func(s *Splitter) {
		if n >= 0 {
			s.overlap = n
		}
	}
}

// New creates a Splitter with the given options.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		maxRunes: DefaultMaxRunes,
		overlap:  DefaultOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Overlap must leave room for forward progress.
	if s.overlap >= s.maxRunes {
		s.overlap = s.maxRunes / 4
	}
	return s
}

// Split breaks text into chunks of at most maxRunes runes each.
// Whitespace-only input produces no chunks.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) <= s.maxRunes {
		return []string{trimmed}
	}

	sentences := sentenceRe.FindAllString(trimmed, -1)
	if len(sentences) == 0 {
		// No sentence boundaries at all; fall back to a hard split.
		return s.hardSplit(trimmed)
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))
		// Seed the next chunk with trailing sentences up to the overlap budget.
		var carry []string
		carryLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			n := utf8.RuneCountInString(current[i]) + 1
			if carryLen+n > s.overlap {
				break
			}
			carry = append([]string{current[i]}, carry...)
			carryLen += n
		}
		current = carry
		currentLen = carryLen
	}

	for _, sent := range sentences {
		n := utf8.RuneCountInString(sent)
		if n > s.maxRunes {
			// A single oversized sentence is hard-split on its own.
			flush()
			chunks = append(chunks, s.hardSplit(sent)...)
			current = nil
			currentLen = 0
			continue
		}
		if currentLen+n+1 > s.maxRunes {
			flush()
		}
		current = append(current, sent)
		currentLen += n + 1
	}
	if len(current) > 0 {
		// Avoid emitting an overlap-only tail that adds no new content.
		tail := strings.Join(current, " ")
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], tail) {
			chunks = append(chunks, tail)
		}
	}

	return chunks
}

// hardSplit cuts text into maxRunes windows advancing by maxRunes-overlap,
// used when no sentence boundaries exist.
func (s *Splitter) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.maxRunes - s.overlap
	if step <= 0 {
		step = s.maxRunes
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
