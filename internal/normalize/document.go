package normalize

import (
	"regexp"
	"strings"
)

// priceRe matches currency amounts in freeform listing text, either
// symbol-prefixed ("€250,000", "$1.200") or code-suffixed ("250000 EUR").
var priceRe = regexp.MustCompile(`(?i)(?:[€$£]\s?\d[\d.,]*|\d[\d.,]*\s?(?:EUR|USD|GBP))`)

// urlRe matches http(s) links embedded in freeform text.
var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// paragraphRe splits on one or more blank lines.
var paragraphRe = regexp.MustCompile(`\n\s*\n+`)

// extractDocument extracts linear text from a document/freeform source,
// preserving paragraph boundaries as segment hints. Each paragraph becomes
// one segment; price and URL, when present in the paragraph, are lifted
// into segment metadata so the retrieval filter can check completeness
// without re-scanning text. Paragraphs with no link of their own inherit
// the document URL.
func extractDocument(src Source) (*Result, error) {
	text := strings.ReplaceAll(string(src.Data), "\r\n", "\n")

	res := &Result{}
	for _, para := range paragraphRe.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		url := findURL(para)
		if url == "" {
			url = src.URL
		}
		res.Segments = append(res.Segments, Segment{
			Text: para,
			// Sentence punctuation is not part of the amount:
			// "asking €450,000." lifts "€450,000".
			Price: strings.TrimRight(priceRe.FindString(para), ".,"),
			URL:   url,
		})
	}
	return res, nil
}

// findURL returns the first link in the text, with sentence punctuation
// stripped ("see https://x.example/1." must not keep the period).
func findURL(text string) string {
	return strings.TrimRight(urlRe.FindString(text), ".,;:!?")
}
