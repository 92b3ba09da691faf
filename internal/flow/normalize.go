// Package flow implements the conversation flow engine: flow document
// normalization, option matching, per-conversation timers, and the
// state-transition algorithm that drives scripted WhatsApp conversations.
package flow

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText canonicalizes text for comparison: NFD decomposition,
// removal of combining diacritical marks, lowercasing, and trimming of
// surrounding whitespace. This is the single source of truth for equality in
// the engine; option labels, followup triggers, and inbound user text all go
// through it before any comparison.
func NormalizeText(text string) string {
	decomposed := norm.NFD.String(text)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(strings.ToLower(b.String()))
}
