// Package match provides text normalization and similarity scoring used
// for fact deduplication, conflict detection, and run diffing.
package match

import (
	"strings"
	"unicode"
)

// stopwords are dropped before tokenizing so boilerplate does not inflate
// similarity between unrelated items.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "for": true,
	"and": true, "or": true, "in": true, "on": true, "to": true,
	"is": true, "are": true, "with": true, "by": true, "at": true,
}

// Normalize lowercases s, strips punctuation, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case r == '.' && !lastSpace:
			// Keep dots inside version numbers ("v2.1.3").
			b.WriteRune(r)
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens returns the normalized, stopword-filtered token set of s.
func Tokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(Normalize(s)) {
		tok = strings.Trim(tok, ".")
		if tok == "" || stopwords[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}
