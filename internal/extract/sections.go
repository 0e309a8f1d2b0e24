package extract

import (
	"regexp"
	"strings"
)

// Section is a heading-delimited slice of a document.
type Section struct {
	Title     string
	Text      string
	StartPage int
}

var (
	numberedHeading = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S`)
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+\S`)
)

// isHeading applies the heading heuristics: markdown hashes, numbered
// outline entries, and short ALL-CAPS lines.
func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if markdownHeading.MatchString(trimmed) {
		return true
	}
	if numberedHeading.MatchString(trimmed) {
		return true
	}
	// ALL-CAPS lines of reasonable heading length.
	if len(trimmed) >= 3 && len(trimmed) <= 80 {
		hasLetter := false
		for _, r := range trimmed {
			if r >= 'a' && r <= 'z' {
				return false
			}
			if r >= 'A' && r <= 'Z' {
				hasLetter = true
			}
		}
		return hasLetter
	}
	return false
}

// SplitSections segments normalized text into heading-delimited sections.
// Text before the first heading becomes a section with an empty title.
// pageCount spreads estimated page numbers linearly over the text.
func SplitSections(text string, pageCount int) []Section {
	lines := strings.Split(text, "\n")
	if pageCount <= 0 {
		pageCount = 1
	}

	var sections []Section
	var current Section
	var body []string
	charOffset := 0
	totalChars := len(text)
	if totalChars == 0 {
		return nil
	}

	flush := func() {
		joined := strings.TrimSpace(strings.Join(body, "\n"))
		if joined == "" && current.Title == "" {
			return
		}
		current.Text = joined
		sections = append(sections, current)
	}

	pageAt := func(offset int) int {
		page := offset*pageCount/totalChars + 1
		if page > pageCount {
			page = pageCount
		}
		return page
	}

	current = Section{StartPage: 1}
	for _, line := range lines {
		if isHeading(line) {
			flush()
			current = Section{
				Title:     strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#")),
				StartPage: pageAt(charOffset),
			}
			body = body[:0]
		} else {
			body = append(body, line)
		}
		charOffset += len(line) + 1
	}
	flush()

	return sections
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+|\n`)

// SplitSentences breaks section text into sentences. Lines count as
// sentence boundaries so tabular content yields one candidate per row.
func SplitSentences(text string) []string {
	parts := sentenceEnd.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
