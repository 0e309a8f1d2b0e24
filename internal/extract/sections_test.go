package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsHeading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want bool
	}{
		{"# Overview", true},
		{"### Network Architecture", true},
		{"1. Introduction", true},
		{"2.3 Data Centers", true},
		{"4) Security Posture", true},
		{"NETWORK TOPOLOGY", true},
		{"IT ORGANIZATION", true},
		{"", false},
		{"The company runs SAP.", false},
		{"2024", false},
		{strings.Repeat("A", 81), false},
	}

	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isHeading(tc.line), "line %q", tc.line)
		})
	}
}

func TestSplitSections(t *testing.T) {
	t.Parallel()

	t.Run("heading delimited", func(t *testing.T) {
		t.Parallel()
		text := "Preamble text before any heading.\n" +
			"# Applications\n" +
			"The company runs SAP.\n" +
			"# Network\n" +
			"MPLS connects all sites.\n"

		sections := SplitSections(text, 1)
		require.Len(t, sections, 3)

		assert.Empty(t, sections[0].Title)
		assert.Contains(t, sections[0].Text, "Preamble")
		assert.Equal(t, "Applications", sections[1].Title)
		assert.Contains(t, sections[1].Text, "SAP")
		assert.Equal(t, "Network", sections[2].Title)
	})

	t.Run("page estimation spreads linearly", func(t *testing.T) {
		t.Parallel()
		var b strings.Builder
		b.WriteString("# First\n")
		b.WriteString(strings.Repeat("early text line\n", 50))
		b.WriteString("# Last\n")
		b.WriteString("final line\n")

		sections := SplitSections(b.String(), 10)
		require.Len(t, sections, 2)
		assert.Equal(t, 1, sections[0].StartPage)
		assert.Greater(t, sections[1].StartPage, sections[0].StartPage)
		assert.LessOrEqual(t, sections[1].StartPage, 10)
	})

	t.Run("no headings yields one section", func(t *testing.T) {
		t.Parallel()
		sections := SplitSections("just a paragraph of text", 1)
		require.Len(t, sections, 1)
		assert.Empty(t, sections[0].Title)
	})

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, SplitSections("", 1))
	})
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	t.Run("punctuation boundaries", func(t *testing.T) {
		t.Parallel()
		got := SplitSentences("First sentence. Second one! Third?")
		// Trailing terminator without following space leaves it attached.
		require.Len(t, got, 3)
		assert.Equal(t, "First sentence", got[0])
		assert.Equal(t, "Second one", got[1])
	})

	t.Run("newlines split rows", func(t *testing.T) {
		t.Parallel()
		got := SplitSentences("row one\trow data\nrow two\trow data")
		require.Len(t, got, 2)
	})

	t.Run("blank input", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, SplitSentences("   \n  "))
	})
}
