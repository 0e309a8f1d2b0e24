package content

import "strings"

// chunkText splits text into chunks of roughly chunkPages pages each,
// breaking on paragraph boundaries so no sentence straddles two chunks.
func chunkText(text string, totalPages, chunkPages int) []Chunk {
	paragraphs := strings.Split(text, "\n\n")
	if len(paragraphs) == 0 {
		return nil
	}

	totalWords := len(strings.Fields(text))
	if totalWords == 0 {
		return nil
	}
	wordsPerChunk := totalWords * chunkPages / totalPages
	if wordsPerChunk <= 0 {
		wordsPerChunk = totalWords
	}

	var chunks []Chunk
	var b strings.Builder
	words := 0
	startPage := 1

	flush := func() {
		if b.Len() == 0 {
			return
		}
		endPage := startPage + chunkPages - 1
		if endPage > totalPages {
			endPage = totalPages
		}
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      strings.TrimSpace(b.String()),
			StartPage: startPage,
			EndPage:   endPage,
		})
		startPage = endPage + 1
		b.Reset()
		words = 0
	}

	for _, p := range paragraphs {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
		words += len(strings.Fields(p))
		if words >= wordsPerChunk {
			flush()
		}
	}
	flush()

	return chunks
}
