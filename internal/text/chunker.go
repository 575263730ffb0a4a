package text

import (
	"strings"
	"unicode"

	"docrag/internal/document"
)

// Chunk is a bounded window of a Document's text. Ordinal is the window's
// position within its Document.
type Chunk struct {
	Text     string
	Metadata document.Metadata
	Ordinal  int
}

// ChunkDocuments splits every document into overlapping windows, preserving
// document order and reading order within each document.
func ChunkDocuments(docs []document.Document, size, overlap int) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		for i, part := range ChunkText(doc.Text, size, overlap) {
			chunks = append(chunks, Chunk{
				Text:     part,
				Metadata: doc.Metadata,
				Ordinal:  i,
			})
		}
	}
	return chunks
}

// ChunkText cuts text into windows of at most size runes. Each window after
// the first starts exactly overlap runes before the previous window's end,
// so dropping that prefix from every later window and concatenating gives
// back the input. A window end moves back to the last whitespace when the
// window stays longer than both half its size and the overlap; otherwise the
// cut is hard. Whitespace-only windows are dropped.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	n := len(runes)
	if n <= size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var out []string
	start := 0
	for {
		end := start + size
		if end > n {
			end = n
		}
		if end < n {
			if cut := lastSpace(runes[start:end]); cut > size/2 && cut > overlap {
				end = start + cut
			}
		}

		if part := string(runes[start:end]); strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
		if end >= n {
			break
		}
		start = end - overlap
	}

	return out
}

// lastSpace returns the length of the longest prefix of window ending in
// whitespace, or 0 when there is none.
func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}
	return 0
}
