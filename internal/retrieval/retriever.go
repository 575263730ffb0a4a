package retrieval

import (
	"context"
	"fmt"
	"time"

	"docrag/internal/collection"
	"docrag/internal/document"
)

const (
	previewRunes  = 350
	unknownSource = "unknown"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Query(ctx context.Context, vector []float32, k int) ([]collection.Match, error)
}

// Result is one ranked match; Rank starts at 1 for the closest chunk.
type Result struct {
	Rank     int               `json:"rank"`
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata document.Metadata `json:"metadata"`
	Distance float64           `json:"distance"`
}

// Source is the citation-oriented projection of a Result.
type Source struct {
	Rank        int     `json:"rank"`
	SourceFile  string  `json:"source_file"`
	Page        *int    `json:"page"`
	Distance    float64 `json:"distance"`
	TextPreview string  `json:"text_preview"`
}

type Retriever struct {
	embedder Embedder
	store    VectorStore
	logger   *QueryLogger
}

func NewRetriever(e Embedder, s VectorStore, l *QueryLogger) *Retriever {
	return &Retriever{embedder: e, store: s, logger: l}
}

// Retrieve returns up to topK results ordered by ascending distance with
// duplicate record IDs removed.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	start := time.Now()
	var results []Result
	var err error

	defer func() {
		if err == nil {
			r.logger.Log(newQueryLogEntry(ctx, query, topK, results, time.Since(start)))
		}
	}()

	if topK <= 0 {
		return []Result{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := r.store.Query(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	results = rank(matches, topK)
	return results, nil
}

func rank(matches []collection.Match, topK int) []Result {
	sorted := make([]collection.Match, len(matches))
	copy(sorted, matches)
	collection.SortByDistance(sorted)

	seen := make(map[string]bool, len(sorted))
	out := make([]Result, 0, len(sorted))
	for _, m := range sorted {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, Result{
			Rank:     len(out) + 1,
			ID:       m.ID,
			Text:     m.Text,
			Metadata: m.Metadata,
			Distance: m.Distance,
		})
		if len(out) == topK {
			break
		}
	}
	return out
}

// ToSources projects results for display and citation.
func ToSources(results []Result) []Source {
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		file := r.Metadata.SourceFile
		if file == "" {
			file = unknownSource
		}
		sources = append(sources, Source{
			Rank:        r.Rank,
			SourceFile:  file,
			Page:        r.Metadata.Page,
			Distance:    r.Distance,
			TextPreview: preview(r.Text),
		})
	}
	return sources
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}
