// Package collection defines the vector collection contract and its local
// SQLite implementation.
package collection

import (
	"context"
	"fmt"
	"math"
	"sort"

	"docrag/internal/document"
)

// Record is one indexed chunk.
type Record struct {
	ID       string
	Text     string
	Metadata document.Metadata
	Vector   []float32
}

// Match is a record returned by a nearest-neighbour query. Distance is the
// cosine distance to the query vector; lower is closer.
type Match struct {
	ID       string
	Text     string
	Metadata document.Metadata
	Distance float64
}

// Store is a single named collection. Replace swaps the whole content in one
// step, so readers see either the old or the new index, never a mix.
type Store interface {
	Replace(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Location() string
	Close() error
}

// RecordID derives a deterministic identifier from the chunk's source, page
// and its position in the build.
func RecordID(md document.Metadata, position int) string {
	return fmt.Sprintf("%s-%s-%d", md.SourceFile, md.PageLabel(), position)
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant
// from everything but themselves.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

// SortByDistance orders matches closest first; ties keep ID order so that
// repeated queries are stable.
func SortByDistance(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
}
