// Package embedding batches and throttles calls to an embedding model.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// ErrDimensionMismatch is returned when a provider answers with a different
// number of vectors than it was asked for.
var ErrDimensionMismatch = errors.New("embedding count mismatch")

// Provider maps a batch of strings to one vector per string, in order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder is what the index builder and retriever depend on.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Batcher splits large inputs into fixed-size provider calls. A zero rate
// disables throttling.
type Batcher struct {
	provider  Provider
	batchSize int
	limiter   *rate.Limiter
}

func NewBatcher(p Provider, batchSize int, perSecond float64) *Batcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Batcher{provider: p, batchSize: batchSize, limiter: limiter}
}

func (b *Batcher) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))

		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := b.provider.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrDimensionMismatch, end-start, len(vecs))
		}
		slog.DebugContext(ctx, "embedded batch", "from", start, "to", end)
		out = append(out, vecs...)
	}
	return out, nil
}

func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
