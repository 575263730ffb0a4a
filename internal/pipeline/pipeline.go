// Package pipeline composes rewrite, retrieval and generation into one
// question-answering call.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docrag/internal/metrics"
	"docrag/internal/retrieval"
	"docrag/internal/rewrite"
)

type Rewriter interface {
	Rewrite(ctx context.Context, question string, history []rewrite.Turn) (string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, question string, results []retrieval.Result) (string, error)
}

type Answer struct {
	Answer         string             `json:"answer"`
	Sources        []retrieval.Source `json:"sources"`
	RewrittenQuery string             `json:"rewritten_query"`
}

// Pipeline is safe for concurrent use. Queries hold the read side of the
// collection lock; rebuilds take the write side through Guard.
type Pipeline struct {
	rewriter  Rewriter
	retriever Retriever
	generator Generator
	topK      int
	metrics   *metrics.Metrics

	mu sync.RWMutex
}

func New(rw Rewriter, rt Retriever, g Generator, defaultTopK int, m *metrics.Metrics) *Pipeline {
	return &Pipeline{rewriter: rw, retriever: rt, generator: g, topK: defaultTopK, metrics: m}
}

// Guard is the write side of the collection lock, for index.Builder.
func (p *Pipeline) Guard() sync.Locker {
	return &p.mu
}

// Answer rewrites question for retrieval, retrieves with the rewritten
// query and generates from the original question. history is read-only.
func (p *Pipeline) Answer(ctx context.Context, question string, topK int, history []rewrite.Turn) (Answer, error) {
	start := time.Now()

	if strings.TrimSpace(question) == "" {
		p.metrics.ObserveAnswer(metrics.OutcomeEmpty, time.Since(start))
		return Answer{Sources: []retrieval.Source{}}, nil
	}

	snapshot := make([]rewrite.Turn, len(history))
	copy(snapshot, history)

	rewritten, err := p.rewriter.Rewrite(ctx, question, snapshot)
	if err != nil {
		p.metrics.ObserveAnswer(metrics.OutcomeError, time.Since(start))
		return Answer{}, err
	}

	results, err := p.retrieve(ctx, rewritten, topK)
	if err != nil {
		p.metrics.ObserveAnswer(metrics.OutcomeError, time.Since(start))
		return Answer{}, err
	}

	text, err := p.generator.Generate(ctx, question, results)
	if err != nil {
		p.metrics.ObserveAnswer(metrics.OutcomeError, time.Since(start))
		return Answer{}, err
	}

	slog.InfoContext(ctx, "question answered", "sources", len(results), "rewritten", rewritten != strings.TrimSpace(question), "duration", time.Since(start))
	p.metrics.ObserveAnswer(metrics.OutcomeSuccess, time.Since(start))

	return Answer{
		Answer:         text,
		Sources:        retrieval.ToSources(results),
		RewrittenQuery: rewritten,
	}, nil
}

// Search runs retrieval alone.
func (p *Pipeline) Search(ctx context.Context, query string, topK int) ([]retrieval.Source, error) {
	if strings.TrimSpace(query) == "" {
		return []retrieval.Source{}, nil
	}
	results, err := p.retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return retrieval.ToSources(results), nil
}

func (p *Pipeline) retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error) {
	if topK <= 0 {
		topK = p.topK
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.retriever.Retrieve(ctx, query, topK)
}
