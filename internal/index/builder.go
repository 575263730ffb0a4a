// Package index rebuilds the vector collection from the raw document
// directory.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"docrag/internal/collection"
	"docrag/internal/document"
	"docrag/internal/metrics"
	"docrag/internal/text"
)

var ErrRebuildInProgress = errors.New("index rebuild already in progress")

// MissingInputError means there is nothing to index. The existing
// collection is left untouched.
type MissingInputError struct {
	Dir    string
	Reason string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input in %s: %s", e.Dir, e.Reason)
}

type Summary struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Location  string        `json:"location"`
	Duration  time.Duration `json:"duration_ns"`
}

func (s Summary) String() string {
	return fmt.Sprintf("Built index | docs=%d chunks=%d db=%s", s.Documents, s.Chunks, s.Location)
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	RawDir       string
	ChunkSize    int
	ChunkOverlap int
}

type Builder struct {
	opts     Options
	embedder Embedder
	store    collection.Store
	guard    sync.Locker
	metrics  *metrics.Metrics
	running  atomic.Bool
}

// NewBuilder wires a builder. guard, when set, is held only while the
// collection is replaced; callers pass the write side of the lock their
// readers use.
func NewBuilder(opts Options, e Embedder, s collection.Store, guard sync.Locker, m *metrics.Metrics) *Builder {
	return &Builder{opts: opts, embedder: e, store: s, guard: guard, metrics: m}
}

// Running reports whether a rebuild is underway.
func (b *Builder) Running() bool {
	return b.running.Load()
}

// Rebuild loads, chunks and embeds every document, then replaces the
// collection in one step. Only one rebuild runs at a time.
func (b *Builder) Rebuild(ctx context.Context) (Summary, error) {
	if !b.running.CompareAndSwap(false, true) {
		b.metrics.ObserveRebuild(metrics.OutcomeBusy, 0)
		return Summary{}, ErrRebuildInProgress
	}
	defer b.running.Store(false)

	summary, err := b.rebuild(ctx)
	if err != nil {
		b.metrics.ObserveRebuild(metrics.OutcomeError, 0)
		return Summary{}, err
	}
	b.metrics.ObserveRebuild(metrics.OutcomeSuccess, summary.Chunks)
	return summary, nil
}

func (b *Builder) rebuild(ctx context.Context) (Summary, error) {
	start := time.Now()

	if err := b.checkInput(); err != nil {
		return Summary{}, err
	}

	docs, err := document.LoadDirectory(ctx, b.opts.RawDir)
	if err != nil {
		return Summary{}, err
	}
	if len(docs) == 0 {
		return Summary{}, &MissingInputError{Dir: b.opts.RawDir, Reason: "no .pdf or .docx found"}
	}

	chunks := text.ChunkDocuments(docs, b.opts.ChunkSize, b.opts.ChunkOverlap)
	slog.InfoContext(ctx, "documents chunked", "documents", len(docs), "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return Summary{}, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return Summary{}, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]collection.Record, len(chunks))
	for i, c := range chunks {
		records[i] = collection.Record{
			ID:       collection.RecordID(c.Metadata, i),
			Text:     c.Text,
			Metadata: c.Metadata,
			Vector:   vectors[i],
		}
	}

	if err := b.replace(ctx, records); err != nil {
		return Summary{}, fmt.Errorf("replace collection: %w", err)
	}

	summary := Summary{
		Documents: len(docs),
		Chunks:    len(records),
		Location:  b.store.Location(),
		Duration:  time.Since(start),
	}
	slog.InfoContext(ctx, "index rebuilt", "documents", summary.Documents, "chunks", summary.Chunks, "location", summary.Location, "duration", summary.Duration)
	return summary, nil
}

func (b *Builder) replace(ctx context.Context, records []collection.Record) error {
	if b.guard != nil {
		b.guard.Lock()
		defer b.guard.Unlock()
	}
	return b.store.Replace(ctx, records)
}

func (b *Builder) checkInput() error {
	info, err := os.Stat(b.opts.RawDir)
	if err != nil || !info.IsDir() {
		return &MissingInputError{Dir: b.opts.RawDir, Reason: "raw data folder does not exist"}
	}

	names, err := document.SupportedFiles(b.opts.RawDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", b.opts.RawDir, err)
	}
	if len(names) == 0 {
		return &MissingInputError{Dir: b.opts.RawDir, Reason: "no .pdf or .docx found"}
	}
	return nil
}
