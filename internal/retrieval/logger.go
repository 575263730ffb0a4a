package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docrag/internal/middleware"
)

// QueryLogEntry records one retrieval: what was asked, how many chunks came
// back, the closest distance and which documents they were drawn from.
type QueryLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Query         string        `json:"query"`
	TopK          int           `json:"top_k"`
	NumResults    int           `json:"num_results"`
	BestDistance  *float64      `json:"best_distance,omitempty"`
	Sources       []string      `json:"sources,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	LatencyMs     int64         `json:"latency_ms"`
	CorrelationID string        `json:"correlation_id"`
}

// newQueryLogEntry summarises a finished retrieval. Results are ranked, so
// the first one carries the best distance.
func newQueryLogEntry(ctx context.Context, query string, topK int, results []Result, took time.Duration) QueryLogEntry {
	entry := QueryLogEntry{
		Query:         query,
		TopK:          topK,
		NumResults:    len(results),
		Duration:      took,
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if len(results) == 0 {
		return entry
	}
	best := results[0].Distance
	entry.BestDistance = &best
	entry.Sources = make([]string, 0, len(results))
	for _, res := range results {
		entry.Sources = append(entry.Sources, res.Metadata.SourceFile)
	}
	return entry
}

// QueryLogger appends retrieval records as newline-delimited JSON. A nil
// *QueryLogger drops everything.
type QueryLogger struct {
	mu    sync.Mutex
	enc   *json.Encoder
	close func() error
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{enc: json.NewEncoder(w), close: func() error { return nil }}
}

// NewFileQueryLogger opens the query log at path for appending, creating
// parent directories as needed. When mirror is non-nil every record is
// written there too.
func NewFileQueryLogger(path string, mirror io.Writer) (*QueryLogger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create query log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from QUERY_LOG_PATH
	if err != nil {
		return nil, fmt.Errorf("open query log: %w", err)
	}

	var w io.Writer = f
	if mirror != nil {
		w = io.MultiWriter(f, mirror)
	}
	l := NewQueryLogger(w)
	l.close = f.Close
	return l, nil
}

// Log stamps the record in UTC and writes it. Write failures are reported
// through slog and never reach the caller.
func (l *QueryLogger) Log(entry QueryLogEntry) {
	if l == nil {
		return
	}
	entry.Timestamp = time.Now().UTC()
	entry.LatencyMs = entry.Duration.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(entry); err != nil {
		slog.Error("failed to write query log entry", "query", entry.Query, "error", err)
	}
}

// Close releases the underlying file, if any.
func (l *QueryLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.close()
}
