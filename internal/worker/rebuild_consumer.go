package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docrag/internal/config"
	"docrag/internal/index"
	"docrag/internal/middleware"
)

const defaultRebuildTimeout = 30 * time.Minute

// MaxRebuildAttempts bounds NSQ redelivery. The last attempt is reported as
// not retryable so the failure lands in the failed job log.
const MaxRebuildAttempts = 5

// RebuildConsumer runs index rebuilds requested over NSQ and reports the
// outcome on the result topic.
type RebuildConsumer struct {
	builder   Rebuilder
	publisher Publisher
	timeout   time.Duration
}

func NewRebuildConsumer(b Rebuilder, p Publisher) *RebuildConsumer {
	return &RebuildConsumer{builder: b, publisher: p, timeout: defaultRebuildTimeout}
}

func (h *RebuildConsumer) HandleMessage(m *nsq.Message) error {
	var req RebuildRequest
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &req); err != nil {
			// Poison pill: invalid JSON, don't retry
			slog.Error("poison pill: invalid json", "error", err)
			return nil
		}
	}

	ctx := context.Background()
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	ctx = middleware.WithCorrelationID(ctx, req.CorrelationID)

	rebuildCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	slog.InfoContext(ctx, "rebuild requested", "reason", req.Reason, "requested_by", req.RequestedBy, "attempt", m.Attempts)

	start := time.Now()
	summary, err := h.builder.Rebuild(rebuildCtx)

	result := RebuildResult{
		CorrelationID: req.CorrelationID,
		Reason:        req.Reason,
		Retries:       req.Retries,
		DurationMs:    time.Since(start).Milliseconds(),
		FinishedAt:    time.Now().UTC(),
	}

	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.Documents = summary.Documents
		result.Chunks = summary.Chunks
		result.Location = summary.Location
		slog.InfoContext(ctx, "rebuild finished", "documents", summary.Documents, "chunks", summary.Chunks)
		h.publish(ctx, result)
		return nil

	case errors.Is(err, index.ErrRebuildInProgress):
		// Another rebuild holds the builder; requeue quietly.
		slog.WarnContext(ctx, "rebuild already running, requeueing")
		return err

	default:
		var missing *index.MissingInputError
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Retryable = !errors.As(err, &missing) && m.Attempts < MaxRebuildAttempts
		h.publish(ctx, result)

		if !result.Retryable {
			slog.ErrorContext(ctx, "rebuild failed, not retrying", "error", err)
			return nil
		}
		slog.ErrorContext(ctx, "rebuild failed", "error", err)
		return err // Retry
	}
}

func (h *RebuildConsumer) publish(ctx context.Context, result RebuildResult) {
	if h.publisher == nil {
		return
	}
	body, err := json.Marshal(result)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode rebuild result", "error", err)
		return
	}
	if err := h.publisher.Publish(config.TopicIndexResult, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish rebuild result", "error", err)
	}
}

// RequestRebuild enqueues a rebuild on the index.rebuild topic.
func RequestRebuild(ctx context.Context, p Publisher, reason string) error {
	req := RebuildRequest{Reason: reason, RequestedBy: "docrag"}
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok {
		req.CorrelationID = id
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := p.Publish(config.TopicIndexRebuild, body); err != nil {
		return fmt.Errorf("publish %s: %w", config.TopicIndexRebuild, err)
	}
	return nil
}
