package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"docrag/features/job"
	"docrag/internal/middleware"
)

const resultHandlerName = "rebuild-worker"

// ResultConsumer reads index.result and records rebuilds that failed for
// good, so they can be retried by hand.
type ResultConsumer struct {
	jobRepo job.Repository
}

func NewResultConsumer(j job.Repository) *ResultConsumer {
	return &ResultConsumer{jobRepo: j}
}

func (h *ResultConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var res RebuildResult
	if err := json.Unmarshal(m.Body, &res); err != nil {
		slog.Error("poison pill: invalid rebuild result", "error", err)
		return nil
	}

	correlationID := res.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if res.Status != StatusFailed {
		slog.InfoContext(ctx, "rebuild succeeded", "documents", res.Documents, "chunks", res.Chunks, "duration_ms", res.DurationMs)
		return nil
	}
	if res.Retryable {
		// NSQ still owns this one.
		slog.WarnContext(ctx, "rebuild attempt failed, awaiting redelivery", "error", res.Error)
		return nil
	}

	payload, err := json.Marshal(RebuildRequest{
		Reason:        res.Reason,
		RequestedBy:   "retry",
		CorrelationID: res.CorrelationID,
		Retries:       res.Retries,
	})
	if err != nil {
		return err
	}

	failed := &job.Job{
		CorrelationID: res.CorrelationID,
		Handler:       resultHandlerName,
		Reason:        res.Reason,
		Payload:       payload,
		Error:         res.Error,
		Retries:       res.Retries,
	}
	if err := h.jobRepo.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return err
	}
	slog.InfoContext(ctx, "saved failed rebuild for retry", "job_id", failed.ID)
	return nil
}
