package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"docrag/internal/config"
)

// ErrNoPublisher is returned by Retry when the rebuild worker is disabled.
var ErrNoPublisher = errors.New("no rebuild queue configured")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Retry republishes the job's rebuild request with its retry count bumped,
// then removes it from the log. A later failure is recorded as a new job.
func (s *Service) Retry(ctx context.Context, id string) error {
	if s.pub == nil {
		return ErrNoPublisher
	}

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["retries"] = job.Retries + 1
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// nsq.Producer.Publish has no context; don't let it outlive the request.
	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicIndexRebuild, body)
	}()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "requeued failed rebuild", "job_id", id, "retries", job.Retries+1)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
