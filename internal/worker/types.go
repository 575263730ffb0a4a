package worker

import (
	"context"

	"docrag/internal/index"
)

type Rebuilder interface {
	Rebuild(ctx context.Context) (index.Summary, error)
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}
