package worker

import "time"

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RebuildRequest is the body of an index.rebuild message. An empty body is
// a valid request.
type RebuildRequest struct {
	Reason        string `json:"reason,omitempty"`
	RequestedBy   string `json:"requested_by,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	// Retries counts manual retries of a previously failed rebuild.
	Retries int `json:"retries,omitempty"`
}

// RebuildResult is published on index.result after every attempt that
// reaches the builder.
type RebuildResult struct {
	Status        string    `json:"status"`
	Documents     int       `json:"documents"`
	Chunks        int       `json:"chunks"`
	Location      string    `json:"location,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
	Retryable     bool      `json:"retryable"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Retries       int       `json:"retries,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}
