package job

import (
	"encoding/json"
	"time"
)

// Job is a rebuild that failed without further automatic retries. Payload
// is the index.rebuild message to publish again on retry.
type Job struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Handler       string          `json:"handler"`
	Reason        string          `json:"reason"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	Retries       int             `json:"retries"`
	CreatedAt     time.Time       `json:"created_at"`
}
