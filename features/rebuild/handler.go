package rebuild

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"docrag/internal/index"
	"docrag/internal/middleware"
)

type Rebuilder interface {
	Rebuild(ctx context.Context) (index.Summary, error)
}

// Enqueuer hands a rebuild to the background worker.
type Enqueuer func(ctx context.Context, reason string) error

type RebuildRequest struct {
	Reason string `json:"reason" validate:"max=200"`
	Async  bool   `json:"async"`
}

type SummaryResponse struct {
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
	Location   string `json:"location"`
	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message"`
}

type Handler struct {
	builder  Rebuilder
	enqueue  Enqueuer
	validate *validator.Validate
}

// NewHandler builds the rebuild handler. enqueue may be nil, in which case
// async requests are rejected.
func NewHandler(b Rebuilder, enqueue Enqueuer) *Handler {
	return &Handler{builder: b, enqueue: enqueue, validate: validator.New()}
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RebuildRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "api"
	}

	if req.Async {
		h.rebuildAsync(ctx, w, req.Reason)
		return
	}

	summary, err := h.builder.Rebuild(ctx)
	if err != nil {
		var missing *index.MissingInputError
		switch {
		case errors.Is(err, index.ErrRebuildInProgress):
			h.writeError(ctx, w, "CONFLICT", err.Error(), http.StatusConflict)
		case errors.As(err, &missing):
			h.writeError(ctx, w, "MISSING_INPUT", err.Error(), http.StatusUnprocessableEntity)
		default:
			slog.ErrorContext(ctx, "rebuild failed", "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "index rebuild failed", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": SummaryResponse{
		Documents:  summary.Documents,
		Chunks:     summary.Chunks,
		Location:   summary.Location,
		DurationMs: summary.Duration.Milliseconds(),
		Message:    summary.String(),
	}})
}

func (h *Handler) rebuildAsync(ctx context.Context, w http.ResponseWriter, reason string) {
	if h.enqueue == nil {
		h.writeError(ctx, w, "UNAVAILABLE", "rebuild worker is not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.enqueue(ctx, reason); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue rebuild", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to enqueue rebuild", http.StatusInternalServerError)
		return
	}
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"status": "queued", "reason": reason},
	})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
