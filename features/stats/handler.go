package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docrag/internal/middleware"
)

type ChunkCounter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	store      ChunkCounter
	collection string
	backend    string
}

func NewHandler(store ChunkCounter, collection, backend string) *Handler {
	return &Handler{store: store, collection: collection, backend: backend}
}

type StatsResponse struct {
	Chunks     int    `json:"chunks"`
	Collection string `json:"collection"`
	Backend    string `json:"backend"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	count, err := h.store.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count chunks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Chunks:     count,
		Collection: h.collection,
		Backend:    h.backend,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
