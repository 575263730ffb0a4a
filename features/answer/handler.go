package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"docrag/internal/generation"
	"docrag/internal/middleware"
	"docrag/internal/pipeline"
	"docrag/internal/retrieval"
	"docrag/internal/rewrite"
)

const maxBodyBytes = 1 << 20

type Service interface {
	Answer(ctx context.Context, question string, topK int, history []rewrite.Turn) (pipeline.Answer, error)
	Search(ctx context.Context, query string, topK int) ([]retrieval.Source, error)
}

type Turn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

type AnswerRequest struct {
	Question string `json:"question" validate:"required"`
	TopK     int    `json:"top_k" validate:"omitempty,min=1,max=20"`
	History  []Turn `json:"history" validate:"omitempty,dive"`
}

type SearchRequest struct {
	Query string `json:"query" validate:"required"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1,max=20"`
}

type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(s Service) *Handler {
	return &Handler{service: s, validate: validator.New()}
}

func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AnswerRequest
	if !h.decode(w, r, &req) {
		return
	}

	history := make([]rewrite.Turn, 0, len(req.History))
	for _, t := range req.History {
		history = append(history, rewrite.Turn{Role: t.Role, Content: t.Content})
	}

	ans, err := h.service.Answer(ctx, req.Question, req.TopK, history)
	if err != nil {
		slog.ErrorContext(ctx, "answer failed", "error", err)
		if errors.Is(err, generation.ErrMissingAPIKey) {
			h.writeError(ctx, w, "CONFIGURATION_ERROR", err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to answer question", http.StatusInternalServerError)
		return
	}

	h.writeData(ctx, w, ans)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SearchRequest
	if !h.decode(w, r, &req) {
		return
	}

	sources, err := h.service.Search(ctx, req.Query, req.TopK)
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to search collection", http.StatusInternalServerError)
		return
	}

	h.writeData(ctx, w, sources)
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid JSON body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", e.Field(), e.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
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
