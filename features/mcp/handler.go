package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docrag/internal/generation"
	"docrag/internal/middleware"
	"docrag/internal/pipeline"
	"docrag/internal/retrieval"
	"docrag/internal/rewrite"
)

const maxTopK = 20

type Service interface {
	Answer(ctx context.Context, question string, topK int, history []rewrite.Turn) (pipeline.Answer, error)
	Search(ctx context.Context, query string, topK int) ([]retrieval.Source, error)
}

type Handler struct {
	service      Service
	sessions     map[string]chan string // sessionId -> message channel (serialized JSON-RPC response)
	sessionsLock sync.RWMutex
}

func NewHandler(s Service) *Handler {
	return &Handler{
		service:  s,
		sessions: make(map[string]chan string),
	}
}

// JSON-RPC Request types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type AnswerArgs struct {
	Question string         `json:"question"`
	TopK     *int           `json:"top_k,omitempty"`
	History  []rewrite.Turn `json:"history,omitempty"`
}

type SearchArgs struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// JSON-RPC Response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603

	// ErrConfiguration is a server-defined code for missing credentials.
	ErrConfiguration = -32001
)

func topKSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Number of chunks to retrieve (default from TOP_K).",
		"minimum":     1,
		"maximum":     maxTopK,
	}
}

func tools() []Tool {
	return []Tool{
		{
			Name: "docrag_answer",
			Description: `Answers a question from the indexed PDF and DOCX documents. The answer cites its sources as [1], [2], matching the returned source list. Pass earlier turns as history so follow-ups like "how does it work?" are resolved.

USAGE EXAMPLE:
docrag_answer(question="What is self-attention?", top_k=4)`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]string{
						"type":        "string",
						"description": "The question to answer",
					},
					"top_k": topKSchema(),
					"history": map[string]interface{}{
						"type":        "array",
						"description": "Prior conversation turns, oldest first",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"role":    map[string]interface{}{"type": "string", "enum": []string{rewrite.RoleUser, rewrite.RoleAssistant}},
								"content": map[string]string{"type": "string"},
							},
						},
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name: "docrag_search",
			Description: `Returns the chunks nearest to a query without generating an answer, ordered by ascending cosine distance.

USAGE EXAMPLE:
docrag_search(query="high-risk AI systems obligations", top_k=8)`,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]string{
						"type":        "string",
						"description": "The search query",
					},
					"top_k": topKSchema(),
				},
				"required": []string{"query"},
			},
		},
	}
}

// processRequest processes the JSON-RPC request and returns a response.
// Returns nil if no response should be sent (e.g. for notifications).
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "docrag",
					"version": "1.0.0",
				},
			},
		}

	case "notifications/initialized":
		// Notifications must not generate a response
		return nil

	case "tools/list":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  ListToolsResult{Tools: tools()},
		}

	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}

		switch params.Name {
		case "docrag_answer":
			return h.callAnswer(ctx, req.ID, params.Arguments)
		case "docrag_search":
			return h.callSearch(ctx, req.ID, params.Arguments)
		}

		slog.WarnContext(ctx, "method not found", "method", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func validTopK(topK *int) (int, bool) {
	if topK == nil {
		return 0, true
	}
	if *topK < 1 || *topK > maxTopK {
		return 0, false
	}
	return *topK, true
}

func (h *Handler) callAnswer(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args AnswerArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		slog.WarnContext(ctx, "invalid answer arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid answer arguments")
		return &resp
	}
	if strings.TrimSpace(args.Question) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Question is required")
		return &resp
	}
	topK, ok := validTopK(args.TopK)
	if !ok {
		resp := makeErrorResponse(id, ErrInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", maxTopK))
		return &resp
	}

	ans, err := h.service.Answer(ctx, args.Question, topK, args.History)
	if err != nil {
		slog.ErrorContext(ctx, "answer failed", "error", err)
		if errors.Is(err, generation.ErrMissingAPIKey) {
			resp := makeErrorResponse(id, ErrConfiguration, err.Error())
			return &resp
		}
		return toolError(id, err)
	}

	var b strings.Builder
	b.WriteString(ans.Answer)
	if len(ans.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, s := range ans.Sources {
			b.WriteString(sourceLine(s))
		}
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "docrag_answer", "source_count", len(ans.Sources))
	return toolText(id, b.String())
}

func (h *Handler) callSearch(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args SearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		slog.WarnContext(ctx, "invalid search arguments", "error", err)
		resp := makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(id, ErrInvalidParams, "Query is required")
		return &resp
	}
	topK, ok := validTopK(args.TopK)
	if !ok {
		resp := makeErrorResponse(id, ErrInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", maxTopK))
		return &resp
	}

	sources, err := h.service.Search(ctx, args.Query, topK)
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		resp := makeErrorResponse(id, ErrInternal, "Search failed: "+err.Error())
		return &resp
	}

	var textResult string
	if len(sources) == 0 {
		textResult = "No results found."
	} else {
		var b strings.Builder
		for _, s := range sources {
			b.WriteString(sourceLine(s))
			b.WriteString(s.TextPreview)
			b.WriteString("\n---\n")
		}
		textResult = b.String()
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", "docrag_search", "result_count", len(sources))
	return toolText(id, textResult)
}

func sourceLine(s retrieval.Source) string {
	page := "n/a"
	if s.Page != nil {
		page = fmt.Sprint(*s.Page)
	}
	return fmt.Sprintf("[%d] %s (page %s, distance %.4f)\n", s.Rank, s.SourceFile, page, s.Distance)
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: text}},
		},
	}
}

func toolError(id interface{}, err error) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	} else {
		// Notification, just return OK
		w.WriteHeader(http.StatusOK)
	}
}

// HandleSSE establishes the SSE connection and manages the session
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	// Cleanup on disconnect
	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	// Absolute URL for client compatibility
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			// Keep-alive comment
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts POST messages associated with a session
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	slog.InfoContext(r.Context(), "mcp message received", "method", r.Method, "path", r.URL.Path)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.WarnContext(r.Context(), "missing sessionId in message request")
		h.writeHttpError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()

	if !exists {
		slog.WarnContext(r.Context(), "session not found", "session_id", sessionID)
		h.writeHttpError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.WarnContext(r.Context(), "invalid json in message request", "error", err)
		h.writeHttpError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keep values (correlation ID) but not the request's cancellation.
	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}

		h.deliver(bgCtx, sessionID, string(respBytes))
	}()
}

// deliver holds the read lock so the session cannot close mid-send.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}

	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC errors travel as 200 OK with an error object.
	w.WriteHeader(http.StatusOK)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeHttpError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	json.NewEncoder(w).Encode(resp)
}
