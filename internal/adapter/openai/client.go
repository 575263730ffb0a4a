// Package openai talks to OpenAI-compatible endpoints: Ollama or OpenAI for
// embeddings, Groq for chat completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var ErrEmptyResponse = errors.New("model returned no choices")

func newClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

type Embedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder targets an /embeddings endpoint. Ollama ignores the key but
// the client still sends one, so an empty key is replaced with a placeholder.
func NewEmbedder(baseURL, apiKey, model string) *Embedder {
	if apiKey == "" {
		apiKey = "ollama"
	}
	return &Embedder{client: newClient(apiKey, baseURL), model: model}
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	slog.DebugContext(ctx, "embedding content", "model", e.model, "count", len(texts))

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// ChatClient issues single, non-streaming chat completions.
type ChatClient struct {
	client *openai.Client
	model  string
}

func NewChatClient(baseURL, apiKey, model string) *ChatClient {
	return &ChatClient{client: newClient(apiKey, baseURL), model: model}
}

func (c *ChatClient) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	// go-openai drops a zero temperature from the request body.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
