// Package generation asks the chat model for a grounded, cited answer.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docrag/internal/retrieval"
)

const temperature float32 = 0.2

// ErrMissingAPIKey is returned before any network call when no model
// credential is configured.
var ErrMissingAPIKey = errors.New("GROQ_API_KEY is missing. Add it to your .env")

type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)
}

type Generator struct {
	model Completer
}

// New returns a Generator; a nil model makes every Generate call fail with
// ErrMissingAPIKey.
func New(model Completer) *Generator {
	return &Generator{model: model}
}

// Generate sends question and the numbered context in a single call and
// returns the model output verbatim.
func (g *Generator) Generate(ctx context.Context, question string, results []retrieval.Result) (string, error) {
	if g.model == nil {
		return "", ErrMissingAPIKey
	}

	user := UserPrompt(question, BuildContext(results))

	// The first count loads the BPE ranks over the network; skip it unless
	// the line will be written.
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		if n, err := countTokens(systemPrompt, user); err == nil {
			slog.DebugContext(ctx, "prompt size", "tokens", n, "sources", len(results))
		}
	}

	answer, err := g.model.Complete(ctx, systemPrompt, user, temperature)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}
