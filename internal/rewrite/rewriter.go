// Package rewrite turns follow-up questions into standalone retrieval
// queries. The rewritten query is only ever used for retrieval.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"docrag/internal/retrieval"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	maxHeuristicTokens = 6
	maxTranscriptTurns = 8
	maxRewriteChars    = 300
)

const systemPrompt = "Rewrite the user's latest message into a SINGLE standalone retrieval query.\n" +
	"Resolve references like 'it/that/this' using the conversation.\n" +
	"Do NOT ask for more context.\n" +
	"Do NOT answer.\n" +
	"Output ONLY the rewritten query text."

var pronouns = map[string]bool{
	"it": true, "this": true, "that": true, "they": true, "those": true, "these": true,
	"he": true, "she": true, "them": true, "its": true, "their": true,
}

// Turn is one conversation message. History is owned by the caller.
type Turn struct {
	Role           string             `json:"role" yaml:"role"`
	Content        string             `json:"content" yaml:"content"`
	Sources        []retrieval.Source `json:"sources,omitempty" yaml:"-"`
	RewrittenQuery string             `json:"rewritten_query,omitempty" yaml:"-"`
}

// Completer is a single-shot chat model.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)
}

type Rewriter struct {
	model Completer
}

// New returns a Rewriter. A nil model disables the model-assisted path.
func New(model Completer) *Rewriter {
	return &Rewriter{model: model}
}

// Rewrite never returns an empty string for a non-empty question. Model
// failures are returned to the caller; an empty or overlong model answer
// falls back to the question.
func (r *Rewriter) Rewrite(ctx context.Context, question string, history []Turn) (string, error) {
	uq := strings.TrimSpace(question)
	if uq == "" {
		return uq, nil
	}

	prior := priorTurns(uq, history)
	if len(prior) == 0 {
		return uq, nil
	}

	if isShortPronounQuestion(uq) {
		if topic := lastUserTopic(prior); topic != "" {
			return fmt.Sprintf("%s (referring to: %s)", uq, topic), nil
		}
	}

	if r.model == nil {
		return uq, nil
	}

	out, err := r.model.Complete(ctx, systemPrompt, userPrompt(uq, prior), 0)
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w", err)
	}

	rewritten := strings.TrimSpace(out)
	if rewritten == "" || utf8.RuneCountInString(rewritten) > maxRewriteChars {
		slog.DebugContext(ctx, "discarding unusable rewrite", "length", len(rewritten))
		return uq, nil
	}
	return rewritten, nil
}

// priorTurns copies history, dropping a trailing user turn that repeats the
// current question.
func priorTurns(question string, history []Turn) []Turn {
	prior := make([]Turn, len(history))
	copy(prior, history)

	if n := len(prior); n > 0 {
		last := prior[n-1]
		if last.Role == RoleUser && strings.TrimSpace(last.Content) == question {
			prior = prior[:n-1]
		}
	}
	return prior
}

func tokens(question string) []string {
	fields := strings.Fields(question)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(strings.Trim(f, "?.!,")))
	}
	return out
}

func isShortPronounQuestion(question string) bool {
	toks := tokens(question)
	if len(toks) > maxHeuristicTokens {
		return false
	}
	for _, t := range toks {
		if pronouns[t] {
			return true
		}
	}
	return false
}

func lastUserTopic(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != RoleUser {
			continue
		}
		if text := strings.TrimSpace(history[i].Content); text != "" {
			return text
		}
	}
	return ""
}

func transcript(history []Turn) string {
	recent := history
	if len(recent) > maxTranscriptTurns {
		recent = recent[len(recent)-maxTranscriptTurns:]
	}

	lines := make([]string, 0, len(recent))
	for _, t := range recent {
		if t.Content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(t.Role), t.Content))
	}
	return strings.Join(lines, "\n")
}

func userPrompt(question string, history []Turn) string {
	return fmt.Sprintf("Conversation:\n%s\n\nLatest user message:\n%s\n\nStandalone retrieval query:", transcript(history), question)
}
