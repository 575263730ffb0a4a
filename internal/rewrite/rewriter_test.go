package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCompleter struct{ mock.Mock }

func (m *MockCompleter) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	args := m.Called(ctx, system, user, temperature)
	return args.String(0), args.Error(1)
}

func rewriteOK(t *testing.T, r *Rewriter, question string, history []Turn) string {
	t.Helper()
	got, err := r.Rewrite(context.Background(), question, history)
	require.NoError(t, err)
	return got
}

func user(s string) Turn      { return Turn{Role: RoleUser, Content: s} }
func assistant(s string) Turn { return Turn{Role: RoleAssistant, Content: s} }

func TestRewrite_HeuristicResolvesPronoun(t *testing.T) {
	model := new(MockCompleter)
	r := New(model)

	history := []Turn{
		user("What is self-attention?"),
		assistant("Self-attention relates positions of a sequence [1]."),
	}

	got := rewriteOK(t, r, "why is it important?", history)

	assert.Equal(t, "why is it important? (referring to: What is self-attention?)", got)
	assert.Contains(t, got, "why is it important?")
	assert.Contains(t, got, "What is self-attention?")
	assert.Contains(t, strings.ToLower(got), "self-attention")
	model.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRewrite_SkipsTrailingCopyOfQuestion(t *testing.T) {
	r := New(nil)
	history := []Turn{
		user("What is self-attention?"),
		assistant("It relates positions [1]."),
		user("why is it important?"),
	}

	got := rewriteOK(t, r, "why is it important?", history)
	assert.Equal(t, "why is it important? (referring to: What is self-attention?)", got)
}

func TestRewrite_PassThrough(t *testing.T) {
	tests := []struct {
		name     string
		question string
		history  []Turn
		want     string
	}{
		{"empty history", "What is self-attention?", nil, "What is self-attention?"},
		{"empty history with pronoun", "why is it important?", []Turn{}, "why is it important?"},
		{"only the question itself", "why is it important?", []Turn{user("why is it important?")}, "why is it important?"},
		{"whitespace question", "   ", []Turn{user("x")}, ""},
		{"trimmed", "  What is the EU AI Act?  ", nil, "What is the EU AI Act?"},
		{"no model configured", "Explain the risk tiers in detail please now", []Turn{user("What is the EU AI Act?")}, "Explain the risk tiers in detail please now"},
		{"pronoun but no prior user turn", "is it?", []Turn{assistant("hello")}, "is it?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rewriteOK(t, New(nil), tt.question, tt.history))
		})
	}
}

func TestRewrite_ModelPath(t *testing.T) {
	history := []Turn{
		user("What does the EU AI Act say about high-risk systems?"),
		assistant("High-risk systems need conformity assessment [1]."),
	}
	question := "What obligations apply to providers of those systems after deployment?"

	t.Run("uses model output", func(t *testing.T) {
		model := new(MockCompleter)
		model.On("Complete", mock.Anything, systemPrompt, mock.MatchedBy(func(u string) bool {
			return strings.Contains(u, "USER: What does the EU AI Act say about high-risk systems?") &&
				strings.Contains(u, "ASSISTANT: High-risk systems need conformity assessment [1].") &&
				strings.HasSuffix(u, "Latest user message:\n"+question+"\n\nStandalone retrieval query:")
		}), float32(0)).Return("  post-market obligations for providers of high-risk AI systems \n", nil)

		got := rewriteOK(t, New(model), question, history)
		assert.Equal(t, "post-market obligations for providers of high-risk AI systems", got)
		model.AssertExpectations(t)
	})

	t.Run("model error is returned", func(t *testing.T) {
		model := new(MockCompleter)
		upstream := errors.New("groq: 429 rate limited")
		model.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", upstream)

		got, err := New(model).Rewrite(context.Background(), question, history)
		assert.ErrorIs(t, err, upstream)
		assert.ErrorContains(t, err, "rewrite query")
		assert.Empty(t, got)
		model.AssertNumberOfCalls(t, "Complete", 1)
	})

	t.Run("empty output falls back", func(t *testing.T) {
		model := new(MockCompleter)
		model.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("   ", nil)

		assert.Equal(t, question, rewriteOK(t, New(model), question, history))
	})

	t.Run("overlong output falls back", func(t *testing.T) {
		model := new(MockCompleter)
		model.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(strings.Repeat("a", 301), nil)

		assert.Equal(t, question, rewriteOK(t, New(model), question, history))
	})

	t.Run("300 characters is accepted", func(t *testing.T) {
		model := new(MockCompleter)
		model.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(strings.Repeat("a", 300), nil)

		assert.Equal(t, strings.Repeat("a", 300), rewriteOK(t, New(model), question, history))
	})
}

func TestRewrite_DoesNotMutateHistory(t *testing.T) {
	history := []Turn{user("What is self-attention?"), user("why is it important?")}
	snapshot := append([]Turn(nil), history...)

	rewriteOK(t, New(nil), "why is it important?", history)
	assert.Equal(t, snapshot, history)
}

func TestTranscript_LastEightNonEmpty(t *testing.T) {
	var history []Turn
	for i := 0; i < 10; i++ {
		history = append(history, user(fmt.Sprintf("q%d", i)))
	}
	history[9].Content = ""

	got := transcript(history)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "USER: q2", lines[0])
	assert.Equal(t, "USER: q8", lines[6])
}

func TestIsShortPronounQuestion(t *testing.T) {
	assert.True(t, isShortPronounQuestion("Why is IT important?"))
	assert.True(t, isShortPronounQuestion("and their risks?"))
	assert.False(t, isShortPronounQuestion("what is self-attention"))
	assert.False(t, isShortPronounQuestion("why is it important for the transformer model today"))
}
