package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/adapter/openai"
)

func TestEmbedder_EmbedBatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer ollama", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "all-minilm", body["model"])
		assert.Len(t, body["input"], 2)

		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; the embedder sorts by index.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				map[string]interface{}{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer ts.Close()

	e := openai.NewEmbedder(ts.URL+"/v1/", "", "all-minilm")
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestEmbedder_EmbedBatch_Errors(t *testing.T) {
	t.Run("upstream error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"model not found"}}`))
		}))
		defer ts.Close()

		_, err := openai.NewEmbedder(ts.URL, "", "missing").EmbedBatch(context.Background(), []string{"x"})
		assert.Error(t, err)
	})

	t.Run("short response", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"object":"list","data":[]}`))
		}))
		defer ts.Close()

		_, err := openai.NewEmbedder(ts.URL, "", "m").EmbedBatch(context.Background(), []string{"x"})
		assert.Error(t, err)
	})

	t.Run("empty input makes no call", func(t *testing.T) {
		vecs, err := openai.NewEmbedder("http://127.0.0.1:1", "", "m").EmbedBatch(context.Background(), nil)
		assert.NoError(t, err)
		assert.Nil(t, vecs)
	})
}

func TestChatClient_Complete(t *testing.T) {
	var captured map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "cmpl-1",
			"choices": []interface{}{
				map[string]interface{}{"index": 0, "message": map[string]interface{}{"role": "assistant", "content": "Self-attention relates tokens [1]."}},
			},
		})
	}))
	defer ts.Close()

	c := openai.NewChatClient(ts.URL, "gsk-test", "llama-3.1-8b-instant")

	t.Run("passes prompts and temperature", func(t *testing.T) {
		out, err := c.Complete(context.Background(), "sys", "usr", 0.2)
		require.NoError(t, err)
		assert.Equal(t, "Self-attention relates tokens [1].", out)

		assert.Equal(t, "llama-3.1-8b-instant", captured["model"])
		assert.InDelta(t, 0.2, captured["temperature"], 1e-6)
		msgs := captured["messages"].([]interface{})
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
		assert.Equal(t, "usr", msgs[1].(map[string]interface{})["content"])
	})

	t.Run("zero temperature is still sent", func(t *testing.T) {
		_, err := c.Complete(context.Background(), "sys", "usr", 0)
		require.NoError(t, err)
		temp, ok := captured["temperature"]
		require.True(t, ok)
		assert.InDelta(t, 0, temp, 1e-9)
	})
}

func TestChatClient_Complete_NoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer ts.Close()

	_, err := openai.NewChatClient(ts.URL, "k", "m").Complete(context.Background(), "s", "u", 0.2)
	assert.ErrorIs(t, err, openai.ErrEmptyResponse)
}
