package vector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"docrag/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// newAdapter serves /v1/meta itself and hands every other request to handler.
func newAdapter(t *testing.T, handler http.HandlerFunc) *vector.WeaviateClientAdapter {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"})
	require.NoError(t, err)
	return vector.NewWeaviateClientAdapter(client)
}

func TestWeaviateClientAdapter_ClassExists(t *testing.T) {
	t.Run("Exists", func(t *testing.T) {
		adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/schema/Ceadar_docs", r.URL.Path)
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(&models.Class{Class: "Ceadar_docs"})
		})

		exists, err := adapter.ClassExists(context.Background(), "Ceadar_docs")
		assert.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("NotFound", func(t *testing.T) {
		adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		exists, err := adapter.ClassExists(context.Background(), "Ceadar_docs")
		assert.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestWeaviateClientAdapter_CreateClass(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/schema", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var class models.Class
		require.NoError(t, json.NewDecoder(r.Body).Decode(&class))
		assert.Equal(t, "Ceadar_docs", class.Class)
		w.WriteHeader(http.StatusOK)
	})

	err := adapter.CreateClass(context.Background(), &models.Class{Class: "Ceadar_docs", Vectorizer: "none"})
	assert.NoError(t, err)
}

func TestWeaviateClientAdapter_GetClass(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/schema/Ceadar_docs", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(&models.Class{Class: "Ceadar_docs"})
	})

	class, err := adapter.GetClass(context.Background(), "Ceadar_docs")
	require.NoError(t, err)
	assert.Equal(t, "Ceadar_docs", class.Class)
}

func TestWeaviateClientAdapter_AddProperty(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/schema/Ceadar_docs/properties", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	err := adapter.AddProperty(context.Background(), "Ceadar_docs", &models.Property{Name: "page", DataType: []string{"int"}})
	assert.NoError(t, err)
}

func TestWeaviateClientAdapter_DeleteClass(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/schema/Ceadar_docs", r.URL.Path)
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	err := adapter.DeleteClass(context.Background(), "Ceadar_docs")
	assert.NoError(t, err)
}
