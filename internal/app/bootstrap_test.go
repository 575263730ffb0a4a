package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/app"
	"docrag/internal/config"
)

type statefulMockStore struct {
	callCount int
	failUntil int
}

func (m *statefulMockStore) EnsureSchema(ctx context.Context) error {
	m.callCount++
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry_Success(t *testing.T) {
	mock := &statefulMockStore{}
	err := app.EnsureSchemaWithRetry(context.Background(), mock, 1, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 1, mock.callCount)
}

func TestEnsureSchemaWithRetry_Retries(t *testing.T) {
	mock := &statefulMockStore{failUntil: 2}
	err := app.EnsureSchemaWithRetry(context.Background(), mock, 5, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, mock.callCount)
}

func TestEnsureSchemaWithRetry_Fail(t *testing.T) {
	mock := &statefulMockStore{failUntil: 100}
	err := app.EnsureSchemaWithRetry(context.Background(), mock, 3, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 3, mock.callCount)
}

func TestEnsureSchemaWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &statefulMockStore{failUntil: 100}
	err := app.EnsureSchemaWithRetry(ctx, mock, 5, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBootstrap_Local(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		VectorBackend:     config.BackendLocal,
		ChromaDir:         filepath.Join(dir, "chroma_db"),
		CollectionName:    "ceadar_docs",
		EmbeddingProvider: config.ProviderOpenAI,
		EmbeddingBaseURL:  "http://localhost:11434/v1",
		EmbeddingModel:    "all-minilm",
		EmbedBatchSize:    8,
	}

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.Embedder)
	assert.Nil(t, deps.Chat)
	assert.Nil(t, deps.NSQProducer)
	assert.Nil(t, deps.Jobs)
	assert.Equal(t, filepath.Join(dir, "chroma_db", "ceadar_docs.db"), deps.Store.Location())
}

func TestBootstrap_GeminiWithoutKey(t *testing.T) {
	cfg := &config.Config{
		VectorBackend:     config.BackendLocal,
		ChromaDir:         t.TempDir(),
		CollectionName:    "ceadar_docs",
		EmbeddingProvider: config.ProviderGemini,
		EmbedBatchSize:    8,
	}

	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}

func TestBootstrap_WeaviateDown(t *testing.T) {
	cfg := &config.Config{
		VectorBackend:              config.BackendWeaviate,
		WeaviateHost:               "localhost:54322", // closed port
		WeaviateScheme:             "http",
		CollectionName:             "ceadar_docs",
		EmbeddingProvider:          config.ProviderOpenAI,
		EmbeddingBaseURL:           "http://localhost:11434/v1",
		EmbedBatchSize:             8,
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)

	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "weaviate schema error")
	assert.Less(t, time.Since(start), 10*time.Second)
}
