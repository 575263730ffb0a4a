package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docrag/features/job"
	"docrag/internal/adapter/gemini"
	"docrag/internal/adapter/openai"
	wstore "docrag/internal/adapter/weaviate"
	"docrag/internal/collection"
	"docrag/internal/config"
	"docrag/internal/embedding"
)

// Completer is the chat model shared by the rewriter and the generator.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)
}

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	Store    collection.Store
	Embedder *embedding.Batcher
	// Chat is nil when GROQ_API_KEY is unset.
	Chat Completer
	// NSQProducer and Jobs are nil unless the rebuild worker is enabled.
	NSQProducer *nsq.Producer
	Jobs        *job.SQLiteRepo

	closers []func() error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}

	store, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Store = store
	deps.closers = append(deps.closers, store.Close)

	provider, closeProvider, err := NewEmbeddingProvider(ctx, cfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	if closeProvider != nil {
		deps.closers = append(deps.closers, closeProvider)
	}
	deps.Embedder = embedding.NewBatcher(provider, cfg.EmbedBatchSize, cfg.EmbedRateLimit)

	if cfg.GroqAPIKey != "" {
		deps.Chat = openai.NewChatClient(cfg.GroqBaseURL, cfg.GroqAPIKey, cfg.GroqModel)
	} else {
		slog.WarnContext(ctx, "GROQ_API_KEY not set, answers will fail and rewriting uses heuristics only")
	}

	if cfg.EnableRebuildWorker {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		deps.closers = append(deps.closers, func() error { producer.Stop(); return nil })

		createTopics(cfg.NSQDHTTP)

		jobs, err := job.OpenSQLiteRepo(cfg.JobsDBPath)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed job log: %w", err)
		}
		deps.Jobs = jobs
		deps.closers = append(deps.closers, jobs.Close)
	}

	return deps, nil
}

// Close releases everything Bootstrap opened, in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewStore opens the collection for the configured backend.
func NewStore(ctx context.Context, cfg *config.Config) (collection.Store, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		store := wstore.NewStore(wClient, cfg.CollectionName, cfg.Location())

		retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
		if err := EnsureSchemaWithRetry(ctx, store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return nil, fmt.Errorf("weaviate schema error: %w", err)
		}
		return store, nil

	default:
		store, err := collection.OpenSQLite(cfg.ChromaDir, cfg.CollectionName)
		if err != nil {
			return nil, fmt.Errorf("open local collection: %w", err)
		}
		return store, nil
	}
}

// NewEmbeddingProvider returns the configured provider and, when it holds a
// connection, its close func.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config) (embedding.Provider, func() error, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini embedder: %w", err)
		}
		return e, e.Close, nil
	default:
		return openai.NewEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel), nil, nil
	}
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIndexRebuild)
		create(config.TopicIndexResult)
	}()
}

// EnsureSchemaWithRetry retries the schema check while the backend starts up.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.WarnContext(ctx, "failed to ensure weaviate schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
