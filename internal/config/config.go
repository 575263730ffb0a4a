package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	BackendLocal    = "local"
	BackendWeaviate = "weaviate"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	// Generation
	GroqAPIKey  string `envconfig:"GROQ_API_KEY"`
	GroqModel   string `envconfig:"GROQ_MODEL" default:"llama-3.1-8b-instant"`
	GroqBaseURL string `envconfig:"GROQ_BASE_URL" default:"https://api.groq.com/openai/v1"`

	// Corpus & chunking
	RawDir       string `envconfig:"RAW_DIR" default:"data/raw"`
	ChunkSize    int    `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int    `envconfig:"CHUNK_OVERLAP" default:"150"`
	TopK         int    `envconfig:"TOP_K" default:"4"`

	// Vector collection
	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"local"`
	ChromaDir      string `envconfig:"CHROMA_DIR" default:"chroma_db"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"ceadar_docs"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Embeddings
	EmbeddingProvider string  `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel    string  `envconfig:"EMBEDDING_MODEL" default:"all-minilm"`
	EmbeddingBaseURL  string  `envconfig:"EMBEDDING_BASE_URL" default:"http://localhost:11434/v1"`
	EmbeddingAPIKey   string  `envconfig:"EMBEDDING_API_KEY"`
	GeminiAPIKey      string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string  `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbedBatchSize    int     `envconfig:"EMBED_BATCH_SIZE" default:"64"`
	EmbedRateLimit    float64 `envconfig:"EMBED_RATE_LIMIT" default:"0"`

	// Runtime surfaces
	EnableAPI           bool   `envconfig:"ENABLE_API" default:"true"`
	EnableRebuildWorker bool   `envconfig:"ENABLE_REBUILD_WORKER" default:"false"`
	NSQLookupd          string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost            string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP            string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	WatchRawDir         bool   `envconfig:"WATCH_RAW_DIR" default:"false"`
	WatchDebounceMs     int    `envconfig:"WATCH_DEBOUNCE_MS" default:"2000"`
	JobsDBPath          string `envconfig:"JOBS_DB_PATH" default:"data/jobs.db"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RawDir == "" {
		return fmt.Errorf("%w: RAW_DIR", ErrMissingRequired)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive, got %d", ErrInvalid, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", ErrInvalid, c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: TOP_K must be positive, got %d", ErrInvalid, c.TopK)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: EMBED_BATCH_SIZE must be positive, got %d", ErrInvalid, c.EmbedBatchSize)
	}

	switch c.VectorBackend {
	case BackendLocal:
		if c.ChromaDir == "" {
			return fmt.Errorf("%w: CHROMA_DIR", ErrMissingRequired)
		}
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", ErrInvalid, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.EmbeddingBaseURL == "" {
			return fmt.Errorf("%w: EMBEDDING_BASE_URL", ErrMissingRequired)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}

	return nil
}

// Location describes where the collection lives, for summaries and stats.
func (c *Config) Location() string {
	if c.VectorBackend == BackendWeaviate {
		return fmt.Sprintf("%s://%s", c.WeaviateScheme, c.WeaviateHost)
	}
	return c.ChromaDir
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
