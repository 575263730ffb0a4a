package testutils

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docrag/internal/config"
)

// IntegrationSuite runs a throwaway Weaviate and nsqd for tests that need
// the real services. Callers skip it under -short.
type IntegrationSuite struct {
	T            *testing.T
	Weaviate     *weaviate.Client
	WeaviateHost string
	NSQ          *nsq.Producer
	NSQAddr      string

	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Weaviate
	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.33.6",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	host, err := weaviateC.Host(ctx)
	require.NoError(s.T, err)
	port, err := weaviateC.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.WeaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.WeaviateHost, Scheme: "http"})
	require.NoError(s.T, err)

	// 2. NSQ
	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC

	nsqHost, err := nsqC.Host(ctx)
	require.NoError(s.T, err)
	nsqPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(s.T, err)

	s.NSQAddr = fmt.Sprintf("%s:%s", nsqHost, nsqPort.Port())
	s.NSQ, err = nsq.NewProducer(s.NSQAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.weaviateContainer != nil {
		s.weaviateContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}

// GetAppConfig returns a configuration pointing at the suite's services,
// with a local raw directory and query log under the test's temp dir.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	dir := s.T.TempDir()
	nsqHTTP := ""
	if s.nsqContainer != nil {
		ctx := context.Background()
		host, err := s.nsqContainer.Host(ctx)
		require.NoError(s.T, err)
		port, err := s.nsqContainer.MappedPort(ctx, "4151")
		require.NoError(s.T, err)
		nsqHTTP = fmt.Sprintf("%s:%s", host, port.Port())
	}

	return &config.Config{
		RawDir:                     filepath.Join(dir, "raw"),
		ChunkSize:                  1000,
		ChunkOverlap:               150,
		TopK:                       4,
		VectorBackend:              config.BackendWeaviate,
		ChromaDir:                  filepath.Join(dir, "chroma_db"),
		CollectionName:             "ceadar_docs",
		WeaviateHost:               s.WeaviateHost,
		WeaviateScheme:             "http",
		EmbeddingProvider:          config.ProviderOpenAI,
		EmbeddingModel:             "all-minilm",
		EmbeddingBaseURL:           "http://localhost:11434/v1",
		EmbedBatchSize:             64,
		NSQDHost:                   s.NSQAddr,
		NSQDHTTP:                   nsqHTTP,
		ServerPort:                 8081,
		QueryLogPath:               filepath.Join(dir, "logs", "query.log"),
		JobsDBPath:                 filepath.Join(dir, "jobs.db"),
		LogLevel:                   "info",
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
}
