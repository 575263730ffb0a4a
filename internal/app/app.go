package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"docrag/features/answer"
	"docrag/features/job"
	"docrag/features/mcp"
	"docrag/features/rebuild"
	"docrag/features/stats"
	"docrag/internal/config"
	"docrag/internal/generation"
	"docrag/internal/index"
	"docrag/internal/metrics"
	"docrag/internal/middleware"
	"docrag/internal/pipeline"
	"docrag/internal/retrieval"
	"docrag/internal/rewrite"
	"docrag/internal/watch"
	"docrag/internal/worker"
)

type App struct {
	Handler  http.Handler
	Pipeline *pipeline.Pipeline
	Builder  *index.Builder
	Metrics  *metrics.Metrics

	cfg  *config.Config
	deps *Dependencies
}

// New wires the pipeline, the index builder and the HTTP routes on top of
// already bootstrapped dependencies.
func New(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	if deps == nil || deps.Store == nil || deps.Embedder == nil {
		return nil, errors.New("app: store and embedder are required")
	}

	m := metrics.New()

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath, os.Stdout)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	deps.closers = append(deps.closers, queryLogger.Close)

	retriever := retrieval.NewRetriever(deps.Embedder, deps.Store, queryLogger)
	p := pipeline.New(rewrite.New(deps.Chat), retriever, generation.New(deps.Chat), cfg.TopK, m)

	builder := index.NewBuilder(index.Options{
		RawDir:       cfg.RawDir,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	}, deps.Embedder, deps.Store, p.Guard(), m)

	a := &App{Pipeline: p, Builder: builder, Metrics: m, cfg: cfg, deps: deps}
	a.Handler = a.routes()
	return a, nil
}

func (a *App) routes() http.Handler {
	answerHandler := answer.NewHandler(a.Pipeline)
	rebuildHandler := rebuild.NewHandler(a.Builder, a.enqueuer())
	statsHandler := stats.NewHandler(a.deps.Store, a.cfg.CollectionName, a.cfg.VectorBackend)
	mcpHandler := mcp.NewHandler(a.Pipeline)

	mux := http.NewServeMux()

	mux.Handle("POST /answer", middleware.CorrelationID(middleware.CORS(answerHandler.Answer)))
	mux.Handle("POST /search", middleware.CorrelationID(middleware.CORS(answerHandler.Search)))
	mux.Handle("POST /index/rebuild", middleware.CorrelationID(middleware.CORS(rebuildHandler.Rebuild)))
	mux.Handle("GET /stats", middleware.CorrelationID(middleware.CORS(statsHandler.GetStats)))

	if a.deps.Jobs != nil {
		var pub job.EventPublisher
		if a.deps.NSQProducer != nil {
			pub = a.deps.NSQProducer
		}
		jobHandler := job.NewHandler(job.NewService(a.deps.Jobs, pub, slog.Default()))
		mux.Handle("GET /jobs/failed", middleware.CorrelationID(middleware.CORS(jobHandler.List)))
		mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(middleware.CORS(jobHandler.Retry)))
	}

	mux.Handle("/mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleMessage)))

	mux.Handle("GET /metrics", a.Metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

func (a *App) enqueuer() rebuild.Enqueuer {
	if a.deps.NSQProducer == nil {
		return nil
	}
	return func(ctx context.Context, reason string) error {
		return worker.RequestRebuild(ctx, a.deps.NSQProducer, reason)
	}
}

// RefreshIndexedChunks seeds the chunk gauge from the collection.
func (a *App) RefreshIndexedChunks(ctx context.Context) {
	n, err := a.deps.Store.Count(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to count indexed chunks", "error", err)
		return
	}
	a.Metrics.SetIndexedChunks(n)
}

// StartWorker subscribes the rebuild consumer to index.rebuild and, when
// the failed job log is open, the result consumer to index.result. The
// returned consumers must be stopped by the caller.
func (a *App) StartWorker() ([]*nsq.Consumer, error) {
	if a.deps.NSQProducer == nil {
		return nil, errors.New("rebuild worker requires an NSQ producer")
	}

	nsqCfg := nsq.NewConfig()
	// A rebuild can run for minutes; keep the message in flight meanwhile.
	nsqCfg.MsgTimeout = 15 * time.Minute
	nsqCfg.MaxAttempts = worker.MaxRebuildAttempts

	rebuildConsumer, err := a.subscribe(config.TopicIndexRebuild, config.ChannelIndexer, nsqCfg,
		worker.NewRebuildConsumer(a.Builder, a.deps.NSQProducer))
	if err != nil {
		return nil, err
	}
	consumers := []*nsq.Consumer{rebuildConsumer}

	if a.deps.Jobs != nil {
		resultConsumer, err := a.subscribe(config.TopicIndexResult, config.ChannelResults, nsq.NewConfig(),
			worker.NewResultConsumer(a.deps.Jobs))
		if err != nil {
			rebuildConsumer.Stop()
			return nil, err
		}
		consumers = append(consumers, resultConsumer)
	}

	return consumers, nil
}

func (a *App) subscribe(topic, channel string, nsqCfg *nsq.Config, handler nsq.Handler) (*nsq.Consumer, error) {
	consumer, err := nsq.NewConsumer(topic, channel, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ consumer for %s: %w", topic, err)
	}
	consumer.AddHandler(handler)

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("failed to connect NSQ consumer for %s: %w", topic, err)
	}

	slog.Info("NSQ consumer connected", "topic", topic, "channel", channel)
	return consumer, nil
}

// Watch rebuilds whenever supported files under RAW_DIR change. With the
// worker enabled the rebuild is queued, otherwise it runs in process.
func (a *App) Watch(ctx context.Context) error {
	trigger := func(ctx context.Context, reason string) error {
		if enqueue := a.enqueuer(); enqueue != nil {
			return enqueue(ctx, reason)
		}
		summary, err := a.Builder.Rebuild(ctx)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, summary.String())
		return nil
	}

	w, err := watch.New(a.cfg.RawDir, time.Duration(a.cfg.WatchDebounceMs)*time.Millisecond, trigger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
