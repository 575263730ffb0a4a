package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"docrag/internal/app"
	"docrag/internal/cli"
	"docrag/internal/config"
	"docrag/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(loadServices, serve)
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func setup(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(w, cfg.SlogLevel())
	slog.SetDefault(log)
	return cfg, log, nil
}

// loadServices backs the one-shot commands. Logs go to stderr so stdout
// carries only command output.
func loadServices(ctx context.Context) (*cli.Services, error) {
	cfg, log, err := setup(os.Stderr)
	if err != nil {
		return nil, err
	}

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, deps, log)
	if err != nil {
		deps.Close()
		return nil, err
	}

	return &cli.Services{
		Builder:  a.Builder,
		Pipeline: a.Pipeline,
		TopK:     cfg.TopK,
		Close:    deps.Close,
	}, nil
}

func serve(ctx context.Context) error {
	cfg, log, err := setup(os.Stdout)
	if err != nil {
		return err
	}
	return run(ctx, cfg, log)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	defer deps.Close()

	a, err := app.New(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("app init failed: %w", err)
	}
	a.RefreshIndexedChunks(ctx)

	if cfg.EnableRebuildWorker {
		consumers, err := a.StartWorker()
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range consumers {
				c.Stop()
			}
		}()
		logger.Info("rebuild worker started")
	}

	if cfg.WatchRawDir {
		go func() {
			if err := a.Watch(ctx); err != nil {
				logger.Error("raw directory watcher stopped", "error", err)
			}
		}()
	}

	if cfg.EnableAPI {
		return a.Run(ctx)
	}

	logger.Info("API disabled, running until interrupted")
	<-ctx.Done()
	return nil
}
