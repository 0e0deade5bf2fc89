// Package worker trains trials handed out by a remote gotune server.
package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/gotune/internal/executor"
)

// Config holds worker configuration.
type Config struct {
	ServerURL   string
	WorkerKey   string
	Name        string
	WorkDir     string
	Parallel    int
	Poll        time.Duration
	TLSInsecure bool
	// ConnectTimeout bounds how long Run waits for the server to come up.
	ConnectTimeout time.Duration
}

// Worker polls the server for trials and trains them with a Trainable.
type Worker struct {
	client    *Client
	trainable executor.Trainable
	config    Config
	logger    *slog.Logger
}

// New creates a Worker from configuration.
func New(cfg Config, trainable executor.Trainable, logger *slog.Logger) (*Worker, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "gotune-worker")
	}
	if cfg.Poll == 0 {
		cfg.Poll = 2 * time.Second
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}

	var tlsCfg *tls.Config
	if cfg.TLSInsecure {
		tlsCfg = &tls.Config{InsecureSkipVerify: true}
	}
	client := NewClient(cfg.ServerURL, tlsCfg)
	client.SetWorkerKey(cfg.WorkerKey)

	return &Worker{
		client:    client,
		trainable: trainable,
		config:    cfg,
		logger:    logger.With("component", "worker", "name", cfg.Name),
	}, nil
}

// Run waits for the server, then trains trials until the server answers
// DONE or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) (executor.Stats, error) {
	if err := os.MkdirAll(w.config.WorkDir, 0o755); err != nil {
		return executor.Stats{}, fmt.Errorf("create workdir %s: %w", w.config.WorkDir, err)
	}
	if err := w.waitForServer(ctx); err != nil {
		return executor.Stats{}, err
	}
	w.logger.Info("connected to server",
		"server", w.config.ServerURL,
		"trainable", w.trainable.Name(),
		"parallel", w.config.Parallel,
	)

	runner := executor.NewRunner(w.client, w.trainable, executor.RunnerConfig{
		Parallel: w.config.Parallel,
		Poll:     w.config.Poll,
	}, w.logger)
	err := runner.Run(ctx)
	if err != nil && ctx.Err() != nil {
		w.logger.Info("shutting down")
		return runner.Stats(), nil
	}
	return runner.Stats(), err
}

// waitForServer polls /health until the server answers or the connect
// timeout passes.
func (w *Worker) waitForServer(ctx context.Context) error {
	deadline := time.Now().Add(w.config.ConnectTimeout)
	ticker := time.NewTicker(w.config.Poll)
	defer ticker.Stop()

	for {
		err := w.client.Health(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server %s unreachable: %w", w.config.ServerURL, err)
		}
		w.logger.Warn("server not ready", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
