package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/me/gotune/internal/config"
	"github.com/me/gotune/internal/logging"
	"github.com/me/gotune/internal/server"
	"github.com/me/gotune/internal/session"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (default ~/.gotune/gotune.db)")
	flag.StringVar(&cfg.Checkpoint, "checkpoint-store", cfg.Checkpoint, "redis:// URL for checkpoints instead of the database")
	flag.StringVar(&cfg.Experiment, "experiment", cfg.Experiment, "Experiment file to serve (required)")
	flag.BoolVar(&cfg.Resume, "resume", cfg.Resume, "Continue --run-id from its latest checkpoint")
	flag.StringVar(&cfg.RunID, "run-id", cfg.RunID, "Run id (generated when empty)")
	flag.DurationVar(&cfg.CheckpointInterval, "checkpoint-interval", cfg.CheckpointInterval, "Checkpoint interval")
	workerKeys := flag.String("worker-keys", "", "Comma-separated worker keys (also GOTUNE_WORKER_KEYS)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	for _, k := range strings.Split(*workerKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.WorkerKeys = append(cfg.WorkerKeys, k)
		}
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if cfg.Experiment == "" {
		fmt.Fprintln(os.Stderr, "--experiment is required")
		os.Exit(2)
	}
	exp, err := config.Load(cfg.Experiment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Resolve the store location.
	location := cfg.Checkpoint
	if location == "" {
		location = cfg.DBPath
	}
	if location == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".gotune")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		location = filepath.Join(dir, "gotune.db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.Open(ctx, exp, session.Options{
		RunID:              cfg.RunID,
		Store:              location,
		Resume:             cfg.Resume,
		CheckpointInterval: cfg.CheckpointInterval,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open run: %v\n", err)
		os.Exit(1)
	}
	logger.Info("run ready", "run_id", s.Run.ID, "experiment", exp.Name, "samples", exp.NumSamples, "resumed", cfg.Resume)

	opts := []server.Option{server.WithRun(s.Run), server.WithCheckpointer(s.Checkpointer)}
	if s.ReadModel != nil {
		opts = append(opts, server.WithStore(s.ReadModel))
	}
	srv := server.New(cfg, s.Controller, logger, opts...)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Scheduler and checkpointer run until shutdown.
	s.Start(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	// The final checkpoint is written after HTTP traffic stopped.
	if err := s.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close run: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped", "run_id", s.Run.ID)
}
