package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/gotune/internal/config"
	"github.com/me/gotune/internal/logging"
	"github.com/me/gotune/internal/worker"
)

func main() {
	var cfg worker.Config
	var experiment string

	flag.StringVar(&cfg.ServerURL, "server", "http://localhost:8080", "gotune server URL")
	flag.StringVar(&cfg.WorkerKey, "worker-key", os.Getenv("GOTUNE_WORKER_KEY"), "Shared secret sent as X-Worker-Key")
	flag.StringVar(&cfg.Name, "name", "", "Worker name (default: hostname)")
	flag.StringVar(&experiment, "experiment", "", "Experiment file whose trainable block is run (required)")
	flag.StringVar(&cfg.WorkDir, "workdir", "", "Local working directory (default: $TMPDIR/gotune-worker)")
	flag.IntVar(&cfg.Parallel, "parallel", 1, "Trials trained at once")
	flag.DurationVar(&cfg.Poll, "poll", 2*time.Second, "Wait between requests while the server has no work")
	flag.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 30*time.Second, "How long to wait for the server at startup")
	flag.BoolVar(&cfg.TLSInsecure, "insecure", false, "Skip TLS verification (testing only)")

	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		*logLevel = "debug"
	}
	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logFormat)

	if experiment == "" {
		fmt.Fprintln(os.Stderr, "--experiment is required")
		os.Exit(2)
	}
	exp, err := config.Load(experiment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	trainable, err := exp.NewTrainable(cfg.WorkDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trainable: %v\n", err)
		os.Exit(1)
	}

	w, err := worker.New(cfg, trainable, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init worker: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting worker",
		"server", cfg.ServerURL,
		"experiment", exp.Name,
		"trainable", trainable.Name(),
		"parallel", cfg.Parallel,
	)

	st, err := w.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("worker stopped", "trials", st.Trials, "resumed", st.Resumed, "reports", st.Reports, "failed", st.Failed)
}
