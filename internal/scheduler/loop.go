package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/gotune/internal/store"
)

// CheckpointConfig holds checkpointer configuration.
type CheckpointConfig struct {
	Interval time.Duration
}

// DefaultCheckpointConfig returns sensible defaults.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{Interval: 30 * time.Second}
}

// Checkpointer persists the controller's snapshot every interval and once
// more when it stops.
type Checkpointer struct {
	ctrl   *Controller
	store  store.CheckpointStore
	runID  string
	config CheckpointConfig
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCheckpointer creates a checkpointer for one run.
func NewCheckpointer(ctrl *Controller, st store.CheckpointStore, runID string, cfg CheckpointConfig, logger *slog.Logger) *Checkpointer {
	return &Checkpointer{
		ctrl:   ctrl,
		store:  st,
		runID:  runID,
		config: cfg,
		logger: logger.With("component", "checkpointer", "run_id", runID),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the checkpoint loop. Blocks until ctx is cancelled or Stop is called.
func (c *Checkpointer) Start(ctx context.Context) error {
	c.logger.Info("checkpointer started", "interval", c.config.Interval)
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()
	defer close(c.doneCh)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("checkpointer stopping (context cancelled)")
			c.flush()
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("checkpointer stopping (stop called)")
			c.flush()
			return nil
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.logger.Error("checkpoint error", "error", err)
			}
		}
	}
}

// Stop writes a final checkpoint and waits for the loop to finish.
func (c *Checkpointer) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
	return nil
}

// flush writes the last checkpoint with a fresh context, since the run's
// context may already be cancelled.
func (c *Checkpointer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Tick(ctx); err != nil {
		c.logger.Error("final checkpoint", "error", err)
	}
}

// Tick writes one checkpoint, plus the trial read model when the store
// keeps one.
func (c *Checkpointer) Tick(ctx context.Context) error {
	data, err := c.ctrl.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := c.store.SaveCheckpoint(ctx, c.runID, data); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if rec, ok := c.store.(store.TrialRecorder); ok {
		trials, err := c.ctrl.ListTrials(ctx)
		if err != nil {
			return fmt.Errorf("list trials: %w", err)
		}
		if err := rec.SaveTrials(ctx, c.runID, trials); err != nil {
			return fmt.Errorf("save trials: %w", err)
		}
	}
	c.logger.Debug("checkpoint saved", "bytes", len(data))
	return nil
}

var _ Background = (*Checkpointer)(nil)
