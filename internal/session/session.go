// Package session assembles one tuning run: the scheduler state, its
// controller, the checkpoint store and the checkpointer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/gotune/internal/config"
	"github.com/me/gotune/internal/scheduler"
	"github.com/me/gotune/internal/store"
	"github.com/me/gotune/pkg/model"
)

// Options configures how a run is opened.
type Options struct {
	// RunID names the run. Generated when empty; required with Resume.
	RunID string
	// Store is a SQLite path or a redis:// URL. Empty runs without
	// persistence.
	Store string
	// Resume continues the run from its latest checkpoint.
	Resume bool
	// CheckpointInterval defaults to 30s.
	CheckpointInterval time.Duration
}

// Session is an opened run.
type Session struct {
	Run          *model.Run
	Controller   *scheduler.Controller
	Checkpointer *scheduler.Checkpointer // nil without a store
	Store        store.CheckpointStore   // nil without a store
	// ReadModel is set when the store also keeps runs and trials.
	ReadModel store.Store

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return "run_" + uuid.New().String()[:8]
}

// Open builds the run for exp. With Resume the scheduler state is restored
// from the store's latest checkpoint and trials that were running are
// queued for resume.
func Open(ctx context.Context, exp *config.Experiment, opts Options, logger *slog.Logger) (*Session, error) {
	if opts.RunID == "" {
		if opts.Resume {
			return nil, errors.New("resume needs a run id")
		}
		opts.RunID = NewRunID()
	}
	if opts.Resume && opts.Store == "" {
		return nil, errors.New("resume needs a checkpoint store")
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = scheduler.DefaultCheckpointConfig().Interval
	}
	logger = logger.With("run_id", opts.RunID)

	smp, err := exp.NewSampler()
	if err != nil {
		return nil, err
	}
	st, err := scheduler.NewState(exp.Options(opts.RunID), smp, logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Run:    exp.Run(opts.RunID, time.Now().UTC()),
		logger: logger.With("component", "session"),
	}

	if opts.Store != "" {
		cs, err := store.Open(ctx, opts.Store, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		s.Store = cs
		if rm, ok := cs.(store.Store); ok {
			s.ReadModel = rm
		}
		if err := s.prepare(ctx, st, opts.Resume); err != nil {
			cs.Close()
			return nil, err
		}
	}

	s.Controller = scheduler.NewController(st, logger)
	if s.Store != nil {
		s.Checkpointer = scheduler.NewCheckpointer(s.Controller, s.Store, opts.RunID,
			scheduler.CheckpointConfig{Interval: opts.CheckpointInterval}, logger)
	}
	return s, nil
}

// prepare records a new run or restores a resumed one.
func (s *Session) prepare(ctx context.Context, st *scheduler.State, resume bool) error {
	if !resume {
		if s.ReadModel != nil {
			if err := s.ReadModel.CreateRun(ctx, s.Run); err != nil {
				return fmt.Errorf("record run: %w", err)
			}
		}
		return nil
	}

	if s.ReadModel != nil {
		prev, err := s.ReadModel.GetRun(ctx, s.Run.ID)
		if err != nil {
			return fmt.Errorf("load run: %w", err)
		}
		if prev != nil {
			s.Run = prev
		}
	}
	data, err := s.Store.LatestCheckpoint(ctx, s.Run.ID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if data == nil {
		return fmt.Errorf("run %s has no checkpoint", s.Run.ID)
	}
	if err := st.Restore(data, scheduler.RestoreOptions{RequeueRunning: true}); err != nil {
		return err
	}
	sum := st.Summary()
	s.logger.Info("run resumed",
		"sampled", sum.Sampled,
		"running", sum.Trials.Running,
		"paused", sum.Trials.Paused,
		"stopped", sum.Trials.Stopped,
		"completed", sum.Trials.Completed,
	)
	return nil
}

// Start runs the controller and the checkpointer in the background.
func (s *Session) Start(ctx context.Context) {
	// The controller outlives ctx so the final checkpoint can still read it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.Controller.Run(runCtx)
	if s.Checkpointer == nil {
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		if err := s.Checkpointer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("checkpointer stopped", "error", err)
		}
	}()
}

// Close writes a final checkpoint, stops the controller and closes the
// store. It is safe to call on a session that was never started.
func (s *Session) Close() error {
	if s.done != nil {
		if s.Checkpointer != nil {
			s.Checkpointer.Stop()
		}
		<-s.done
		s.Controller.Stop()
		s.cancel()
	}
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
