package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/me/gotune/pkg/model"
)

// RunnerConfig holds runner configuration.
type RunnerConfig struct {
	// Parallel is the number of trials trained at the same time.
	Parallel int
	// Poll is how long a slot sleeps after the tuner answered WAIT.
	Poll time.Duration
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Parallel: 1, Poll: 200 * time.Millisecond}
}

// Stats counts what a runner did.
type Stats struct {
	Trials  int64 `json:"trials"`
	Resumed int64 `json:"resumed"`
	Reports int64 `json:"reports"`
	Failed  int64 `json:"failed"`
}

// Runner drives a Trainable with work from a Tuner until the tuner answers
// DONE.
type Runner struct {
	tuner     Tuner
	trainable Trainable
	config    RunnerConfig
	logger    *slog.Logger

	trials  atomic.Int64
	resumed atomic.Int64
	reports atomic.Int64
	failed  atomic.Int64
}

// NewRunner creates a runner.
func NewRunner(tuner Tuner, trainable Trainable, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultRunnerConfig().Poll
	}
	return &Runner{
		tuner:     tuner,
		trainable: trainable,
		config:    cfg,
		logger:    logger.With("component", "runner", "trainable", trainable.Name()),
	}
}

// Run starts Parallel slots and blocks until the tuner has no more work, a
// slot fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started", "parallel", r.config.Parallel)
	g, ctx := errgroup.WithContext(ctx)
	for slot := 0; slot < r.config.Parallel; slot++ {
		g.Go(func() error {
			return r.work(ctx, slot)
		})
	}
	err := g.Wait()
	st := r.Stats()
	r.logger.Info("runner finished", "trials", st.Trials, "resumed", st.Resumed, "reports", st.Reports, "failed", st.Failed)
	return err
}

// Stats returns the counters so far.
func (r *Runner) Stats() Stats {
	return Stats{
		Trials:  r.trials.Load(),
		Resumed: r.resumed.Load(),
		Reports: r.reports.Load(),
		Failed:  r.failed.Load(),
	}
}

func (r *Runner) work(ctx context.Context, slot int) error {
	logger := r.logger.With("slot", slot)
	for {
		a, err := r.tuner.RequestTrial(ctx)
		if err != nil {
			return fmt.Errorf("slot %d: request trial: %w", slot, err)
		}
		switch a.Kind {
		case model.AssignmentDone:
			logger.Debug("no more work")
			return nil
		case model.AssignmentWait:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.config.Poll):
			}
			continue
		}
		if a.Trial == nil {
			return fmt.Errorf("slot %d: %s assignment without trial", slot, a.Kind)
		}
		if err := r.runTrial(ctx, logger, a); err != nil {
			return err
		}
	}
}

// runTrial trains one assignment. Training failures stop the trial and
// are not returned; only tuner and context errors end the slot.
func (r *Runner) runTrial(ctx context.Context, logger *slog.Logger, a *model.Assignment) error {
	spec := SpecFor(a)
	if a.Kind == model.AssignmentResume {
		r.resumed.Add(1)
	} else {
		r.trials.Add(1)
	}
	logger.Info("training", "trial_id", spec.TrialID, "kind", a.Kind, "resume_from", spec.ResumeFrom)

	rep := &trialReporter{tuner: r.tuner, trialID: spec.TrialID, reports: &r.reports}
	trainErr := r.trainable.Train(ctx, spec, rep)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if rep.err != nil {
		var apiErr *model.APIError
		if !errors.As(rep.err, &apiErr) || apiErr.Code == model.ErrCorruptState {
			return fmt.Errorf("report %s: %w", spec.TrialID, rep.err)
		}
		r.failed.Add(1)
		logger.Warn("report rejected", "trial_id", spec.TrialID, "error", rep.err)
		// INVALID_REPORT already stopped the trial; anything else would
		// leave it holding its slot.
		if apiErr.Code == model.ErrInvalidReport {
			return nil
		}
		return r.stop(ctx, logger, spec.TrialID)
	}

	// Once the tuner paused or stopped the trial, how training ended does
	// not matter.
	if rep.reported && !rep.last.KeepsRunning() {
		if trainErr != nil {
			logger.Debug("trainable error after release", "trial_id", spec.TrialID, "error", trainErr)
		}
		logger.Debug("trial released", "trial_id", spec.TrialID, "decision", rep.last)
		return nil
	}

	reason := "trainable returned without reporting"
	switch {
	case trainErr != nil:
		reason = trainErr.Error()
	case rep.reported:
		reason = fmt.Sprintf("trainable returned after %s", rep.last)
	}

	r.failed.Add(1)
	logger.Warn("trial failed, stopping it", "trial_id", spec.TrialID, "reason", reason)
	return r.stop(ctx, logger, spec.TrialID)
}

// stop releases a trial the runner gave up on. A trial the tuner no longer
// knows needs no release.
func (r *Runner) stop(ctx context.Context, logger *slog.Logger, trialID string) error {
	_, err := r.tuner.StopTrial(ctx, trialID)
	if model.CodeOf(err) == model.ErrNotFound {
		logger.Debug("stop: trial unknown", "trial_id", trialID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop %s: %w", trialID, err)
	}
	return nil
}

// trialReporter binds a trial id to the tuner and remembers the last answer.
type trialReporter struct {
	tuner   Tuner
	trialID string
	reports *atomic.Int64

	reported bool
	last     model.Decision
	err      error
}

func (p *trialReporter) Report(ctx context.Context, resource int, metric float64) (model.Decision, error) {
	res, err := p.tuner.Report(ctx, p.trialID, resource, metric)
	if err != nil {
		p.err = err
		return model.DecisionStop, err
	}
	p.reports.Add(1)
	p.reported = true
	p.last = res.Decision
	return res.Decision, nil
}
