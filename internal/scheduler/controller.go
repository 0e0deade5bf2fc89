package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/me/gotune/pkg/model"
)

// ErrControllerStopped is returned by calls made after the controller
// stopped.
var ErrControllerStopped = errors.New("controller stopped")

// Controller owns a State and serves calls from many goroutines through a
// single mailbox. Calls are applied one at a time in arrival order and never
// wait for training.
type Controller struct {
	state   *State
	mailbox chan func(*State)
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *slog.Logger
}

// NewController wraps st. Call Run to start serving.
func NewController(st *State, logger *slog.Logger) *Controller {
	return &Controller{
		state:   st,
		mailbox: make(chan func(*State)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger.With("component", "controller"),
	}
}

// Run serves calls until ctx is cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Debug("controller started")
	defer close(c.doneCh)
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("controller stopping (context cancelled)")
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Debug("controller stopping (stop called)")
			return nil
		case fn := <-c.mailbox:
			fn(c.state)
		}
	}
}

// Stop ends Run and waits for it to return.
func (c *Controller) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.doneCh
}

// call runs fn on the owning goroutine and waits for it.
func call[T any](ctx context.Context, c *Controller, fn func(*State) (T, error)) (T, error) {
	var zero T
	type reply struct {
		v   T
		err error
	}
	ch := make(chan reply, 1)
	msg := func(s *State) {
		v, err := fn(s)
		ch <- reply{v, err}
	}
	select {
	case c.mailbox <- msg:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.doneCh:
		return zero, ErrControllerStopped
	}
	// The owner always replies once it accepted the message.
	r := <-ch
	return r.v, r.err
}

// RequestTrial hands out the next trial to work on.
func (c *Controller) RequestTrial(ctx context.Context) (*model.Assignment, error) {
	return call(ctx, c, (*State).RequestTrial)
}

// Report records a metric and returns the decision.
func (c *Controller) Report(ctx context.Context, trialID string, resource int, metric float64) (*model.ReportResult, error) {
	return call(ctx, c, func(s *State) (*model.ReportResult, error) {
		return s.Report(trialID, resource, metric)
	})
}

// StopTrial cancels a trial.
func (c *Controller) StopTrial(ctx context.Context, trialID string) (*model.Trial, error) {
	return call(ctx, c, func(s *State) (*model.Trial, error) {
		return s.Stop(trialID)
	})
}

// IsFinished reports whether the run is over.
func (c *Controller) IsFinished(ctx context.Context) (bool, error) {
	return call(ctx, c, func(s *State) (bool, error) {
		if err := s.Err(); err != nil {
			return false, err
		}
		return s.IsFinished(), nil
	})
}

// ListTrials returns all trials ordered by id.
func (c *Controller) ListTrials(ctx context.Context) ([]*model.Trial, error) {
	return call(ctx, c, func(s *State) ([]*model.Trial, error) {
		return s.ListTrials(), nil
	})
}

// Trial returns one trial.
func (c *Controller) Trial(ctx context.Context, id string) (*model.Trial, error) {
	return call(ctx, c, func(s *State) (*model.Trial, error) {
		return s.Trial(id)
	})
}

// Summary returns run progress.
func (c *Controller) Summary(ctx context.Context) (*model.Status, error) {
	return call(ctx, c, func(s *State) (*model.Status, error) {
		return s.Summary(), nil
	})
}

// Checkpoint serializes the state.
func (c *Controller) Checkpoint(ctx context.Context) ([]byte, error) {
	return call(ctx, c, (*State).Checkpoint)
}

// Restore replaces the state with a checkpoint.
func (c *Controller) Restore(ctx context.Context, data []byte, ro RestoreOptions) error {
	_, err := call(ctx, c, func(s *State) (struct{}, error) {
		return struct{}{}, s.Restore(data, ro)
	})
	return err
}
