// Package executor runs trials handed out by a Tuner and feeds their
// metrics back. Training code plugs in as a Trainable; it must stop at its
// next reporting boundary once a report is answered with PAUSE or STOP.
package executor

import (
	"context"

	"github.com/me/gotune/pkg/model"
)

// Tuner is the scheduler as seen by executors. It is satisfied by the
// in-process scheduler.Controller and by the remote worker.Client.
type Tuner interface {
	// RequestTrial returns the next unit of work.
	RequestTrial(ctx context.Context) (*model.Assignment, error)

	// Report records a metric at a resource level and returns the decision.
	Report(ctx context.Context, trialID string, resource int, metric float64) (*model.ReportResult, error)

	// StopTrial cancels a trial that cannot continue.
	StopTrial(ctx context.Context, trialID string) (*model.Trial, error)

	// IsFinished reports whether the run is over.
	IsFinished(ctx context.Context) (bool, error)
}

// TrialSpec describes the trial a Trainable should run.
type TrialSpec struct {
	TrialID string       `json:"trial_id"`
	Index   int          `json:"index"`
	Config  model.Config `json:"config"`
	// ResumeFrom is the resource level already reached. Zero for a new trial.
	ResumeFrom int `json:"resume_from"`
}

// SpecFor builds the spec of an assignment carrying a trial.
func SpecFor(a *model.Assignment) TrialSpec {
	return TrialSpec{
		TrialID:    a.Trial.ID,
		Index:      a.Trial.Index,
		Config:     a.Trial.Config,
		ResumeFrom: a.ResumeFrom,
	}
}

// Reporter sends one metric for the running trial and returns the decision.
type Reporter interface {
	Report(ctx context.Context, resource int, metric float64) (model.Decision, error)
}

// Trainable trains one trial, reporting metrics as resources are consumed.
// Train returns nil when it stopped because of a decision.
type Trainable interface {
	// Name identifies the trainable kind, e.g. "command".
	Name() string

	Train(ctx context.Context, spec TrialSpec, rep Reporter) error
}
