package model

import (
	"time"
)

// Trial is one training run with a fixed hyperparameter configuration.
type Trial struct {
	ID      string `json:"id"`
	Index   int    `json:"index"`
	Bracket int    `json:"bracket"`
	Config  Config `json:"config"`

	State TrialState `json:"state"`

	// Resource is the highest resource level reported so far.
	Resource int `json:"resource"`

	// Rung is the index of the next rung the trial has to reach in its bracket.
	Rung int `json:"rung"`

	Observations []Observation `json:"observations"`
	LastDecision Decision      `json:"last_decision,omitempty"`

	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Observation is one accepted metric report.
type Observation struct {
	Resource int     `json:"resource"`
	Metric   float64 `json:"metric"`
	Seq      int64   `json:"seq"`
}

// LastObservation returns the most recent observation, or nil.
func (t *Trial) LastObservation() *Observation {
	if len(t.Observations) == 0 {
		return nil
	}
	return &t.Observations[len(t.Observations)-1]
}

// Clone returns a deep copy safe to hand out of the controller.
func (t *Trial) Clone() *Trial {
	c := *t
	c.Config = t.Config.Clone()
	c.Observations = append([]Observation(nil), t.Observations...)
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Assignment is the answer to RequestTrial.
type Assignment struct {
	Kind  AssignmentKind `json:"kind"`
	Trial *Trial         `json:"trial,omitempty"`
	// ResumeFrom is the resource level a resumed trial already reached.
	ResumeFrom int `json:"resume_from,omitempty"`
}

// ReportResult is the answer to Report.
type ReportResult struct {
	TrialID  string     `json:"trial_id"`
	Decision Decision   `json:"decision"`
	State    TrialState `json:"state"`
	Rung     int        `json:"rung"`
	// Duplicate is set when the report was a redelivery and the stored
	// decision was returned without recording anything.
	Duplicate bool `json:"duplicate,omitempty"`
}

// TrialSummary provides an aggregate count of trial states.
type TrialSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Stopped   int `json:"stopped"`
	Completed int `json:"completed"`
}

// ComputeTrialSummary calculates the TrialSummary from a slice of Trials.
func ComputeTrialSummary(trials []*Trial) TrialSummary {
	s := TrialSummary{Total: len(trials)}
	for _, t := range trials {
		switch t.State {
		case TrialStatePending:
			s.Pending++
		case TrialStateRunning:
			s.Running++
		case TrialStatePaused:
			s.Paused++
		case TrialStateStopped:
			s.Stopped++
		case TrialStateCompleted:
			s.Completed++
		}
	}
	return s
}

// Status is the controller-wide progress snapshot.
type Status struct {
	RunID        string       `json:"run_id,omitempty"`
	Sampled      int          `json:"sampled"`
	NumSamples   int          `json:"num_samples"`
	SamplingDone bool         `json:"sampling_done"`
	Finished     bool         `json:"finished"`
	Trials       TrialSummary `json:"trials"`
	Best         *BestTrial   `json:"best,omitempty"`
}

// BestTrial identifies the trial with the best metric at the highest
// resource level reached by any trial.
type BestTrial struct {
	TrialID  string  `json:"trial_id"`
	Resource int     `json:"resource"`
	Metric   float64 `json:"metric"`
	Config   Config  `json:"config"`
}
