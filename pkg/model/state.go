package model

// TrialState represents the lifecycle state of a Trial.
type TrialState string

const (
	TrialStatePending   TrialState = "PENDING"
	TrialStateRunning   TrialState = "RUNNING"
	TrialStatePaused    TrialState = "PAUSED"
	TrialStateStopped   TrialState = "STOPPED"
	TrialStateCompleted TrialState = "COMPLETED"
)

// String returns the string representation of the trial state.
func (s TrialState) String() string {
	return string(s)
}

// IsTerminal returns true if the trial is in a final state.
func (s TrialState) IsTerminal() bool {
	switch s {
	case TrialStateStopped, TrialStateCompleted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known trial states.
func (s TrialState) Valid() bool {
	switch s {
	case TrialStatePending, TrialStateRunning, TrialStatePaused, TrialStateStopped, TrialStateCompleted:
		return true
	}
	return false
}

// ValidTrialTransitions defines the allowed state transitions for Trials.
// RUNNING → RUNNING is the CONTINUE/PROMOTE case.
var ValidTrialTransitions = map[TrialState][]TrialState{
	TrialStatePending: {TrialStateRunning, TrialStateStopped},
	TrialStateRunning: {TrialStateRunning, TrialStatePaused, TrialStateStopped, TrialStateCompleted},
	TrialStatePaused:  {TrialStateRunning, TrialStateStopped},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s TrialState) CanTransitionTo(next TrialState) bool {
	for _, allowed := range ValidTrialTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Decision is the control answer returned to an executor for a metric report.
type Decision string

const (
	// DecisionContinue: keep training until the next rung.
	DecisionContinue Decision = "CONTINUE"
	// DecisionPromote: the trial advanced to the next rung; keep training.
	DecisionPromote Decision = "PROMOTE"
	// DecisionPause: suspend and release the slot; the trial may be resumed
	// later through RequestTrial.
	DecisionPause Decision = "PAUSE"
	// DecisionStop: terminate the trial.
	DecisionStop Decision = "STOP"
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	return string(d)
}

// KeepsRunning reports whether the executor should keep training after d.
func (d Decision) KeepsRunning() bool {
	return d == DecisionContinue || d == DecisionPromote
}

// AssignmentKind says what RequestTrial handed out.
type AssignmentKind string

const (
	AssignmentNew    AssignmentKind = "NEW"
	AssignmentResume AssignmentKind = "RESUME"
	AssignmentWait   AssignmentKind = "WAIT"
	AssignmentDone   AssignmentKind = "DONE"
)

// String returns the string representation of the assignment kind.
func (k AssignmentKind) String() string {
	return string(k)
}

// HasTrial reports whether an assignment of this kind carries a trial to run.
func (k AssignmentKind) HasTrial() bool {
	return k == AssignmentNew || k == AssignmentResume
}

// Mode says whether higher or lower metric values are better.
type Mode string

const (
	ModeMax Mode = "max"
	ModeMin Mode = "min"
)
