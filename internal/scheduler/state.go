package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/me/gotune/internal/asha"
	"github.com/me/gotune/internal/sampler"
	"github.com/me/gotune/pkg/model"
)

// Options configures a tuning run.
type Options struct {
	RunID         string      `json:"run_id"`
	NumSamples    int         `json:"num_samples"`
	MaxConcurrent int         `json:"max_concurrent"`
	Seed          uint64      `json:"seed"`
	Ladder        asha.Config `json:"ladder"`
}

// Validate checks the run options.
func (o Options) Validate() error {
	if o.NumSamples < 1 {
		return model.NewValidationError("num_samples must be >= 1")
	}
	if o.MaxConcurrent < 1 {
		return model.NewValidationError("max_concurrent must be >= 1")
	}
	if err := o.Ladder.Validate(); err != nil {
		return model.NewValidationError(err.Error())
	}
	return nil
}

// State is the complete scheduler state of one run. It has a single owner
// and is not safe for concurrent use; Controller serializes access.
type State struct {
	opts     Options
	sampler  sampler.Sampler
	brackets []*asha.Bracket
	trials   map[string]*model.Trial

	sampled      int
	samplingDone bool
	resumeQueue  []string
	seq          int64

	// fatal is sticky: once set every operation returns it.
	fatal error

	logger *slog.Logger
	now    func() time.Time
}

// NewState creates the state of a fresh run.
func NewState(opts Options, smp sampler.Sampler, logger *slog.Logger) (*State, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	brackets, err := asha.NewBrackets(opts.Ladder, opts.NumSamples)
	if err != nil {
		return nil, model.NewValidationError(err.Error())
	}
	return &State{
		opts:     opts,
		sampler:  smp,
		brackets: brackets,
		trials:   make(map[string]*model.Trial),
		logger:   logger.With("component", "scheduler", "run_id", opts.RunID),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// TrialID returns the id of the trial with the given sample index.
func TrialID(index int) string {
	return fmt.Sprintf("trial_%05d", index)
}

// Err returns the sticky fatal error, if any.
func (s *State) Err() error {
	return s.fatal
}

func (s *State) fail(err error) error {
	if s.fatal == nil {
		s.fatal = err
		s.logger.Error("scheduler state corrupt", "error", err)
	}
	return s.fatal
}

func (s *State) count(state model.TrialState) int {
	n := 0
	for _, t := range s.trials {
		if t.State == state {
			n++
		}
	}
	return n
}

// RequestTrial hands out the next unit of work: a promoted trial to resume,
// a newly sampled trial, WAIT when work may appear later, or DONE.
func (s *State) RequestTrial() (*model.Assignment, error) {
	if s.fatal != nil {
		return nil, s.fatal
	}
	if s.count(model.TrialStateRunning) >= s.opts.MaxConcurrent {
		return &model.Assignment{Kind: model.AssignmentWait}, nil
	}

	if a, err := s.popResume(); a != nil || err != nil {
		return a, err
	}

	if !s.samplingDone {
		t, err := s.sampleNext()
		if err != nil {
			return nil, err
		}
		if t != nil {
			return &model.Assignment{Kind: model.AssignmentNew, Trial: t.Clone()}, nil
		}
		// Closing rungs at the end of sampling may have promoted someone.
		if a, err := s.popResume(); a != nil || err != nil {
			return a, err
		}
	}

	for _, t := range s.trials {
		if !t.State.IsTerminal() {
			return &model.Assignment{Kind: model.AssignmentWait}, nil
		}
	}
	return &model.Assignment{Kind: model.AssignmentDone}, nil
}

func (s *State) popResume() (*model.Assignment, error) {
	for len(s.resumeQueue) > 0 {
		id := s.resumeQueue[0]
		s.resumeQueue = s.resumeQueue[1:]
		t, ok := s.trials[id]
		if !ok || t.State != model.TrialStatePaused {
			continue
		}
		if err := s.transition(t, model.TrialStateRunning); err != nil {
			return nil, err
		}
		t.LastDecision = model.DecisionPromote
		s.logger.Info("trial resumed", "trial_id", id, "bracket", t.Bracket, "rung", t.Rung, "resource", t.Resource)
		return &model.Assignment{Kind: model.AssignmentResume, Trial: t.Clone(), ResumeFrom: t.Resource}, nil
	}
	return nil, nil
}

// sampleNext creates the next trial, or returns nil once sampling is over.
func (s *State) sampleNext() (*model.Trial, error) {
	if s.sampled >= s.opts.NumSamples {
		return nil, s.finishSampling("sample budget reached")
	}
	index := s.sampled
	cfg, err := s.sampler.Sample(index)
	if err != nil {
		if !errors.Is(err, sampler.ErrExhausted) || errors.Is(err, sampler.ErrExprTimeout) {
			s.logger.Warn("sampler failed, treating as exhausted", "index", index, "error", err)
		}
		return nil, s.finishSampling("sampler exhausted")
	}
	b, err := asha.Assign(s.opts.Seed, index, s.brackets)
	if errors.Is(err, asha.ErrNoCapacity) {
		return nil, s.finishSampling("brackets full")
	}
	if err != nil {
		return nil, s.fail(model.NewCorruptStateError("assign trial %d: %v", index, err))
	}

	id := TrialID(index)
	if err := b.Add(id); err != nil {
		return nil, s.fail(model.NewCorruptStateError("add %s to bracket %d: %v", id, b.ID, err))
	}
	now := s.now()
	t := &model.Trial{
		ID:        id,
		Index:     index,
		Bracket:   b.ID,
		Config:    cfg,
		State:     model.TrialStatePending,
		CreatedAt: now,
	}
	s.trials[id] = t
	s.sampled++

	if err := s.transition(t, model.TrialStateRunning); err != nil {
		return nil, err
	}
	t.StartedAt = &now
	s.logger.Info("trial created", "trial_id", id, "bracket", b.ID, "milestones", b.Milestones())

	if b.Sealed {
		if err := s.apply(b.Seal()); err != nil {
			return nil, err
		}
	}
	if s.sampled >= s.opts.NumSamples {
		if err := s.finishSampling("sample budget reached"); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// finishSampling seals every bracket so rungs waiting for more arrivals can
// close.
func (s *State) finishSampling(reason string) error {
	if s.samplingDone {
		return nil
	}
	s.samplingDone = true
	s.logger.Info("sampling done", "reason", reason, "sampled", s.sampled)
	for _, b := range s.brackets {
		if err := s.apply(b.Seal()); err != nil {
			return err
		}
	}
	return nil
}

// apply carries out bracket decisions taken for trials other than the
// reporter.
func (s *State) apply(events []asha.Event) error {
	for _, ev := range events {
		t, ok := s.trials[ev.TrialID]
		if !ok {
			return s.fail(model.NewCorruptStateError("bracket references unknown trial %s", ev.TrialID))
		}
		switch ev.Decision {
		case model.DecisionPromote:
			t.Rung = ev.Rung
			if t.State == model.TrialStatePaused {
				s.resumeQueue = append(s.resumeQueue, t.ID)
			}
			s.logger.Info("trial promoted", "trial_id", t.ID, "bracket", t.Bracket, "rung", ev.Rung)
		case model.DecisionStop:
			if t.State.IsTerminal() {
				continue
			}
			if err := s.terminate(t, model.TrialStateStopped); err != nil {
				return err
			}
			s.logger.Info("trial stopped", "trial_id", t.ID, "bracket", t.Bracket, "rung", ev.Rung)
		}
	}
	return nil
}

// transition moves t to next. Any move outside model.ValidTrialTransitions
// means the scheduler lost track of the trial and is fatal.
func (s *State) transition(t *model.Trial, next model.TrialState) error {
	if !t.State.CanTransitionTo(next) {
		err := &model.InvalidTransitionError{Entity: "trial", ID: t.ID, From: string(t.State), To: string(next)}
		return s.fail(model.NewCorruptStateError("%v", err))
	}
	t.State = next
	return nil
}

func (s *State) terminate(t *model.Trial, state model.TrialState) error {
	if err := s.transition(t, state); err != nil {
		return err
	}
	now := s.now()
	t.LastDecision = model.DecisionStop
	t.CompletedAt = &now
	return nil
}

func (s *State) bracketOf(t *model.Trial) (*asha.Bracket, error) {
	if t.Bracket < 0 || t.Bracket >= len(s.brackets) {
		return nil, s.fail(model.NewCorruptStateError("trial %s references unknown bracket %d", t.ID, t.Bracket))
	}
	return s.brackets[t.Bracket], nil
}

// Report records a metric observation and returns the decision for the
// trial.
func (s *State) Report(trialID string, resource int, metric float64) (*model.ReportResult, error) {
	if s.fatal != nil {
		return nil, s.fatal
	}
	if resource < 0 {
		return nil, model.NewValidationError("resource must be >= 0", model.FieldError{Field: "resource", Message: "negative"})
	}
	t, ok := s.trials[trialID]
	if !ok {
		return nil, model.NewNotFoundError("trial", trialID)
	}
	result := func(dup bool) *model.ReportResult {
		return &model.ReportResult{TrialID: t.ID, Decision: t.LastDecision, State: t.State, Rung: t.Rung, Duplicate: dup}
	}

	switch t.State {
	case model.TrialStateStopped, model.TrialStateCompleted:
		r := result(true)
		r.Decision = model.DecisionStop
		return r, nil
	case model.TrialStatePending:
		return nil, &model.APIError{Code: model.ErrConflict, Message: fmt.Sprintf("trial '%s' has not been started", trialID)}
	}

	b, err := s.bracketOf(t)
	if err != nil {
		return nil, err
	}

	last := t.LastObservation()
	if last != nil && resource < last.Resource {
		return nil, s.rejectReport(t, b, resource, last.Resource)
	}
	// A paused trial waits for its rung; late reports are not recorded.
	if t.State == model.TrialStatePaused {
		r := result(true)
		r.Decision = model.DecisionPause
		return r, nil
	}
	if last != nil && resource == last.Resource {
		return result(true), nil
	}
	// A diverged trial cannot be ranked against its peers.
	if math.IsNaN(metric) || math.IsInf(metric, 0) {
		return nil, s.dropInvalid(t, b, model.NewNonFiniteMetricError(t.ID, resource, metric))
	}

	s.seq++
	t.Observations = append(t.Observations, model.Observation{Resource: resource, Metric: metric, Seq: s.seq})
	t.Resource = resource

	res, err := b.OnReport(t.ID, resource, metric, s.seq)
	if err != nil {
		return nil, s.fail(model.NewCorruptStateError("bracket %d: %s: %v", b.ID, t.ID, err))
	}
	if m, ok := b.Members[t.ID]; ok {
		t.Rung = m.Rung
	}
	t.LastDecision = res.Decision

	switch res.Decision {
	case model.DecisionPause:
		err = s.transition(t, model.TrialStatePaused)
	case model.DecisionStop:
		next := model.TrialStateStopped
		if res.Completed {
			next = model.TrialStateCompleted
		}
		err = s.terminate(t, next)
	}
	if err != nil {
		return nil, err
	}
	if err := s.apply(res.Events); err != nil {
		return nil, err
	}

	level := slog.LevelDebug
	if res.Decision != model.DecisionContinue {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "report",
		"trial_id", t.ID, "bracket", b.ID, "rung", t.Rung,
		"resource", resource, "metric", metric, "decision", res.Decision)

	return result(res.Duplicate), nil
}

// rejectReport stops a trial whose resource went backwards.
func (s *State) rejectReport(t *model.Trial, b *asha.Bracket, resource, previous int) error {
	apiErr := model.NewInvalidReportError(t.ID, resource, previous)
	return s.dropInvalid(t, b, apiErr)
}

// dropInvalid stops a trial whose report was rejected and takes it out of
// its bracket, so its rung does not wait for it.
func (s *State) dropInvalid(t *model.Trial, b *asha.Bracket, apiErr *model.APIError) error {
	if err := s.terminate(t, model.TrialStateStopped); err != nil {
		return err
	}
	t.ErrorCode = apiErr.Code
	t.ErrorMessage = apiErr.Message
	s.logger.Warn("invalid report", "trial_id", t.ID, "error", apiErr.Message)

	events, err := b.Drop(t.ID)
	if err != nil {
		return s.fail(model.NewCorruptStateError("bracket %d: drop %s: %v", b.ID, t.ID, err))
	}
	if err := s.apply(events); err != nil {
		return err
	}
	return apiErr
}

// Stop cancels a trial. Its next report receives STOP.
func (s *State) Stop(trialID string) (*model.Trial, error) {
	if s.fatal != nil {
		return nil, s.fatal
	}
	t, ok := s.trials[trialID]
	if !ok {
		return nil, model.NewNotFoundError("trial", trialID)
	}
	if t.State.IsTerminal() {
		return t.Clone(), nil
	}
	b, err := s.bracketOf(t)
	if err != nil {
		return nil, err
	}
	if err := s.terminate(t, model.TrialStateStopped); err != nil {
		return nil, err
	}
	s.logger.Info("trial cancelled", "trial_id", t.ID)

	events, err := b.Drop(t.ID)
	if err != nil {
		return nil, s.fail(model.NewCorruptStateError("bracket %d: drop %s: %v", b.ID, t.ID, err))
	}
	if err := s.apply(events); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// IsFinished reports whether the sample budget is used up and every trial
// reached a terminal state.
func (s *State) IsFinished() bool {
	if !s.samplingDone {
		return false
	}
	for _, t := range s.trials {
		if !t.State.IsTerminal() {
			return false
		}
	}
	return true
}

// ListTrials returns copies of all trials ordered by id.
func (s *State) ListTrials() []*model.Trial {
	out := make([]*model.Trial, 0, len(s.trials))
	for _, t := range s.trials {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trial returns a copy of one trial.
func (s *State) Trial(id string) (*model.Trial, error) {
	t, ok := s.trials[id]
	if !ok {
		return nil, model.NewNotFoundError("trial", id)
	}
	return t.Clone(), nil
}

// Summary returns run progress and the best trial so far.
func (s *State) Summary() *model.Status {
	trials := make([]*model.Trial, 0, len(s.trials))
	for _, t := range s.trials {
		trials = append(trials, t)
	}
	return &model.Status{
		RunID:        s.opts.RunID,
		Sampled:      s.sampled,
		NumSamples:   s.opts.NumSamples,
		SamplingDone: s.samplingDone,
		Finished:     s.IsFinished(),
		Trials:       model.ComputeTrialSummary(trials),
		Best:         s.best(),
	}
}

// best picks the best metric at the highest resource level any trial
// reached. Ties go to the lower trial id.
func (s *State) best() *model.BestTrial {
	smaller := s.opts.Ladder.Mode == model.ModeMin
	var best *model.BestTrial
	for _, t := range s.ListTrials() {
		last := t.LastObservation()
		if last == nil {
			continue
		}
		better := best == nil ||
			last.Resource > best.Resource ||
			(last.Resource == best.Resource && ((smaller && last.Metric < best.Metric) || (!smaller && last.Metric > best.Metric)))
		if better {
			best = &model.BestTrial{TrialID: t.ID, Resource: last.Resource, Metric: last.Metric, Config: t.Config}
		}
	}
	return best
}
