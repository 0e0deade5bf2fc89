package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/me/gotune/internal/asha"
	"github.com/me/gotune/pkg/model"
)

// snapshotVersion tags the checkpoint format.
const snapshotVersion = 1

type snapshot struct {
	Version      int             `json:"version"`
	Options      Options         `json:"options"`
	Sampled      int             `json:"sampled"`
	SamplingDone bool            `json:"sampling_done"`
	Seq          int64           `json:"seq"`
	ResumeQueue  []string        `json:"resume_queue"`
	Brackets     []*asha.Bracket `json:"brackets"`
	Trials       []*model.Trial  `json:"trials"`
}

// RestoreOptions controls how a checkpoint is loaded.
type RestoreOptions struct {
	// RequeueRunning turns trials that were RUNNING at checkpoint time into
	// paused trials queued for resume, for when their executors are gone.
	RequeueRunning bool
}

// Checkpoint serializes the complete state.
func (s *State) Checkpoint() ([]byte, error) {
	if s.fatal != nil {
		return nil, s.fatal
	}
	snap := snapshot{
		Version:      snapshotVersion,
		Options:      s.opts,
		Sampled:      s.sampled,
		SamplingDone: s.samplingDone,
		Seq:          s.seq,
		ResumeQueue:  append([]string{}, s.resumeQueue...),
		Brackets:     s.brackets,
		Trials:       s.ListTrials(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Restore replaces the state with a checkpoint. An inconsistent checkpoint
// fails with CORRUPT_STATE and leaves the state unusable.
func (s *State) Restore(data []byte, ro RestoreOptions) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return s.fail(model.NewCorruptStateError("decode checkpoint: %v", err))
	}
	if err := validateSnapshot(&snap); err != nil {
		return s.fail(err)
	}

	trials := make(map[string]*model.Trial, len(snap.Trials))
	for _, t := range snap.Trials {
		trials[t.ID] = t
	}

	// The concurrency limit may be changed on resume; the ladder and the
	// sample budget may not.
	opts := snap.Options
	if s.opts.MaxConcurrent > 0 {
		opts.MaxConcurrent = s.opts.MaxConcurrent
	}
	if s.opts.RunID != "" && s.opts.RunID != opts.RunID {
		s.logger.Warn("checkpoint belongs to another run", "checkpoint_run_id", opts.RunID)
	}

	s.opts = opts
	s.brackets = snap.Brackets
	s.trials = trials
	s.sampled = snap.Sampled
	s.samplingDone = snap.SamplingDone
	s.seq = snap.Seq
	s.resumeQueue = snap.ResumeQueue
	s.fatal = nil

	if ro.RequeueRunning {
		for _, t := range s.ListTrials() {
			if t.State == model.TrialStateRunning {
				if err := s.transition(s.trials[t.ID], model.TrialStatePaused); err != nil {
					return err
				}
				s.resumeQueue = append(s.resumeQueue, t.ID)
			}
		}
	}
	s.logger.Info("state restored", "sampled", s.sampled, "trials", len(s.trials), "requeued", ro.RequeueRunning)
	return nil
}

func validateSnapshot(snap *snapshot) error {
	if snap.Version != snapshotVersion {
		return model.NewCorruptStateError("unsupported checkpoint version %d", snap.Version)
	}
	if err := snap.Options.Validate(); err != nil {
		return model.NewCorruptStateError("checkpoint options: %v", err)
	}
	if len(snap.Brackets) == 0 {
		return model.NewCorruptStateError("checkpoint has no brackets")
	}
	assigned := 0
	for i, b := range snap.Brackets {
		if b == nil || b.ID != i {
			return model.NewCorruptStateError("bracket %d out of order", i)
		}
		if err := b.Rebuild(); err != nil {
			return model.NewCorruptStateError("%v", err)
		}
		assigned += b.Assigned
	}
	if snap.Sampled != len(snap.Trials) || assigned != len(snap.Trials) {
		return model.NewCorruptStateError("checkpoint has %d trials, %d sampled, %d assigned", len(snap.Trials), snap.Sampled, assigned)
	}

	queued := make(map[string]bool, len(snap.ResumeQueue))
	for _, id := range snap.ResumeQueue {
		queued[id] = true
	}
	seen := make(map[string]bool, len(snap.Trials))
	for _, t := range snap.Trials {
		if t == nil || t.ID == "" {
			return model.NewCorruptStateError("checkpoint has a trial without id")
		}
		if seen[t.ID] {
			return model.NewCorruptStateError("duplicate trial %s", t.ID)
		}
		seen[t.ID] = true
		if !t.State.Valid() {
			return model.NewCorruptStateError("trial %s has unknown state %q", t.ID, t.State)
		}
		if t.Bracket < 0 || t.Bracket >= len(snap.Brackets) {
			return model.NewCorruptStateError("trial %s references unknown bracket %d", t.ID, t.Bracket)
		}
		m, ok := snap.Brackets[t.Bracket].Members[t.ID]
		if !ok {
			return model.NewCorruptStateError("trial %s missing from bracket %d", t.ID, t.Bracket)
		}
		if m.Rung != t.Rung {
			return model.NewCorruptStateError("trial %s at rung %d, bracket says %d", t.ID, t.Rung, m.Rung)
		}
		if err := checkMembership(t, snap.Brackets[t.Bracket], m, queued[t.ID]); err != nil {
			return err
		}
		prev := -1
		for _, o := range t.Observations {
			if o.Resource < prev {
				return model.NewCorruptStateError("trial %s has decreasing resources", t.ID)
			}
			prev = o.Resource
			if o.Seq > snap.Seq {
				return model.NewCorruptStateError("trial %s observation seq %d beyond %d", t.ID, o.Seq, snap.Seq)
			}
		}
	}
	for _, id := range snap.ResumeQueue {
		if !seen[id] {
			return model.NewCorruptStateError("resume queue references unknown trial %s", id)
		}
	}
	return nil
}

// checkMembership makes sure some rung will still decide every live trial
// and none is left deciding a finished one.
func checkMembership(t *model.Trial, b *asha.Bracket, m *asha.Member, queued bool) error {
	if m.Done != t.State.IsTerminal() {
		return model.NewCorruptStateError("trial %s is %s but bracket %d has done=%v", t.ID, t.State, b.ID, m.Done)
	}
	waiting := false
	for k, r := range b.Rungs {
		e, ok := r.Lookup(t.ID)
		if !ok || e.Outcome != asha.OutcomePending {
			continue
		}
		if k != m.Rung || t.State != model.TrialStatePaused {
			return model.NewCorruptStateError("trial %s is %s but pending at rung %d of bracket %d", t.ID, t.State, k, b.ID)
		}
		waiting = true
	}
	if t.State == model.TrialStatePaused && !waiting && !queued {
		return model.NewCorruptStateError("paused trial %s is neither pending at a rung nor queued for resume", t.ID)
	}
	return nil
}
