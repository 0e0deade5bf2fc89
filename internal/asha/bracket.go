// Package asha implements the rung ladders of asynchronous successive
// halving: brackets of rungs at increasing resource levels, online
// promotion of the top 1/rf of each rung, and closing of rungs once no more
// reports can reach them.
//
// A Bracket is not safe for concurrent use; the scheduler serializes all
// calls.
package asha

import (
	"errors"
	"fmt"

	"github.com/me/gotune/pkg/model"
)

var (
	ErrUnknownTrial = errors.New("trial not in bracket")
	ErrBracketFull  = errors.New("bracket accepts no more trials")
)

// Member tracks one trial's position in its bracket.
type Member struct {
	// Rung is the index of the rung the trial is working towards, or
	// waiting at when it has an entry there.
	Rung int  `json:"rung"`
	Done bool `json:"done"`
}

// Event is a decision taken for a trial other than the reporter, e.g. a
// paused peer promoted by a later arrival or stopped when its rung closed.
type Event struct {
	TrialID  string
	Decision model.Decision
	Rung     int
}

// Result is the bracket's answer to one report.
type Result struct {
	Decision  model.Decision
	Rung      int
	Completed bool
	Duplicate bool
	Events    []Event
}

// Bracket is one successive-halving ladder.
type Bracket struct {
	ID       int                `json:"id"`
	Rungs    []*Rung            `json:"rungs"`
	Quota    int                `json:"quota"`
	Assigned int                `json:"assigned"`
	Sealed   bool               `json:"sealed"`
	Members  map[string]*Member `json:"members"`

	ReductionFactor float64 `json:"reduction_factor"`
	SmallerIsBetter bool    `json:"smaller_is_better"`
	Async           bool    `json:"async"`
}

func newBracket(id int, milestones []int, quota int, c Config) *Bracket {
	b := &Bracket{
		ID:              id,
		Quota:           quota,
		Members:         make(map[string]*Member),
		ReductionFactor: c.ReductionFactor,
		SmallerIsBetter: c.Mode == model.ModeMin,
		Async:           c.Async,
	}
	for _, m := range milestones {
		b.Rungs = append(b.Rungs, newRung(m))
	}
	return b
}

// Milestones returns the resource levels of the bracket's rungs.
func (b *Bracket) Milestones() []int {
	out := make([]int, len(b.Rungs))
	for i, r := range b.Rungs {
		out[i] = r.Resource
	}
	return out
}

// Open reports whether the bracket still accepts new trials.
func (b *Bracket) Open() bool {
	return !b.Sealed && b.Assigned < b.Quota
}

// Add registers a new trial.
func (b *Bracket) Add(trialID string) error {
	if !b.Open() {
		return ErrBracketFull
	}
	if _, ok := b.Members[trialID]; ok {
		return fmt.Errorf("trial %s already in bracket %d", trialID, b.ID)
	}
	b.Members[trialID] = &Member{}
	b.Assigned++
	if b.Assigned >= b.Quota {
		b.Sealed = true
	}
	return nil
}

// Seal stops the bracket from accepting trials, e.g. when sampling ended
// before the quota was reached. Rungs that can no longer receive reports
// close as a consequence.
func (b *Bracket) Seal() []Event {
	b.Sealed = true
	return b.settle()
}

// Drop removes a trial from competition after it was terminated outside the
// bracket (cancelled, invalid report).
func (b *Bracket) Drop(trialID string) ([]Event, error) {
	m, ok := b.Members[trialID]
	if !ok {
		return nil, ErrUnknownTrial
	}
	if m.Done {
		return nil, nil
	}
	m.Done = true
	if m.Rung < len(b.Rungs) {
		if e, ok := b.Rungs[m.Rung].Lookup(trialID); ok && e.Outcome == OutcomePending {
			e.Outcome = OutcomeStopped
		}
	}
	return b.settle(), nil
}

// OnReport handles a metric report of a member trial at a resource level.
// Levels below the trial's next rung get CONTINUE. Reaching the next rung
// records the metric there and yields PROMOTE, PAUSE or STOP; reaching the
// last rung completes the trial.
func (b *Bracket) OnReport(trialID string, resource int, metric float64, seq int64) (Result, error) {
	m, ok := b.Members[trialID]
	if !ok {
		return Result{}, ErrUnknownTrial
	}
	if m.Done {
		return Result{Decision: model.DecisionStop, Rung: m.Rung, Duplicate: true}, nil
	}
	if m.Rung >= len(b.Rungs) {
		return Result{}, fmt.Errorf("trial %s at rung %d of %d-rung bracket %d", trialID, m.Rung, len(b.Rungs), b.ID)
	}

	rung := b.Rungs[m.Rung]
	if e, ok := rung.Lookup(trialID); ok {
		return Result{Decision: decisionFor(e.Outcome), Rung: m.Rung, Duplicate: true}, nil
	}
	if resource < rung.Resource {
		return Result{Decision: model.DecisionContinue, Rung: m.Rung}, nil
	}

	k := m.Rung
	e := rung.record(trialID, metric, score(metric, b.SmallerIsBetter), seq)

	if k == len(b.Rungs)-1 {
		e.Outcome = OutcomeCompleted
		m.Done = true
		return Result{Decision: model.DecisionStop, Rung: k, Completed: true, Events: b.settle()}, nil
	}

	var events []Event
	if b.Async && !rung.Closed {
		events = append(events, b.promoteOpen(k)...)
	}
	if e.Outcome == OutcomePending && rung.activeAbove(e) >= b.maxSlots(k) {
		b.stop(k, e)
	}
	events = append(events, b.settle()...)

	// Fold decisions taken for the reporter back into its own answer.
	res := Result{Rung: m.Rung}
	for _, ev := range events {
		if ev.TrialID != trialID {
			res.Events = append(res.Events, ev)
		}
	}
	res.Decision = decisionFor(e.Outcome)
	return res, nil
}

// promoteOpen fills the promotion slots an open rung has earned so far.
func (b *Bracket) promoteOpen(k int) []Event {
	rung := b.Rungs[k]
	var events []Event
	for rung.Promoted() < slots(rung.Len(), b.ReductionFactor, false) {
		best := rung.bestPending()
		if best == nil {
			break
		}
		events = append(events, b.promote(k, best))
	}
	return events
}

func (b *Bracket) promote(k int, e *Entry) Event {
	e.Outcome = OutcomePromoted
	b.Members[e.TrialID].Rung = k + 1
	return Event{TrialID: e.TrialID, Decision: model.DecisionPromote, Rung: k + 1}
}

func (b *Bracket) stop(k int, e *Entry) Event {
	e.Outcome = OutcomeStopped
	b.Members[e.TrialID].Done = true
	return Event{TrialID: e.TrialID, Decision: model.DecisionStop, Rung: k}
}

// settle closes every rung that can no longer receive reports, lowest
// first, since closing rung k can make rung k+1 closable.
func (b *Bracket) settle() []Event {
	var events []Event
	for k := 0; k < len(b.Rungs)-1; k++ {
		rung := b.Rungs[k]
		if rung.Closed || !b.closable(k) {
			continue
		}
		rung.Closed = true
		for rung.Promoted() < slots(rung.Len(), b.ReductionFactor, true) {
			best := rung.bestPending()
			if best == nil {
				break
			}
			events = append(events, b.promote(k, best))
		}
		for _, e := range rung.Entries {
			if e.Outcome == OutcomePending {
				events = append(events, b.stop(k, e))
			}
		}
	}
	return events
}

// closable reports whether no further report can reach rung k.
func (b *Bracket) closable(k int) bool {
	if k == 0 {
		if !b.Sealed {
			return false
		}
	} else if !b.Rungs[k-1].Closed {
		return false
	}
	rung := b.Rungs[k]
	for id, m := range b.Members {
		if m.Done || m.Rung != k {
			continue
		}
		if _, ok := rung.Lookup(id); !ok {
			return false
		}
	}
	return true
}

// maxSlots bounds the promotions rung k can ever grant, from the largest
// population that can still reach it.
func (b *Bracket) maxSlots(k int) int {
	return slots(b.maxPopulation(k), b.ReductionFactor, true)
}

func (b *Bracket) maxPopulation(k int) int {
	if k == 0 {
		if b.Sealed {
			return b.Assigned
		}
		return b.Quota
	}
	prev := b.Rungs[k-1]
	if prev.Closed {
		return prev.Promoted()
	}
	return b.maxSlots(k - 1)
}

func decisionFor(o Outcome) model.Decision {
	switch o {
	case OutcomePromoted:
		return model.DecisionPromote
	case OutcomePending:
		return model.DecisionPause
	default:
		return model.DecisionStop
	}
}

// Rebuild restores lookup indexes after the bracket was decoded from a
// checkpoint and checks its internal consistency.
func (b *Bracket) Rebuild() error {
	if len(b.Rungs) == 0 {
		return fmt.Errorf("bracket %d has no rungs", b.ID)
	}
	if b.Members == nil {
		b.Members = make(map[string]*Member)
	}
	if b.ReductionFactor < 2 {
		return fmt.Errorf("bracket %d: reduction factor %v", b.ID, b.ReductionFactor)
	}
	for k, r := range b.Rungs {
		if k > 0 && r.Resource <= b.Rungs[k-1].Resource {
			return fmt.Errorf("bracket %d: rung %d resource %d not above %d", b.ID, k, r.Resource, b.Rungs[k-1].Resource)
		}
		r.reindex(b.SmallerIsBetter)
		if len(r.index) != len(r.Entries) {
			return fmt.Errorf("bracket %d: rung %d has duplicate entries", b.ID, k)
		}
		for _, e := range r.Entries {
			m, ok := b.Members[e.TrialID]
			if !ok {
				return fmt.Errorf("bracket %d: rung %d references unknown trial %s", b.ID, k, e.TrialID)
			}
			if m.Rung < k {
				return fmt.Errorf("bracket %d: trial %s recorded at rung %d but positioned at %d", b.ID, e.TrialID, k, m.Rung)
			}
			if k > 0 {
				if pe, ok := b.Rungs[k-1].Lookup(e.TrialID); !ok || pe.Outcome != OutcomePromoted {
					return fmt.Errorf("bracket %d: trial %s at rung %d was not promoted from rung %d", b.ID, e.TrialID, k, k-1)
				}
			}
			switch e.Outcome {
			case OutcomePending, OutcomePromoted, OutcomeStopped, OutcomeCompleted:
			default:
				return fmt.Errorf("bracket %d: unknown outcome %q", b.ID, e.Outcome)
			}
		}
	}
	for id, m := range b.Members {
		if m == nil || m.Rung < 0 || m.Rung >= len(b.Rungs) {
			return fmt.Errorf("bracket %d: trial %s has rung out of range", b.ID, id)
		}
	}
	if len(b.Members) != b.Assigned {
		return fmt.Errorf("bracket %d: %d members but %d assigned", b.ID, len(b.Members), b.Assigned)
	}
	return nil
}
