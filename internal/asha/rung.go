package asha

import (
	"math"
	"sort"
)

// Outcome is the state of one trial's record at one rung. Pending is the
// only outcome that can still change.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomePromoted  Outcome = "promoted"
	OutcomeStopped   Outcome = "stopped"
	OutcomeCompleted Outcome = "completed"
)

// Final reports whether the outcome can no longer change.
func (o Outcome) Final() bool {
	return o != OutcomePending
}

// Entry is one trial's report at a rung.
type Entry struct {
	TrialID string  `json:"trial_id"`
	Metric  float64 `json:"metric"`
	Score   float64 `json:"-"`
	Seq     int64   `json:"seq"`
	Outcome Outcome `json:"outcome"`
}

// Rung is a resource checkpoint at which trials are compared.
type Rung struct {
	Resource int      `json:"resource"`
	Entries  []*Entry `json:"entries"`
	Closed   bool     `json:"closed"`

	index map[string]*Entry
}

func newRung(resource int) *Rung {
	return &Rung{Resource: resource, index: make(map[string]*Entry)}
}

// reindex rebuilds the lookup map and scores after decoding.
func (r *Rung) reindex(smallerIsBetter bool) {
	r.index = make(map[string]*Entry, len(r.Entries))
	for _, e := range r.Entries {
		e.Score = score(e.Metric, smallerIsBetter)
		r.index[e.TrialID] = e
	}
}

// Lookup returns the entry of a trial, if it reported at this rung.
func (r *Rung) Lookup(trialID string) (*Entry, bool) {
	e, ok := r.index[trialID]
	return e, ok
}

func (r *Rung) record(trialID string, metric, score float64, seq int64) *Entry {
	e := &Entry{TrialID: trialID, Metric: metric, Score: score, Seq: seq, Outcome: OutcomePending}
	r.Entries = append(r.Entries, e)
	r.index[trialID] = e
	return e
}

// Len is the number of reports recorded at this rung.
func (r *Rung) Len() int {
	return len(r.Entries)
}

// Promoted counts entries promoted to the next rung.
func (r *Rung) Promoted() int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == OutcomePromoted {
			n++
		}
	}
	return n
}

// Ranked returns the entries best first. Equal scores keep arrival order.
func (r *Rung) Ranked() []*Entry {
	out := append([]*Entry(nil), r.Entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return ranksAbove(out[i], out[j])
	})
	return out
}

// ranksAbove orders by score, then by arrival.
func ranksAbove(a, b *Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}

// activeAbove counts entries that outrank e and still hold or can still
// take a promotion slot.
func (r *Rung) activeAbove(e *Entry) int {
	n := 0
	for _, o := range r.Entries {
		if o == e || !ranksAbove(o, e) {
			continue
		}
		if o.Outcome == OutcomePromoted || o.Outcome == OutcomePending {
			n++
		}
	}
	return n
}

// bestPending returns the highest ranked pending entry, or nil.
func (r *Rung) bestPending() *Entry {
	var best *Entry
	for _, e := range r.Entries {
		if e.Outcome != OutcomePending {
			continue
		}
		if best == nil || ranksAbove(e, best) {
			best = e
		}
	}
	return best
}

// slots is the number of promotions allowed for n reports. A closed rung
// with any report always lets its best trial through.
func slots(n int, rf float64, closed bool) int {
	s := int(math.Floor(float64(n) / rf))
	if closed && n > 0 && s < 1 {
		s = 1
	}
	return s
}

// score normalizes a metric so that higher is always better. NaN ranks last.
func score(metric float64, smallerIsBetter bool) float64 {
	if math.IsNaN(metric) {
		return math.Inf(-1)
	}
	if smallerIsBetter {
		return -metric
	}
	return metric
}
