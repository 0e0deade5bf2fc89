package asha

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"

	"github.com/me/gotune/pkg/model"
)

func singleBracket(t *testing.T, c Config, n int) *Bracket {
	t.Helper()
	bs, err := NewBrackets(c, n)
	if err != nil {
		t.Fatalf("NewBrackets: %v", err)
	}
	if len(bs) != 1 {
		t.Fatalf("len(brackets) = %d, want 1", len(bs))
	}
	b := bs[0]
	for i := 0; i < n; i++ {
		if err := b.Add(fmt.Sprintf("t%d", i)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return b
}

func report(t *testing.T, b *Bracket, id string, resource int, metric float64, seq int64) Result {
	t.Helper()
	res, err := b.OnReport(id, resource, metric, seq)
	if err != nil {
		t.Fatalf("OnReport(%s, %d, %v): %v", id, resource, metric, err)
	}
	return res
}

func scenarioConfig() Config {
	c := DefaultConfig()
	c.Rungs = []int{1, 4, 16}
	return c
}

func TestBracket_AsyncScenario(t *testing.T) {
	b := singleBracket(t, scenarioConfig(), 8)
	if !b.Sealed {
		t.Fatal("bracket should be sealed once its quota is assigned")
	}

	metrics := []float64{81.5, 87.9, 50.2, 10.1, 94.7, 73.4, 8.3, 11.5}
	want := []model.Decision{
		model.DecisionPause, // 81.5
		model.DecisionPause, // 87.9
		model.DecisionStop,  // 50.2: two pending above it, two slots at most
		model.DecisionStop,  // 10.1
		model.DecisionPause, // 94.7
		model.DecisionStop,  // 73.4
		model.DecisionStop,  // 8.3
		model.DecisionStop,  // 11.5
	}

	var events []Event
	for i, m := range metrics {
		res := report(t, b, fmt.Sprintf("t%d", i), 1, m, int64(i))
		if res.Decision != want[i] || res.Rung != 0 {
			t.Errorf("report %d (metric %v) = %s at rung %d, want %s at rung 0", i, m, res.Decision, res.Rung, want[i])
		}
		events = append(events, res.Events...)
	}

	// 87.9 promoted on the 4th report, 94.7 on the 8th, 81.5 stopped when
	// the rung closed.
	wantEvents := []Event{
		{TrialID: "t1", Decision: model.DecisionPromote, Rung: 1},
		{TrialID: "t4", Decision: model.DecisionPromote, Rung: 1},
		{TrialID: "t0", Decision: model.DecisionStop, Rung: 0},
	}
	if !reflect.DeepEqual(events, wantEvents) {
		t.Errorf("events = %v, want %v", events, wantEvents)
	}

	rung := b.Rungs[0]
	if !rung.Closed || rung.Promoted() != 2 {
		t.Errorf("rung 0 closed = %v promoted = %d, want closed with 2", rung.Closed, rung.Promoted())
	}
	for _, e := range rung.Entries {
		want := OutcomeStopped
		if e.TrialID == "t1" || e.TrialID == "t4" {
			want = OutcomePromoted
		}
		if e.Outcome != want {
			t.Errorf("%s outcome = %s, want %s", e.TrialID, e.Outcome, want)
		}
	}
	if b.Rungs[1].Closed {
		t.Error("rung 1 should still be open")
	}
	if b.Members["t1"].Rung != 1 || b.Members["t4"].Rung != 1 {
		t.Errorf("member rungs = %d/%d, want 1/1", b.Members["t1"].Rung, b.Members["t4"].Rung)
	}
}

func TestBracket_ContinueBelowMilestone(t *testing.T) {
	c := scenarioConfig()
	c.Rungs = []int{3, 9, 27}
	b := singleBracket(t, c, 4)

	for _, r := range []int{1, 2} {
		if res := report(t, b, "t0", r, 0.5, int64(r)); res.Decision != model.DecisionContinue {
			t.Errorf("resource %d decision = %s, want CONTINUE", r, res.Decision)
		}
	}
	if res := report(t, b, "t0", 3, 0.5, 3); res.Decision != model.DecisionPause {
		t.Errorf("milestone decision = %s, want PAUSE", res.Decision)
	}
}

func TestBracket_OvershootRecordsAtNextRung(t *testing.T) {
	b := singleBracket(t, scenarioConfig(), 8)

	// A report past the milestone counts for the rung the trial was working
	// towards.
	if res := report(t, b, "t0", 3, 1.0, 1); res.Decision != model.DecisionPause {
		t.Errorf("decision = %s, want PAUSE", res.Decision)
	}
	if _, ok := b.Rungs[0].Lookup("t0"); !ok {
		t.Error("t0 not recorded at rung 0")
	}
}

func TestBracket_DuplicateRedelivers(t *testing.T) {
	b := singleBracket(t, scenarioConfig(), 8)

	first := report(t, b, "t0", 1, 1.0, 1)
	again := report(t, b, "t0", 1, 2.0, 2)
	if again.Decision != first.Decision || !again.Duplicate {
		t.Errorf("redelivery = %+v, want duplicate %s", again, first.Decision)
	}
	if n := b.Rungs[0].Len(); n != 1 {
		t.Errorf("rung 0 len = %d, want 1", n)
	}
	if e, _ := b.Rungs[0].Lookup("t0"); e.Metric != 1.0 {
		t.Errorf("recorded metric = %v, want 1", e.Metric)
	}
}

func TestBracket_UnknownTrial(t *testing.T) {
	b := singleBracket(t, scenarioConfig(), 2)
	if _, err := b.OnReport("nope", 1, 1, 1); !errors.Is(err, ErrUnknownTrial) {
		t.Errorf("OnReport error = %v, want ErrUnknownTrial", err)
	}
	if _, err := b.Drop("nope"); !errors.Is(err, ErrUnknownTrial) {
		t.Errorf("Drop error = %v, want ErrUnknownTrial", err)
	}
}

func TestBracket_AddBeyondQuota(t *testing.T) {
	b := singleBracket(t, scenarioConfig(), 2)
	if err := b.Add("extra"); !errors.Is(err, ErrBracketFull) {
		t.Errorf("Add error = %v, want ErrBracketFull", err)
	}
}

func TestBracket_MinMode(t *testing.T) {
	c := scenarioConfig()
	c.Mode = model.ModeMin
	b := singleBracket(t, c, 4)

	for i, m := range []float64{0.9, 0.1, 0.5, 0.7} {
		report(t, b, fmt.Sprintf("t%d", i), 1, m, int64(i))
	}
	rung := b.Rungs[0]
	if !rung.Closed {
		t.Fatal("rung 0 should be closed")
	}
	if e, _ := rung.Lookup("t1"); e.Outcome != OutcomePromoted {
		t.Errorf("t1 outcome = %s, want promoted", e.Outcome)
	}
	if rung.Promoted() != 1 {
		t.Errorf("Promoted() = %d, want 1", rung.Promoted())
	}
}

func TestBracket_SyncModeWaitsForClose(t *testing.T) {
	c := scenarioConfig()
	c.Async = false
	b := singleBracket(t, c, 8)

	metrics := []float64{81.5, 87.9, 50.2, 10.1, 94.7, 73.4, 8.3, 11.5}
	for i, m := range metrics[:7] {
		res := report(t, b, fmt.Sprintf("t%d", i), 1, m, int64(i))
		if res.Decision == model.DecisionPromote || len(res.Events) != 0 {
			t.Errorf("report %d = %+v, want no promotion before close", i, res)
		}
	}
	res := report(t, b, "t7", 1, metrics[7], 7)
	if res.Decision != model.DecisionStop {
		t.Errorf("last decision = %s, want STOP", res.Decision)
	}
	var promoted []string
	for _, ev := range res.Events {
		if ev.Decision == model.DecisionPromote {
			promoted = append(promoted, ev.TrialID)
		}
	}
	sort.Strings(promoted)
	if !reflect.DeepEqual(promoted, []string{"t1", "t4"}) {
		t.Errorf("promoted = %v, want [t1 t4]", promoted)
	}
}

func TestBracket_FullLadderCompletes(t *testing.T) {
	c := DefaultConfig()
	c.Rungs = []int{1, 2}
	c.ReductionFactor = 2
	b := singleBracket(t, c, 2)

	if r0 := report(t, b, "t0", 1, 1.0, 1); r0.Decision != model.DecisionPause {
		t.Errorf("t0 decision = %s, want PAUSE", r0.Decision)
	}

	r1 := report(t, b, "t1", 1, 2.0, 2)
	if r1.Decision != model.DecisionPromote {
		t.Errorf("t1 decision = %s, want PROMOTE", r1.Decision)
	}
	wantEvents := []Event{{TrialID: "t0", Decision: model.DecisionStop, Rung: 0}}
	if !reflect.DeepEqual(r1.Events, wantEvents) {
		t.Errorf("events = %v, want %v", r1.Events, wantEvents)
	}

	done := report(t, b, "t1", 2, 3.0, 3)
	if done.Decision != model.DecisionStop || !done.Completed || done.Rung != 1 {
		t.Errorf("top rung result = %+v, want completed STOP at rung 1", done)
	}

	after := report(t, b, "t1", 3, 3.0, 4)
	if after.Decision != model.DecisionStop || !after.Duplicate {
		t.Errorf("late report = %+v, want duplicate STOP", after)
	}
}

func TestBracket_SealClosesPartialRung(t *testing.T) {
	bs, err := NewBrackets(scenarioConfig(), 8)
	if err != nil {
		t.Fatal(err)
	}
	b := bs[0]
	for i := 0; i < 3; i++ {
		if err := b.Add(fmt.Sprintf("t%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	for i, m := range []float64{3, 1, 2} {
		if res := report(t, b, fmt.Sprintf("t%d", i), 1, m, int64(i)); res.Decision != model.DecisionPause {
			t.Errorf("t%d decision = %s, want PAUSE", i, res.Decision)
		}
	}
	if b.Rungs[0].Closed {
		t.Fatal("rung 0 closed before seal")
	}

	events := b.Seal()
	if !b.Rungs[0].Closed {
		t.Error("rung 0 should close on seal")
	}
	want := []Event{
		{TrialID: "t0", Decision: model.DecisionPromote, Rung: 1},
		{TrialID: "t1", Decision: model.DecisionStop, Rung: 0},
		{TrialID: "t2", Decision: model.DecisionStop, Rung: 0},
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("Seal() = %v, want %v", events, want)
	}
}

func TestBracket_DropUnblocksClose(t *testing.T) {
	b := singleBracket(t, scenarioConfig(), 4)
	for i, m := range []float64{1, 2, 3} {
		report(t, b, fmt.Sprintf("t%d", i), 1, m, int64(i))
	}
	if b.Rungs[0].Closed {
		t.Fatal("rung 0 closed early")
	}

	events, err := b.Drop("t3")
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if !b.Rungs[0].Closed {
		t.Error("rung 0 should close once the last member is dropped")
	}
	promote := Event{TrialID: "t2", Decision: model.DecisionPromote, Rung: 1}
	found := false
	for _, ev := range events {
		if ev == promote {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want %v among them", events, promote)
	}

	again, err := b.Drop("t3")
	if err != nil || len(again) != 0 {
		t.Errorf("second Drop = %v, %v, want no events", again, err)
	}
}

func TestBracket_CheckpointRoundTrip(t *testing.T) {
	b := singleBracket(t, scenarioConfig(), 8)
	for i, m := range []float64{81.5, 87.9, 50.2, 10.1, 94.7} {
		report(t, b, fmt.Sprintf("t%d", i), 1, m, int64(i))
	}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var restored Bracket
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := restored.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	for i, m := range []float64{73.4, 8.3, 11.5} {
		id := fmt.Sprintf("t%d", i+5)
		want := report(t, b, id, 1, m, int64(i+5))
		got := report(t, &restored, id, 1, m, int64(i+5))
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: restored = %+v, want %+v", id, got, want)
		}
	}
}

func TestBracket_RebuildRejectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *Bracket)
	}{
		{"unknown trial", func(b *Bracket) { b.Rungs[0].Entries[0].TrialID = "ghost" }},
		{"bad outcome", func(b *Bracket) { b.Rungs[0].Entries[0].Outcome = "lost" }},
		{"assigned mismatch", func(b *Bracket) { b.Assigned = 7 }},
		{"rungs out of order", func(b *Bracket) { b.Rungs[1].Resource = 1 }},
		{"no rungs", func(b *Bracket) { b.Rungs = nil }},
		{"skipped promotion", func(b *Bracket) {
			b.Rungs[1].Entries = append(b.Rungs[1].Entries, &Entry{TrialID: "t0", Outcome: OutcomePending})
			b.Members["t0"].Rung = 1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := singleBracket(t, scenarioConfig(), 2)
			report(t, b, "t0", 1, 1, 1)
			tt.mutate(b)
			if err := b.Rebuild(); err == nil {
				t.Error("Rebuild() should fail")
			}
		})
	}
}
