package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/me/gotune/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun(id string) *model.Run {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Run{
		ID:            id,
		Name:          "mnist-asha",
		Metric:        "accuracy",
		Mode:          model.ModeMax,
		NumSamples:    16,
		MaxConcurrent: 4,
		Seed:          1 << 63,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func sampleTrial(index int, state model.TrialState) *model.Trial {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Trial{
		ID:      fmt.Sprintf("trial_%05d", index),
		Index:   index,
		Bracket: 0,
		Config: model.Config{
			"lr":     model.FloatValue(0.01),
			"layers": model.IntValue(3),
		},
		State:        state,
		Resource:     4,
		Rung:         1,
		Observations: []model.Observation{{Resource: 1, Metric: 0.5, Seq: 1}, {Resource: 4, Metric: 0.7, Seq: 9}},
		LastDecision: model.DecisionPromote,
		CreatedAt:    now,
		StartedAt:    &now,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun("run_a")

	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Name != run.Name || got.Mode != run.Mode || got.NumSamples != run.NumSamples {
		t.Errorf("got %+v, want %+v", got, run)
	}
	if got.Seed != run.Seed {
		t.Errorf("Seed = %d, want %d", got.Seed, run.Seed)
	}
	if got.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", got.MaxConcurrent)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListRuns(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		run := sampleRun(fmt.Sprintf("run_%d", i))
		run.CreatedAt = run.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, total, err := st.ListRuns(ctx, model.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != "run_2" {
		t.Errorf("first = %q, want newest run_2", runs[0].ID)
	}
}

func TestCheckpoints(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	data, err := st.LatestCheckpoint(ctx, "run_a")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if data != nil {
		t.Errorf("expected no checkpoint, got %q", data)
	}

	for i := 0; i < keepCheckpoints+3; i++ {
		if err := st.SaveCheckpoint(ctx, "run_a", []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("SaveCheckpoint %d: %v", i, err)
		}
	}
	if err := st.SaveCheckpoint(ctx, "run_b", []byte(`{"other":true}`)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	data, err = st.LatestCheckpoint(ctx, "run_a")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	want := fmt.Sprintf(`{"n":%d}`, keepCheckpoints+2)
	if string(data) != want {
		t.Errorf("latest = %s, want %s", data, want)
	}

	var n int
	if err := st.db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE run_id = 'run_a'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != keepCheckpoints {
		t.Errorf("kept %d checkpoints, want %d", n, keepCheckpoints)
	}
}

func TestSaveAndListTrials(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	trials := []*model.Trial{
		sampleTrial(1, model.TrialStateRunning),
		sampleTrial(0, model.TrialStatePaused),
		sampleTrial(2, model.TrialStateStopped),
	}
	if err := st.SaveTrials(ctx, "run_a", trials); err != nil {
		t.Fatalf("SaveTrials: %v", err)
	}

	got, total, err := st.ListTrials(ctx, "run_a", model.ListOptions{})
	if err != nil {
		t.Fatalf("ListTrials: %v", err)
	}
	if total != 3 || len(got) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", total, len(got))
	}
	if got[0].ID != "trial_00000" {
		t.Errorf("first = %q, want trial_00000", got[0].ID)
	}
	if got[0].Config["layers"] != model.IntValue(3) {
		t.Errorf("layers = %v, want int 3", got[0].Config["layers"])
	}
	if len(got[0].Observations) != 2 || got[0].Observations[1].Metric != 0.7 {
		t.Errorf("observations = %+v", got[0].Observations)
	}
	if got[0].StartedAt == nil || got[0].CompletedAt != nil {
		t.Errorf("timestamps = %v / %v", got[0].StartedAt, got[0].CompletedAt)
	}

	// Upsert moves a trial to a new state.
	trials[0].State = model.TrialStateCompleted
	trials[0].LastDecision = model.DecisionStop
	now := time.Now().UTC()
	trials[0].CompletedAt = &now
	if err := st.SaveTrials(ctx, "run_a", trials[:1]); err != nil {
		t.Fatalf("SaveTrials: %v", err)
	}

	done, total, err := st.ListTrials(ctx, "run_a", model.ListOptions{State: model.TrialStateCompleted})
	if err != nil {
		t.Fatalf("ListTrials: %v", err)
	}
	if total != 1 || len(done) != 1 {
		t.Fatalf("completed total = %d, want 1", total)
	}
	if done[0].ID != "trial_00001" || done[0].CompletedAt == nil {
		t.Errorf("got %+v", done[0])
	}

	other, total, err := st.ListTrials(ctx, "run_b", model.ListOptions{})
	if err != nil {
		t.Fatalf("ListTrials: %v", err)
	}
	if total != 0 || len(other) != 0 {
		t.Errorf("run_b has %d trials, want 0", total)
	}
}

func TestOpen_SQLite(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	cs, err := Open(context.Background(), t.TempDir()+"/gotune.db", logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cs.Close()
	if _, ok := cs.(*SQLiteStore); !ok {
		t.Errorf("Open returned %T, want *SQLiteStore", cs)
	}
}
