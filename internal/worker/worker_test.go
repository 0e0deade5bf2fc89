package worker

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/gotune/internal/asha"
	"github.com/me/gotune/internal/config"
	"github.com/me/gotune/internal/executor"
	"github.com/me/gotune/internal/sampler"
	"github.com/me/gotune/internal/scheduler"
	"github.com/me/gotune/internal/server"
	"github.com/me/gotune/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startServer runs a real API server for a small curve experiment.
func startServer(t *testing.T, numSamples int, keys ...string) (*httptest.Server, *scheduler.Controller) {
	t.Helper()
	t.Setenv("GOTUNE_WORKER_KEYS", "")
	space := sampler.Space{Params: []sampler.Param{
		{Name: "lr", Type: model.TypeFloat, Distribution: sampler.DistLogUniform, Low: 1e-4, High: 1},
		{Name: "depth", Type: model.TypeInt, Distribution: sampler.DistRandInt, Low: 1, High: 8},
	}}
	smp, err := sampler.NewRandom(space, 11)
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}
	ladder := asha.DefaultConfig()
	ladder.ReductionFactor = 3
	ladder.MaxResource = 9
	st, err := scheduler.NewState(scheduler.Options{
		RunID:         "run_worker",
		NumSamples:    numSamples,
		MaxConcurrent: 4,
		Seed:          11,
		Ladder:        ladder,
	}, smp, testLogger())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	ctrl := scheduler.NewController(st, testLogger())
	go ctrl.Run(context.Background())
	t.Cleanup(ctrl.Stop)

	cfg := config.DefaultServerConfig()
	cfg.WorkerKeys = keys
	ts := httptest.NewServer(server.New(cfg, ctrl, testLogger()))
	t.Cleanup(ts.Close)
	return ts, ctrl
}

func TestWorker_RunToCompletion(t *testing.T) {
	ts, ctrl := startServer(t, 9, "k1")

	w, err := New(Config{
		ServerURL: ts.URL,
		WorkerKey: "k1",
		WorkDir:   t.TempDir(),
		Parallel:  3,
		Poll:      time.Millisecond,
	}, executor.NewCurveTrainable(model.ModeMax, 9, 1), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Trials != 9 {
		t.Errorf("trials = %d, want 9", st.Trials)
	}
	if st.Failed != 0 {
		t.Errorf("failed = %d, want 0", st.Failed)
	}

	done, err := ctrl.IsFinished(ctx)
	if err != nil || !done {
		t.Fatalf("IsFinished = %v, %v; want true", done, err)
	}
	finished, err := w.client.IsFinished(ctx)
	if err != nil || !finished {
		t.Errorf("client IsFinished = %v, %v; want true", finished, err)
	}
}

func TestWorker_BadKey(t *testing.T) {
	ts, _ := startServer(t, 2, "k1")

	w, err := New(Config{
		ServerURL: ts.URL,
		WorkerKey: "nope",
		WorkDir:   t.TempDir(),
		Poll:      time.Millisecond,
	}, executor.NewCurveTrainable(model.ModeMax, 9, 1), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = w.Run(context.Background())
	if !IsUnauthorized(err) {
		t.Errorf("Run error = %v, want UNAUTHORIZED", err)
	}
}

func TestNew_RequiresServer(t *testing.T) {
	if _, err := New(Config{}, executor.NewCurveTrainable(model.ModeMax, 9, 1), testLogger()); err == nil {
		t.Error("expected error for missing server URL")
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	ts, _ := startServer(t, 2)
	c := NewClient(ts.URL, nil)
	ctx := context.Background()

	_, err := c.Report(ctx, "trial_00042", 1, 0.5)
	if got := model.CodeOf(err); got != model.ErrNotFound {
		t.Errorf("Report unknown code = %s, want NOT_FOUND (err %v)", got, err)
	}

	a, err := c.RequestTrial(ctx)
	if err != nil {
		t.Fatalf("RequestTrial: %v", err)
	}
	if a.Kind != model.AssignmentNew || a.Trial == nil {
		t.Fatalf("assignment = %+v, want NEW with trial", a)
	}
	res, err := c.Report(ctx, a.Trial.ID, 1, 0.5)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if res.Decision == "" {
		t.Error("empty decision")
	}
	tr, err := c.StopTrial(ctx, a.Trial.ID)
	if err != nil {
		t.Fatalf("StopTrial: %v", err)
	}
	if tr.State != model.TrialStateStopped {
		t.Errorf("state = %s, want STOPPED", tr.State)
	}
}

func TestClient_ReportNaN(t *testing.T) {
	ts, _ := startServer(t, 2)
	c := NewClient(ts.URL, nil)
	ctx := context.Background()

	a, err := c.RequestTrial(ctx)
	if err != nil {
		t.Fatalf("RequestTrial: %v", err)
	}
	_, err = c.Report(ctx, a.Trial.ID, 1, math.NaN())
	if got := model.CodeOf(err); got != model.ErrInvalidReport {
		t.Errorf("Report(NaN) code = %s, want INVALID_REPORT (err %v)", got, err)
	}
	_, err = c.Report(ctx, a.Trial.ID, 2, 0.5)
	if err != nil {
		t.Fatalf("Report after stop: %v", err)
	}
}

func TestClient_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","data":{"trial_id":"trial_00000","decision":"CONTINUE","state":"RUNNING"},"error":null}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	c.backoff = time.Millisecond
	res, err := c.Report(context.Background(), "trial_00000", 1, 1)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if res.Decision != model.DecisionContinue {
		t.Errorf("decision = %s, want CONTINUE", res.Decision)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_RequestTrialNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, nil)
	c.backoff = time.Millisecond
	if _, err := c.RequestTrial(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
