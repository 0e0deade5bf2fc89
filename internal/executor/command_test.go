package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/gotune/pkg/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type report struct {
	Resource int
	Metric   float64
}

// scriptedReporter answers CONTINUE until stopAt is reached.
type scriptedReporter struct {
	mu      sync.Mutex
	stopAt  int
	reports []report
}

func (r *scriptedReporter) Report(_ context.Context, resource int, metric float64) (model.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{resource, metric})
	if r.stopAt > 0 && resource >= r.stopAt {
		return model.DecisionStop, nil
	}
	return model.DecisionContinue, nil
}

func shell(script string) []string {
	return []string{"sh", "-c", script}
}

func TestCommandTrainable_Name(t *testing.T) {
	c := NewCommandTrainable(shell("true"), t.TempDir(), newTestLogger())
	if got := c.Name(); got != "command" {
		t.Fatalf("Name() = %q, want %q", got, "command")
	}
}

func TestCommandTrainable_ReportsUntilStopped(t *testing.T) {
	c := NewCommandTrainable(shell(`for i in 1 2 3 4 5 6 7 8 9; do echo "{\"resource\":$i,\"metric\":0.$i}"; sleep 0.05; done`),
		t.TempDir(), newTestLogger())
	rep := &scriptedReporter{stopAt: 3}

	start := time.Now()
	if err := c.Train(context.Background(), TrialSpec{TrialID: "trial_00000"}, rep); err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	if len(rep.reports) != 3 {
		t.Fatalf("reports = %+v, want 3", rep.reports)
	}
	if rep.reports[2] != (report{3, 0.3}) {
		t.Errorf("last report = %+v, want {3 0.3}", rep.reports[2])
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process not killed after STOP (took %v)", elapsed)
	}
}

func TestCommandTrainable_Environment(t *testing.T) {
	workDir := t.TempDir()
	c := NewCommandTrainable(shell(`echo "starting $GOTUNE_TRIAL_ID"; echo "$GOTUNE_CONFIG" > config.json; echo "{\"resource\":$((GOTUNE_RESUME_FROM + 1)),\"metric\":$GOTUNE_PARAM_LR}"`),
		workDir, newTestLogger())
	rep := &scriptedReporter{}
	spec := TrialSpec{
		TrialID:    "trial_00007",
		Config:     model.Config{"lr": model.FloatValue(0.5), "layers": model.IntValue(2)},
		ResumeFrom: 4,
	}

	if err := c.Train(context.Background(), spec, rep); err != nil {
		t.Fatalf("Train returned error: %v", err)
	}
	if len(rep.reports) != 1 || rep.reports[0] != (report{5, 0.5}) {
		t.Errorf("reports = %+v, want [{5 0.5}]", rep.reports)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "trial_00007", "config.json"))
	if err != nil {
		t.Fatalf("trial dir not used: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != `{"layers":2,"lr":0.5}` {
		t.Errorf("GOTUNE_CONFIG = %s", got)
	}
}

func TestCommandTrainable_FailingCommand(t *testing.T) {
	c := NewCommandTrainable(shell("echo oops >&2; exit 3"), t.TempDir(), newTestLogger())
	err := c.Train(context.Background(), TrialSpec{TrialID: "trial_00001"}, &scriptedReporter{})
	if err == nil {
		t.Fatal("Train should fail for a non-zero exit")
	}
	if !strings.Contains(err.Error(), "exit code 3") || !strings.Contains(err.Error(), "oops") {
		t.Errorf("error = %v", err)
	}
}

func TestCommandTrainable_MissingCommand(t *testing.T) {
	c := NewCommandTrainable(nil, t.TempDir(), newTestLogger())
	if err := c.Train(context.Background(), TrialSpec{TrialID: "trial_00002"}, &scriptedReporter{}); err == nil {
		t.Fatal("Train should fail for an empty command")
	}
}

func TestCommandTrainable_ContextCancellation(t *testing.T) {
	c := NewCommandTrainable(shell("sleep 10"), t.TempDir(), newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.Train(ctx, TrialSpec{TrialID: "trial_00003"}, &scriptedReporter{})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestTrialEnv(t *testing.T) {
	spec := TrialSpec{
		TrialID: "trial_00004",
		Config:  model.Config{"optimizer": model.StringValue("adam"), "dropout": model.BoolValue(true)},
	}
	env, err := trialEnv(spec, "/tmp/x")
	if err != nil {
		t.Fatalf("trialEnv: %v", err)
	}
	want := map[string]bool{
		"GOTUNE_TRIAL_ID=trial_00004": true,
		"GOTUNE_RESUME_FROM=0":        true,
		"GOTUNE_PARAM_OPTIMIZER=adam": true,
		"GOTUNE_PARAM_DROPOUT=true":   true,
		"GOTUNE_TRIAL_DIR=/tmp/x":     true,
	}
	for _, kv := range env {
		delete(want, kv)
	}
	if len(want) != 0 {
		t.Errorf("missing %v in %v", want, env)
	}
}
