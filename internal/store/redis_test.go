package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
)

// testRedis connects to GOTUNE_TEST_REDIS (default redis://localhost:6379/15)
// and skips when no server answers.
func testRedis(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("GOTUNE_TEST_REDIS")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewRedisStore(context.Background(), url, logger)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRedisStore_Checkpoints(t *testing.T) {
	st := testRedis(t)
	ctx := context.Background()
	runID := "test-redis-run"
	t.Cleanup(func() { st.deleteRun(ctx, runID) })

	data, err := st.LatestCheckpoint(ctx, runID)
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if data != nil {
		t.Errorf("expected no checkpoint, got %q", data)
	}

	for _, snap := range []string{`{"n":1}`, `{"n":2}`} {
		if err := st.SaveCheckpoint(ctx, runID, []byte(snap)); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}
	data, err = st.LatestCheckpoint(ctx, runID)
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if string(data) != `{"n":2}` {
		t.Errorf("latest = %s, want {\"n\":2}", data)
	}
}

func TestNewRedisStore_BadURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if _, err := NewRedisStore(context.Background(), "http://not-redis", logger); err == nil {
		t.Error("expected error for non-redis URL")
	}
}

func TestCheckpointKey(t *testing.T) {
	if got := checkpointKey("run_1"); got != "gotune:run:run_1:checkpoint" {
		t.Errorf("checkpointKey = %q", got)
	}
}
