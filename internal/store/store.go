package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/me/gotune/pkg/model"
)

// CheckpointStore persists scheduler snapshots.
type CheckpointStore interface {
	// SaveCheckpoint stores a new snapshot for a run.
	SaveCheckpoint(ctx context.Context, runID string, data []byte) error

	// LatestCheckpoint returns the most recent snapshot, or nil if the run
	// has none.
	LatestCheckpoint(ctx context.Context, runID string) ([]byte, error)

	Close() error
}

// TrialRecorder is implemented by stores that keep a queryable copy of the
// trials next to the snapshots.
type TrialRecorder interface {
	SaveTrials(ctx context.Context, runID string, trials []*model.Trial) error
}

// Store is the full read-model store used by the server and CLI.
type Store interface {
	CheckpointStore
	TrialRecorder

	// Run operations
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)

	// Trial queries
	ListTrials(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Trial, int, error)

	Migrate(ctx context.Context) error
}

// Open returns the checkpoint store for a location: a redis:// or
// rediss:// URL selects Redis, anything else is a SQLite database path.
func Open(ctx context.Context, location string, logger *slog.Logger) (CheckpointStore, error) {
	if strings.HasPrefix(location, "redis://") || strings.HasPrefix(location, "rediss://") {
		return NewRedisStore(ctx, location, logger)
	}
	st, err := NewSQLiteStore(location, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
