package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/gotune/pkg/model"

	_ "modernc.org/sqlite"
)

// keepCheckpoints is how many snapshots per run survive pruning.
const keepCheckpoints = 5

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, metric, mode, num_samples, max_concurrent, seed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Metric, string(run.Mode), run.NumSamples, run.MaxConcurrent,
		int64(run.Seed),
		run.CreatedAt.Format(time.RFC3339Nano), run.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, metric, mode, num_samples, max_concurrent, seed, created_at, updated_at
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, metric, mode, num_samples, max_concurrent, seed, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var mode, createdAt, updatedAt string
	var seed int64

	err := row.Scan(&run.ID, &run.Name, &run.Metric, &mode, &run.NumSamples, &run.MaxConcurrent,
		&seed, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Mode = model.Mode(mode)
	run.Seed = uint64(seed)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &run, nil
}

// --- Checkpoints ---

// SaveCheckpoint appends a snapshot and prunes old ones of the same run.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, runID string, data []byte) error {
	s.logger.Debug("sql", "op", "insert", "table", "checkpoints", "run_id", runID, "bytes", len(data))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, data, created_at) VALUES (?, ?, ?)`,
		runID, data, now,
	); err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE run_id = ? AND id NOT IN (
			SELECT id FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT ?)`,
		runID, runID, keepCheckpoints,
	); err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET updated_at = ? WHERE id = ?`, now, runID,
	); err != nil {
		return fmt.Errorf("touch run: %w", err)
	}
	return tx.Commit()
}

// LatestCheckpoint returns the newest snapshot of a run, or nil.
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, runID string) ([]byte, error) {
	s.logger.Debug("sql", "op", "select", "table", "checkpoints", "run_id", runID)

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// --- Trials ---

// SaveTrials upserts the given trials of a run.
func (s *SQLiteStore) SaveTrials(ctx context.Context, runID string, trials []*model.Trial) error {
	s.logger.Debug("sql", "op", "upsert", "table", "trials", "run_id", runID, "count", len(trials))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trials (run_id, id, idx, bracket, state, resource, rung, config, observations,
			last_decision, error_code, error_message, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, id) DO UPDATE SET
			state = excluded.state,
			resource = excluded.resource,
			rung = excluded.rung,
			observations = excluded.observations,
			last_decision = excluded.last_decision,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trials {
		configJSON, err := json.Marshal(t.Config)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		obsJSON, err := json.Marshal(t.Observations)
		if err != nil {
			return fmt.Errorf("marshal observations: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, t.ID, t.Index, t.Bracket, string(t.State), t.Resource, t.Rung,
			string(configJSON), string(obsJSON),
			string(t.LastDecision), string(t.ErrorCode), t.ErrorMessage,
			t.CreatedAt.Format(time.RFC3339Nano), formatTime(t.StartedAt), formatTime(t.CompletedAt),
		); err != nil {
			return fmt.Errorf("upsert trial %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// ListTrials returns a page of a run's trials ordered by id.
func (s *SQLiteStore) ListTrials(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Trial, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "trials", "run_id", runID, "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where := " WHERE run_id = ?"
	args := []any{runID}
	if opts.State != "" {
		where += " AND state = ?"
		args = append(args, string(opts.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trials`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listArgs := append(args, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idx, bracket, state, resource, rung, config, observations,
			last_decision, error_code, error_message, created_at, started_at, completed_at
		 FROM trials`+where+` ORDER BY id LIMIT ? OFFSET ?`, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var trials []*model.Trial
	for rows.Next() {
		var t model.Trial
		var state, configJSON, obsJSON, decision, errorCode, createdAt string
		var startedAt, completedAt *string

		if err := rows.Scan(&t.ID, &t.Index, &t.Bracket, &state, &t.Resource, &t.Rung,
			&configJSON, &obsJSON, &decision, &errorCode, &t.ErrorMessage,
			&createdAt, &startedAt, &completedAt); err != nil {
			return nil, 0, err
		}
		t.State = model.TrialState(state)
		t.LastDecision = model.Decision(decision)
		t.ErrorCode = model.ErrorCode(errorCode)
		if err := json.Unmarshal([]byte(configJSON), &t.Config); err != nil {
			return nil, 0, fmt.Errorf("unmarshal config of %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(obsJSON), &t.Observations); err != nil {
			return nil, 0, fmt.Errorf("unmarshal observations of %s: %w", t.ID, err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		t.StartedAt = parseTime(startedAt)
		t.CompletedAt = parseTime(completedAt)
		trials = append(trials, &t)
	}
	return trials, total, rows.Err()
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
