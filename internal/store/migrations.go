package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all gotune tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		metric      TEXT NOT NULL DEFAULT '',
		mode        TEXT NOT NULL DEFAULT 'max',
		num_samples INTEGER NOT NULL DEFAULT 0,
		seed        INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS checkpoints (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL,
		data       BLOB NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trials (
		run_id        TEXT NOT NULL,
		id            TEXT NOT NULL,
		idx           INTEGER NOT NULL,
		bracket       INTEGER NOT NULL,
		state         TEXT NOT NULL,
		resource      INTEGER NOT NULL DEFAULT 0,
		rung          INTEGER NOT NULL DEFAULT 0,
		config        TEXT NOT NULL DEFAULT '{}',
		observations  TEXT NOT NULL DEFAULT '[]',
		last_decision TEXT NOT NULL DEFAULT '',
		error_code    TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		started_at    TEXT,
		completed_at  TEXT,
		PRIMARY KEY (run_id, id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trials_state ON trials(run_id, state)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "runs",
		column:   "max_concurrent",
		alterSQL: "ALTER TABLE runs ADD COLUMN max_concurrent INTEGER NOT NULL DEFAULT 1",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
