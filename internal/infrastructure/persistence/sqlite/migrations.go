package sqlite

import (
	"context"
	"fmt"
)

// migration is one embedded schema step.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_learner_positions",
		up: `
			CREATE TABLE IF NOT EXISTS learner_positions (
				user_id TEXT PRIMARY KEY,
				current_lesson_index INTEGER NOT NULL DEFAULT 0 CHECK (current_lesson_index >= 0),
				total_xp INTEGER NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
				last_daily_claim INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
		`,
	},
	{
		version: 2,
		name:    "create_score_records",
		up: `
			CREATE TABLE IF NOT EXISTS score_records (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES learner_positions(user_id) ON DELETE CASCADE,
				lesson_id TEXT NOT NULL,
				lesson_index INTEGER NOT NULL,
				session_id TEXT NOT NULL UNIQUE,
				attention_score INTEGER NOT NULL CHECK (attention_score BETWEEN 0 AND 100),
				memory_score INTEGER NOT NULL CHECK (memory_score BETWEEN 0 AND 100),
				speed_score INTEGER NOT NULL CHECK (speed_score BETWEEN 0 AND 100),
				xp_earned INTEGER NOT NULL CHECK (xp_earned >= 0),
				completed_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_score_records_user_completed
				ON score_records(user_id, completed_at);
		`,
	},
}

// Migrate applies pending embedded migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return 0, fmt.Errorf("sqlite: create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: read migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sqlite: scan migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sqlite: read migrations: %w", err)
	}

	count := 0
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return count, fmt.Errorf("sqlite: begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return count, fmt.Errorf("sqlite: migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return count, fmt.Errorf("sqlite: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return count, fmt.Errorf("sqlite: commit migration %d: %w", m.version, err)
		}
		count++
	}

	return count, nil
}
