package database

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		owner_id   TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT,
		grade      INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_scores (
		id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		owner_id     TEXT NOT NULL,
		module_type  TEXT NOT NULL,
		module_id    TEXT NOT NULL,
		subject      TEXT NOT NULL,
		grade        INT NOT NULL,
		score        INT NOT NULL,
		max_score    INT NOT NULL CHECK (max_score > 0),
		percentage   INT NOT NULL,
		time_taken   INT NOT NULL DEFAULT 0,
		attempts     INT NOT NULL DEFAULT 1,
		completed_at TIMESTAMPTZ NOT NULL,
		metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS user_scores_module_key
		ON user_scores (owner_id, module_type, module_id, subject, grade)`,
	`CREATE INDEX IF NOT EXISTS user_scores_owner_completed
		ON user_scores (owner_id, completed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         BIGSERIAL PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS events_owner_created ON events (owner_id, created_at DESC)`,
}

// Migrate creates the tables and indexes the service needs.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
