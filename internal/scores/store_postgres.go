package scores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edutara/edutara/internal/learning"
)

const (
	dbTimeout = 5 * time.Second

	// saveAttempts bounds retries when a concurrent first submission for the
	// same module key wins the insert.
	saveAttempts = 3
)

var errInsertConflict = errors.New("module key inserted concurrently")

const scoreColumns = `id::text, owner_id, module_type, module_id, subject, grade, score, max_score,
	percentage, time_taken, attempts, completed_at, metadata, created_at, updated_at`

// PostgresStore is a PostgreSQL-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed score store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveScore(ctx context.Context, data learning.ScoreData) (learning.ScoreRecord, error) {
	if err := learning.ValidateStruct(data); err != nil {
		return learning.ScoreRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	for i := 0; i < saveAttempts; i++ {
		rec, err := s.saveOnce(ctx, data)
		if errors.Is(err, errInsertConflict) {
			continue
		}
		return rec, err
	}
	return learning.ScoreRecord{}, fmt.Errorf("save score: %w", errInsertConflict)
}

// saveOnce locks the learner's row for the module key, reconciles and writes
// it back in one transaction.
func (s *PostgresStore) saveOnce(ctx context.Context, data learning.ScoreData) (learning.ScoreRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return learning.ScoreRecord{}, fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	key := data.Key()
	var existing *learning.ScoreRecord
	prev, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+scoreColumns+`
		 FROM user_scores
		 WHERE owner_id = $1 AND module_type = $2 AND module_id = $3 AND subject = $4 AND grade = $5
		 FOR UPDATE`,
		key.OwnerID, key.ModuleType, key.ModuleID, key.Subject, key.Grade,
	))
	switch {
	case err == nil:
		existing = &prev
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return learning.ScoreRecord{}, fmt.Errorf("lock score: %w", err)
	}

	rec, err := learning.Reconcile(existing, data)
	if err != nil {
		return learning.ScoreRecord{}, err
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return learning.ScoreRecord{}, fmt.Errorf("marshal metadata: %w", err)
	}

	if existing == nil {
		err = tx.QueryRow(ctx,
			`INSERT INTO user_scores (owner_id, module_type, module_id, subject, grade, score, max_score,
			   percentage, time_taken, attempts, completed_at, metadata, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)
			 ON CONFLICT (owner_id, module_type, module_id, subject, grade) DO NOTHING
			 RETURNING id::text`,
			rec.OwnerID, rec.ModuleType, rec.ModuleID, rec.Subject, rec.Grade, rec.Score, rec.MaxScore,
			rec.Percentage, rec.TimeTaken, rec.Attempts, rec.CompletedAt, string(metadata), rec.CreatedAt, rec.UpdatedAt,
		).Scan(&rec.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return learning.ScoreRecord{}, errInsertConflict
		}
		if err != nil {
			return learning.ScoreRecord{}, fmt.Errorf("insert score: %w", err)
		}
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE user_scores
			 SET score = $2, max_score = $3, percentage = $4, time_taken = $5, attempts = $6,
			     completed_at = $7, metadata = $8::jsonb, updated_at = $9
			 WHERE id = $1::uuid`,
			rec.ID, rec.Score, rec.MaxScore, rec.Percentage, rec.TimeTaken, rec.Attempts,
			rec.CompletedAt, string(metadata), rec.UpdatedAt,
		)
		if err != nil {
			return learning.ScoreRecord{}, fmt.Errorf("update score: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return learning.ScoreRecord{}, fmt.Errorf("commit save: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListScores(ctx context.Context, ownerID string, f ListFilter) ([]learning.ScoreRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	where := []string{"owner_id = $1"}
	args := []any{ownerID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Subject != "" {
		add("subject = $%d", f.Subject)
	}
	if f.ModuleType != "" {
		add("module_type = $%d", f.ModuleType)
	}
	if f.Grade != 0 {
		add("grade = $%d", f.Grade)
	}

	query := `SELECT ` + scoreColumns + ` FROM user_scores WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY completed_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	out := []learning.ScoreRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) BestScore(ctx context.Context, key learning.ModuleKey) (learning.ScoreRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+scoreColumns+`
		 FROM user_scores
		 WHERE owner_id = $1 AND module_type = $2 AND module_id = $3 AND subject = $4 AND grade = $5
		 ORDER BY score DESC
		 LIMIT 1`,
		key.OwnerID, key.ModuleType, key.ModuleID, key.Subject, key.Grade,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return learning.ScoreRecord{}, ErrNotFound
	}
	if err != nil {
		return learning.ScoreRecord{}, fmt.Errorf("best score: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	if err := learning.ValidateStruct(q); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(NULLIF(p.name, ''), $6), s.score, s.percentage, s.completed_at
		 FROM user_scores s
		 LEFT JOIN profiles p ON p.owner_id = s.owner_id
		 WHERE s.module_type = $1 AND s.module_id = $2 AND s.subject = $3 AND s.grade = $4
		 ORDER BY s.score DESC, s.completed_at ASC, s.owner_id
		 LIMIT $5`,
		q.ModuleType, q.ModuleID, q.Subject, q.Grade, q.limit(), anonymousName,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	out := []LeaderboardEntry{}
	for rows.Next() {
		e := LeaderboardEntry{Rank: len(out) + 1}
		if err := rows.Scan(&e.Name, &e.Score, &e.Percentage, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, ownerID string) (Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p := Profile{OwnerID: ownerID}
	var email *string
	err := s.pool.QueryRow(ctx,
		`SELECT name, email, grade, created_at, updated_at FROM profiles WHERE owner_id = $1`,
		ownerID,
	).Scan(&p.Name, &email, &p.Grade, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if email != nil {
		p.Email = *email
	}
	return p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p Profile) (Profile, error) {
	if err := learning.ValidateStruct(p); err != nil {
		return Profile{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var email *string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO profiles (owner_id, name, email, grade)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET name = EXCLUDED.name,
		     email = COALESCE(EXCLUDED.email, profiles.email),
		     grade = EXCLUDED.grade,
		     updated_at = NOW()
		 RETURNING email, created_at, updated_at`,
		p.OwnerID, p.Name, nullIfEmpty(p.Email), p.Grade,
	).Scan(&email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	if email != nil {
		p.Email = *email
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (learning.ScoreRecord, error) {
	var r learning.ScoreRecord
	var metadata []byte
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.ModuleType, &r.ModuleID, &r.Subject, &r.Grade,
		&r.Score, &r.MaxScore, &r.Percentage, &r.TimeTaken, &r.Attempts,
		&r.CompletedAt, &metadata, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return learning.ScoreRecord{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return learning.ScoreRecord{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return r, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
