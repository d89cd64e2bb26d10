// Package scores persists learner score records and profiles and serves
// the aggregated views built from them.
package scores

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edutara/edutara/internal/learning"
)

// ErrNotFound is returned when a record or profile does not exist.
var ErrNotFound = errors.New("not found")

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	anonymousName           = "Anonymous"
)

// ListFilter narrows a learner's score history. Zero values match all.
type ListFilter struct {
	Subject    learning.Subject
	ModuleType learning.ModuleType
	Grade      int
	Limit      int
}

func (f ListFilter) match(r learning.ScoreRecord) bool {
	if f.Subject != "" && r.Subject != f.Subject {
		return false
	}
	if f.ModuleType != "" && r.ModuleType != f.ModuleType {
		return false
	}
	if f.Grade != 0 && r.Grade != f.Grade {
		return false
	}
	return true
}

// LeaderboardQuery selects one module across all learners.
type LeaderboardQuery struct {
	ModuleType learning.ModuleType `json:"module_type" validate:"required,oneof=assessment game chapter challenge"`
	ModuleID   string              `json:"module_id" validate:"required"`
	Subject    learning.Subject    `json:"subject" validate:"required,oneof=math english"`
	Grade      int                 `json:"grade" validate:"min=1,max=5"`
	Limit      int                 `json:"limit" validate:"min=0"`
}

func (q LeaderboardQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultLeaderboardLimit
	case q.Limit > maxLeaderboardLimit:
		return maxLeaderboardLimit
	}
	return q.Limit
}

// LeaderboardEntry is one ranked row of a leaderboard.
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	Name        string    `json:"name"`
	Score       int       `json:"score"`
	Percentage  int       `json:"percentage"`
	CompletedAt time.Time `json:"completed_at"`
}

// Profile is a learner's display data.
type Profile struct {
	OwnerID   string    `json:"user_id" validate:"required"`
	Name      string    `json:"name" validate:"required,max=100"`
	Email     string    `json:"email,omitempty" validate:"omitempty,email"`
	Grade     int       `json:"grade" validate:"min=1,max=5"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists score records and profiles. SaveScore keeps at most one
// record per learning.ModuleKey.
type Store interface {
	SaveScore(ctx context.Context, data learning.ScoreData) (learning.ScoreRecord, error)
	ListScores(ctx context.Context, ownerID string, f ListFilter) ([]learning.ScoreRecord, error)
	BestScore(ctx context.Context, key learning.ModuleKey) (learning.ScoreRecord, error)
	Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error)
	GetProfile(ctx context.Context, ownerID string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) (Profile, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	records  map[learning.ModuleKey]learning.ScoreRecord
	profiles map[string]Profile
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[learning.ModuleKey]learning.ScoreRecord),
		profiles: make(map[string]Profile),
	}
}

func (s *MemoryStore) SaveScore(_ context.Context, data learning.ScoreData) (learning.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *learning.ScoreRecord
	if r, ok := s.records[data.Key()]; ok {
		existing = &r
	}

	rec, err := learning.Reconcile(existing, data)
	if err != nil {
		return learning.ScoreRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.records[rec.Key()] = rec
	return rec, nil
}

func (s *MemoryStore) ListScores(_ context.Context, ownerID string, f ListFilter) ([]learning.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []learning.ScoreRecord{}
	for _, r := range s.records {
		if r.OwnerID == ownerID && f.match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) BestScore(_ context.Context, key learning.ModuleKey) (learning.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok {
		return learning.ScoreRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	if err := learning.ValidateStruct(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []learning.ScoreRecord
	for key, r := range s.records {
		if key.ModuleType == q.ModuleType && key.ModuleID == q.ModuleID &&
			key.Subject == q.Subject && key.Grade == q.Grade {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if !rows[i].CompletedAt.Equal(rows[j].CompletedAt) {
			return rows[i].CompletedAt.Before(rows[j].CompletedAt)
		}
		return rows[i].OwnerID < rows[j].OwnerID
	})
	if len(rows) > q.limit() {
		rows = rows[:q.limit()]
	}

	out := make([]LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		name := anonymousName
		if p, ok := s.profiles[r.OwnerID]; ok && p.Name != "" {
			name = p.Name
		}
		out = append(out, LeaderboardEntry{
			Rank:        i + 1,
			Name:        name,
			Score:       r.Score,
			Percentage:  r.Percentage,
			CompletedAt: r.CompletedAt,
		})
	}
	return out, nil
}

func (s *MemoryStore) GetProfile(_ context.Context, ownerID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[ownerID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p Profile) (Profile, error) {
	if err := learning.ValidateStruct(p); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.profiles[p.OwnerID]; ok {
		p.CreatedAt = prev.CreatedAt
		if p.Email == "" {
			p.Email = prev.Email
		}
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.OwnerID] = p
	return p, nil
}
