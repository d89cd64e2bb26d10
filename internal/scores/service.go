package scores

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/edutara/edutara/internal/learning"
)

// recentResponseLimit caps how many stored responses feed a recommendation.
const recentResponseLimit = 50

// StatsCache caches computed stats per learner.
type StatsCache interface {
	GetStats(ctx context.Context, ownerID string) (learning.AggregateStats, bool, error)
	SetStats(ctx context.Context, ownerID string, stats learning.AggregateStats) error
	Invalidate(ctx context.Context, ownerID string) error
}

// Publisher receives every saved record together with the learner's new stats.
type Publisher interface {
	PublishScore(ownerID string, rec learning.ScoreRecord, stats learning.AggregateStats)
}

// Publishers fans a saved record out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) PublishScore(ownerID string, rec learning.ScoreRecord, stats learning.AggregateStats) {
	for _, p := range ps {
		p.PublishScore(ownerID, rec, stats)
	}
}

// Catalog provides the question bank recommendations are computed against.
type Catalog interface {
	Catalog(subject learning.Subject) []learning.QuestionRecord
}

// ServiceConfig holds dependencies for the score service.
type ServiceConfig struct {
	Store     Store
	Cache     StatsCache
	Events    EventLogger
	Publisher Publisher
	Catalog   Catalog
}

// Service combines the store with the aggregation engine.
type Service struct {
	store     Store
	cache     StatsCache
	events    EventLogger
	publisher Publisher
	catalog   Catalog
}

// NewService creates a score service. Missing optional dependencies are
// replaced by no-ops; a nil Store gets an in-memory one.
func NewService(cfg ServiceConfig) *Service {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	return &Service{
		store:     store,
		cache:     cfg.Cache,
		events:    events,
		publisher: cfg.Publisher,
		catalog:   cfg.Catalog,
	}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Save records a submission and notifies subscribers of the learner's new stats.
func (s *Service) Save(ctx context.Context, data learning.ScoreData) (learning.ScoreRecord, error) {
	raw, err := json.Marshal(data.SubmittedMetadata())
	if err != nil {
		return learning.ScoreRecord{}, fmt.Errorf("encode metadata: %w", err)
	}
	if err := learning.ValidateMetadata(data.ModuleType, raw); err != nil {
		return learning.ScoreRecord{}, err
	}

	rec, err := s.store.SaveScore(ctx, data)
	if err != nil {
		return learning.ScoreRecord{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, rec.OwnerID); err != nil {
			slog.Warn("stats cache invalidate failed", "owner_id", rec.OwnerID, "error", err)
		}
	}

	if err := s.events.LogEvent(Event{
		OwnerID:   rec.OwnerID,
		EventType: EventScoreSaved,
		Data: map[string]any{
			"module_type": rec.ModuleType,
			"module_id":   rec.ModuleID,
			"score":       rec.Score,
			"attempts":    rec.Attempts,
		},
	}); err != nil {
		slog.Warn("failed to log event", "type", EventScoreSaved, "error", err)
	}

	slog.Info("score saved",
		"owner_id", rec.OwnerID,
		"module_type", rec.ModuleType,
		"module_id", rec.ModuleID,
		"score", rec.Score,
		"attempts", rec.Attempts,
	)

	if s.publisher != nil {
		stats, err := s.Stats(ctx, rec.OwnerID)
		if err != nil {
			slog.Warn("stats for live update failed", "owner_id", rec.OwnerID, "error", err)
		} else {
			s.publisher.PublishScore(rec.OwnerID, rec, stats)
		}
	}

	return rec, nil
}

// Scores lists a learner's records newest first.
func (s *Service) Scores(ctx context.Context, ownerID string, f ListFilter) ([]learning.ScoreRecord, error) {
	return s.store.ListScores(ctx, ownerID, f)
}

// Best returns the learner's record for a module key.
func (s *Service) Best(ctx context.Context, key learning.ModuleKey) (learning.ScoreRecord, error) {
	return s.store.BestScore(ctx, key)
}

// Leaderboard ranks learners on one module.
func (s *Service) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	return s.store.Leaderboard(ctx, q)
}

// Stats returns the learner's dashboard stats, served from cache when possible.
func (s *Service) Stats(ctx context.Context, ownerID string) (learning.AggregateStats, error) {
	if s.cache != nil {
		stats, ok, err := s.cache.GetStats(ctx, ownerID)
		if err != nil {
			slog.Warn("stats cache read failed", "owner_id", ownerID, "error", err)
		} else if ok {
			return stats, nil
		}
	}

	records, err := s.store.ListScores(ctx, ownerID, ListFilter{})
	if err != nil {
		return learning.AggregateStats{}, fmt.Errorf("load scores: %w", err)
	}
	stats := learning.ComputeStats(records)

	if s.cache != nil {
		if err := s.cache.SetStats(ctx, ownerID, stats); err != nil {
			slog.Warn("stats cache write failed", "owner_id", ownerID, "error", err)
		}
	}
	return stats, nil
}

// Breakdown returns the learner's analytics view.
func (s *Service) Breakdown(ctx context.Context, ownerID string, f learning.Filter) (learning.Breakdown, error) {
	records, err := s.store.ListScores(ctx, ownerID, ListFilter{Subject: f.Subject, Grade: f.Grade})
	if err != nil {
		return learning.Breakdown{}, fmt.Errorf("load scores: %w", err)
	}
	return learning.ComputeBreakdown(records, f), nil
}

// ChapterProgress returns the learner's best result per chapter, optionally
// narrowed to one subject and grade.
func (s *Service) ChapterProgress(ctx context.Context, ownerID string, f learning.Filter) ([]learning.ChapterProgress, error) {
	records, err := s.store.ListScores(ctx, ownerID, ListFilter{
		ModuleType: learning.ModuleChapter,
		Subject:    f.Subject,
		Grade:      f.Grade,
	})
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	return learning.ComputeChapterProgress(records), nil
}

// RecommendRequest asks for the next quiz's focus. With no Responses the
// learner's most recent stored responses for the subject are used.
type RecommendRequest struct {
	Subject   learning.Subject         `json:"subject" validate:"omitempty,oneof=math english"`
	Responses []learning.ResponseEvent `json:"responses"`
}

// Recommend picks the weakest topics and the next difficulty for a learner.
func (s *Service) Recommend(ctx context.Context, ownerID string, req RecommendRequest) (learning.RecommendationResult, error) {
	if err := learning.ValidateStruct(req); err != nil {
		return learning.RecommendationResult{}, err
	}

	responses := req.Responses
	if len(responses) == 0 {
		var err error
		responses, err = s.recentResponses(ctx, ownerID, req.Subject)
		if err != nil {
			return learning.RecommendationResult{}, err
		}
	}

	var catalog []learning.QuestionRecord
	if s.catalog != nil {
		catalog = s.catalog.Catalog(req.Subject)
	}

	result, err := learning.Recommend(responses, catalog)
	if err != nil {
		return learning.RecommendationResult{}, err
	}

	if err := s.events.LogEvent(Event{
		OwnerID:   ownerID,
		EventType: EventRecommendationServed,
		Data: map[string]any{
			"subject":    req.Subject,
			"responses":  len(responses),
			"difficulty": result.RecommendedDifficulty,
			"topics":     result.RecommendedTopics,
		},
	}); err != nil {
		slog.Warn("failed to log event", "type", EventRecommendationServed, "error", err)
	}

	return result, nil
}

func (s *Service) recentResponses(ctx context.Context, ownerID string, subject learning.Subject) ([]learning.ResponseEvent, error) {
	records, err := s.store.ListScores(ctx, ownerID, ListFilter{Subject: subject})
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	var out []learning.ResponseEvent
	for _, r := range records {
		for _, resp := range r.Metadata.Responses {
			if len(out) == recentResponseLimit {
				return out, nil
			}
			out = append(out, resp)
		}
	}
	return out, nil
}

// Profile returns the learner's profile.
func (s *Service) Profile(ctx context.Context, ownerID string) (Profile, error) {
	return s.store.GetProfile(ctx, ownerID)
}

// UpdateProfile creates or replaces the learner's profile.
func (s *Service) UpdateProfile(ctx context.Context, p Profile) (Profile, error) {
	return s.store.UpsertProfile(ctx, p)
}
