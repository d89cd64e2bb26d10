package scores_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edutara/edutara/internal/learning"
	"github.com/edutara/edutara/internal/scores"
)

type fakeCache struct {
	mu          sync.Mutex
	stats       map[string]learning.AggregateStats
	gets        int
	invalidated []string
	failGet     bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{stats: make(map[string]learning.AggregateStats)}
}

func (c *fakeCache) GetStats(_ context.Context, ownerID string) (learning.AggregateStats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet {
		return learning.AggregateStats{}, false, errors.New("cache down")
	}
	s, ok := c.stats[ownerID]
	return s, ok, nil
}

func (c *fakeCache) SetStats(_ context.Context, ownerID string, stats learning.AggregateStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[ownerID] = stats
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stats, ownerID)
	c.invalidated = append(c.invalidated, ownerID)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []learning.AggregateStats
}

func (p *fakePublisher) PublishScore(_ string, _ learning.ScoreRecord, stats learning.AggregateStats) {
	p.mu.Lock()
	p.updates = append(p.updates, stats)
	p.mu.Unlock()
}

type fakeCatalog []learning.QuestionRecord

func (c fakeCatalog) Catalog(subject learning.Subject) []learning.QuestionRecord {
	var out []learning.QuestionRecord
	for _, q := range c {
		if subject == "" || q.Subject == subject {
			out = append(out, q)
		}
	}
	return out
}

var testCatalog = fakeCatalog{
	{ID: "m1", Subject: learning.SubjectMath, Topic: "Fractions", Difficulty: learning.DifficultyMedium, Options: []string{"a", "b"}},
	{ID: "m2", Subject: learning.SubjectMath, Topic: "Division", Difficulty: learning.DifficultyMedium, Options: []string{"a", "b"}},
	{ID: "e1", Subject: learning.SubjectEnglish, Topic: "Grammar", Difficulty: learning.DifficultyEasy, Options: []string{"a", "b"}},
}

func TestService_SaveUpdatesCacheEventsAndSubscribers(t *testing.T) {
	cache := newFakeCache()
	events := scores.NewMemoryEventLogger()
	pub := &fakePublisher{}
	svc := scores.NewService(scores.ServiceConfig{
		Store:     scores.NewMemoryStore(),
		Cache:     cache,
		Events:    events,
		Publisher: pub,
	})
	ctx := context.Background()

	if _, err := svc.Save(ctx, submission("u1", 8, base)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(cache.invalidated) != 1 || cache.invalidated[0] != "u1" {
		t.Errorf("invalidated = %v, want [u1]", cache.invalidated)
	}
	evs := events.Events()
	if len(evs) != 1 || evs[0].EventType != scores.EventScoreSaved || evs[0].OwnerID != "u1" {
		t.Errorf("events = %+v", evs)
	}
	if len(pub.updates) != 1 || pub.updates[0].TotalScores != 1 || pub.updates[0].BestScore != 80 {
		t.Errorf("published = %+v", pub.updates)
	}
}

func TestService_SaveRejectsMismatchedMetadata(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*learning.ScoreData)
	}{
		{"game details on assessment", func(d *learning.ScoreData) {
			d.Metadata.Game = &learning.GameDetails{Level: 2}
		}},
		{"top-level chapter id on game", func(d *learning.ScoreData) {
			d.ModuleType = learning.ModuleGame
			d.ChapterID = "ch1"
		}},
		{"top-level chapter name on challenge", func(d *learning.ScoreData) {
			d.ModuleType = learning.ModuleChallenge
			d.ChapterName = "Shapes"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := scores.NewService(scores.ServiceConfig{})
			in := submission("u1", 5, base)
			tt.mutate(&in)

			_, err := svc.Save(context.Background(), in)
			if !errors.Is(err, learning.ErrInvalidInput) {
				t.Fatalf("Save() error = %v, want ErrInvalidInput", err)
			}
			if recs, _ := svc.Scores(context.Background(), "u1", scores.ListFilter{}); len(recs) != 0 {
				t.Error("rejected submission should not be stored")
			}
		})
	}
}

func TestService_StatsCacheAside(t *testing.T) {
	cache := newFakeCache()
	svc := scores.NewService(scores.ServiceConfig{Cache: cache})
	ctx := context.Background()

	for _, d := range []learning.ScoreData{
		submission("u1", 8, base),
		func() learning.ScoreData { d := submission("u1", 6, base.Add(time.Hour)); d.ModuleID = "math-3"; return d }(),
	} {
		if _, err := svc.Save(ctx, d); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	stats, err := svc.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalScores != 2 || stats.AveragePercentage != 70 {
		t.Errorf("Stats() = %+v", stats)
	}
	if _, ok := cache.stats["u1"]; !ok {
		t.Fatal("Stats() should populate the cache")
	}

	cache.stats["u1"] = learning.AggregateStats{TotalScores: 99}
	cached, _ := svc.Stats(ctx, "u1")
	if cached.TotalScores != 99 {
		t.Errorf("Stats() = %d, want cached value", cached.TotalScores)
	}

	cache.failGet = true
	fresh, err := svc.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats() with failing cache error = %v", err)
	}
	if fresh.TotalScores != 2 {
		t.Errorf("Stats() with failing cache = %d, want recomputed 2", fresh.TotalScores)
	}
}

func TestService_BreakdownAndChapters(t *testing.T) {
	svc := scores.NewService(scores.ServiceConfig{})
	ctx := context.Background()

	ch := submission("u1", 7, base)
	ch.ModuleType = learning.ModuleChapter
	ch.ModuleID = "math-act-2-1"
	ch.ChapterName = "Addition Garden"
	if _, err := svc.Save(ctx, ch); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := svc.Save(ctx, submission("u1", 9, base)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	b, err := svc.Breakdown(ctx, "u1", learning.Filter{Subject: learning.SubjectMath})
	if err != nil {
		t.Fatalf("Breakdown() error = %v", err)
	}
	if b.Chapters.Scores != 1 || b.Assessments.Scores != 1 {
		t.Errorf("Breakdown() buckets = %+v / %+v", b.Chapters.Summary, b.Assessments.Summary)
	}

	progress, err := svc.ChapterProgress(ctx, "u1", learning.Filter{})
	if err != nil {
		t.Fatalf("ChapterProgress() error = %v", err)
	}
	if len(progress) != 1 || progress[0].ChapterID != "math-act-2-1" || progress[0].ChapterName != "Addition Garden" {
		t.Errorf("ChapterProgress() = %+v", progress)
	}
}

func TestService_ChapterProgressPerGrade(t *testing.T) {
	svc := scores.NewService(scores.ServiceConfig{})
	ctx := context.Background()

	for grade, score := range map[int]int{1: 10, 2: 20} {
		in := submission("u1", score, base)
		in.ModuleType = learning.ModuleChapter
		in.ModuleID = "ch1"
		in.Grade = grade
		in.MaxScore = 20
		if _, err := svc.Save(ctx, in); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	all, err := svc.ChapterProgress(ctx, "u1", learning.Filter{})
	if err != nil {
		t.Fatalf("ChapterProgress() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ChapterProgress() = %+v, want one entry per grade", all)
	}
	for _, p := range all {
		if p.Attempts != 1 || p.BestScore != p.Grade*10 {
			t.Errorf("entry = %+v, want its own grade's best and one attempt", p)
		}
	}

	one, err := svc.ChapterProgress(ctx, "u1", learning.Filter{Subject: learning.SubjectMath, Grade: 1})
	if err != nil {
		t.Fatalf("ChapterProgress() error = %v", err)
	}
	if len(one) != 1 || one[0].Grade != 1 || one[0].BestScore != 10 {
		t.Errorf("grade 1 progress = %+v", one)
	}
}

func TestService_RecommendFromHistory(t *testing.T) {
	events := scores.NewMemoryEventLogger()
	svc := scores.NewService(scores.ServiceConfig{Events: events, Catalog: testCatalog})
	ctx := context.Background()

	in := submission("u1", 1, base)
	in.Metadata.Responses = []learning.ResponseEvent{
		{QuestionID: "m1", IsCorrect: false, TimeTaken: 5},
		{QuestionID: "m2", IsCorrect: true, TimeTaken: 5},
	}
	if _, err := svc.Save(ctx, in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := svc.Recommend(ctx, "u1", scores.RecommendRequest{Subject: learning.SubjectMath})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(got.RecommendedTopics) != 2 || got.RecommendedTopics[0] != "Fractions" {
		t.Errorf("RecommendedTopics = %v, want Fractions first", got.RecommendedTopics)
	}
	if got.RecommendedDifficulty != learning.DifficultyMedium {
		t.Errorf("RecommendedDifficulty = %s, want medium", got.RecommendedDifficulty)
	}

	last := events.Events()[len(events.Events())-1]
	if last.EventType != scores.EventRecommendationServed {
		t.Errorf("last event = %s, want %s", last.EventType, scores.EventRecommendationServed)
	}
}

func TestService_RecommendSuppliedResponses(t *testing.T) {
	svc := scores.NewService(scores.ServiceConfig{Catalog: testCatalog})

	got, err := svc.Recommend(context.Background(), "u1", scores.RecommendRequest{
		Responses: []learning.ResponseEvent{{QuestionID: "e1", IsCorrect: true}},
	})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if got.RecommendedDifficulty != learning.DifficultyHard || got.OverallAccuracy != 1 {
		t.Errorf("Recommend() = %+v", got)
	}
}

func TestService_RecommendNoHistory(t *testing.T) {
	svc := scores.NewService(scores.ServiceConfig{Catalog: testCatalog})

	got, err := svc.Recommend(context.Background(), "new", scores.RecommendRequest{})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if got.RecommendedDifficulty != learning.DifficultyEasy || len(got.RecommendedTopics) != 0 {
		t.Errorf("Recommend() = %+v, want empty recommendation", got)
	}

	_, err = svc.Recommend(context.Background(), "new", scores.RecommendRequest{Subject: "art"})
	if !errors.Is(err, learning.ErrInvalidInput) {
		t.Errorf("Recommend(subject art) error = %v, want ErrInvalidInput", err)
	}
}
