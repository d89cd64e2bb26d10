package cache_test

import (
	"testing"
	"time"

	"github.com/edutara/edutara/internal/learning"
	"github.com/edutara/edutara/internal/platform/cache"
	"github.com/edutara/edutara/internal/platform/cache/cachetest"
)

func TestStatsCache_Redis(t *testing.T) {
	c := cachetest.Start(t)
	ctx := t.Context()
	sc := cache.NewStatsCache(c, time.Minute)

	if _, ok, err := sc.GetStats(ctx, "u-1"); err != nil || ok {
		t.Fatalf("GetStats() on empty cache = ok %v, err %v; want miss", ok, err)
	}

	stats := learning.ComputeStats([]learning.ScoreRecord{{
		Subject:     learning.SubjectEnglish,
		Grade:       3,
		Percentage:  70,
		TimeTaken:   45,
		CompletedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}})
	if err := sc.SetStats(ctx, "u-1", stats); err != nil {
		t.Fatalf("SetStats() error = %v", err)
	}

	got, ok, err := sc.GetStats(ctx, "u-1")
	if err != nil || !ok {
		t.Fatalf("GetStats() = ok %v, err %v; want hit", ok, err)
	}
	if got.AveragePercentage != 70 || got.Subjects[learning.SubjectEnglish].Best != 70 {
		t.Errorf("cached stats = %+v", got)
	}

	if err := sc.Invalidate(ctx, "u-1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok, _ := sc.GetStats(ctx, "u-1"); ok {
		t.Error("GetStats() hit after Invalidate")
	}
}

func TestTokenBudget_Redis(t *testing.T) {
	c := cachetest.Start(t)
	ctx := t.Context()
	b := cache.NewTokenBudget(c, 100)

	if ok, err := b.Check(ctx, "u-1"); err != nil || !ok {
		t.Fatalf("Check() fresh = %v, %v; want true", ok, err)
	}
	if err := b.Record(ctx, "u-1", 60); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := b.Record(ctx, "u-1", 40); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	used, limit, err := b.Usage(ctx, "u-1")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if used != 100 || limit != 100 {
		t.Errorf("Usage() = %d/%d, want 100/100", used, limit)
	}
	if ok, _ := b.Check(ctx, "u-1"); ok {
		t.Error("Check() = true at limit, want false")
	}
	if ok, _ := b.Check(ctx, "u-2"); !ok {
		t.Error("Check() for another learner = false, want true")
	}
	if err := b.Record(ctx, "u-1", -1); err == nil {
		t.Error("Record() should reject negative tokens")
	}
}
