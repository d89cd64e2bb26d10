package ai

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BudgetChecker checks and records AI token usage per learner per UTC day.
type BudgetChecker interface {
	// Check returns true if the learner has budget remaining today.
	Check(ctx context.Context, ownerID string) (bool, error)
	// Record adds token usage to the learner's count for today.
	Record(ctx context.Context, ownerID string, tokens int) error
	// Usage returns today's usage and the daily limit (0 means unlimited).
	Usage(ctx context.Context, ownerID string) (used int64, limit int64, err error)
}

// BudgetDay is the UTC day a usage count belongs to.
func BudgetDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// InMemoryBudget is an in-process daily budget tracker. Counts of past days
// are dropped when a new day is first seen.
type InMemoryBudget struct {
	mu    sync.Mutex
	limit int64
	day   string
	usage map[string]int64 // ownerID -> tokens used on day
	now   func() time.Time
}

// NewInMemoryBudget creates a tracker with the given daily limit. A limit of
// zero or less means unlimited.
func NewInMemoryBudget(limit int64) *InMemoryBudget {
	return &InMemoryBudget{
		limit: max(limit, 0),
		usage: make(map[string]int64),
		now:   time.Now,
	}
}

// rollover resets counts when the day changes. Callers hold mu.
func (b *InMemoryBudget) rollover() {
	if day := BudgetDay(b.now()); day != b.day {
		b.day = day
		clear(b.usage)
	}
}

func (b *InMemoryBudget) Check(_ context.Context, ownerID string) (bool, error) {
	if b.limit == 0 {
		return true, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.usage[ownerID] < b.limit, nil
}

func (b *InMemoryBudget) Record(_ context.Context, ownerID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.usage[ownerID] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(_ context.Context, ownerID string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.usage[ownerID], b.limit, nil
}
