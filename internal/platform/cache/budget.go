package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edutara/edutara/internal/ai"
)

const budgetKeyPrefix = "edutara:ai:tokens:"

// budgetKeyTTL outlives the day a counter belongs to.
const budgetKeyTTL = 48 * time.Hour

// TokenBudget tracks daily AI token usage per learner in Redis so the limit
// holds across server instances.
type TokenBudget struct {
	client *redis.Client
	limit  int64
	now    func() time.Time
}

var _ ai.BudgetChecker = (*TokenBudget)(nil)

// NewTokenBudget wraps c. A limit of zero or less means unlimited.
func NewTokenBudget(c *Cache, limit int64) *TokenBudget {
	return &TokenBudget{client: c.Client, limit: max(limit, 0), now: time.Now}
}

func (b *TokenBudget) key(ownerID string) string {
	return budgetKeyPrefix + ai.BudgetDay(b.now()) + ":" + ownerID
}

func (b *TokenBudget) used(ctx context.Context, ownerID string) (int64, error) {
	n, err := b.client.Get(ctx, b.key(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading token usage: %w", err)
	}
	return n, nil
}

func (b *TokenBudget) Check(ctx context.Context, ownerID string) (bool, error) {
	if b.limit == 0 {
		return true, nil
	}
	n, err := b.used(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return n < b.limit, nil
}

func (b *TokenBudget) Record(ctx context.Context, ownerID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	key := b.key(ownerID)
	pipe := b.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(tokens))
	pipe.Expire(ctx, key, budgetKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording token usage: %w", err)
	}
	return nil
}

func (b *TokenBudget) Usage(ctx context.Context, ownerID string) (int64, int64, error) {
	n, err := b.used(ctx, ownerID)
	if err != nil {
		return 0, 0, err
	}
	return n, b.limit, nil
}
