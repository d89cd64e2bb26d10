package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edutara/edutara/internal/learning"
)

const (
	statsKeyPrefix  = "edutara:stats:"
	DefaultStatsTTL = 5 * time.Minute
)

// StatsCache keeps computed dashboard stats per learner.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache wraps c. A non-positive ttl uses DefaultStatsTTL.
func NewStatsCache(c *Cache, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	return &StatsCache{client: c.Client, ttl: ttl}
}

func statsKey(ownerID string) string {
	return statsKeyPrefix + ownerID
}

// GetStats returns the cached stats for ownerID. The bool is false on a miss.
func (s *StatsCache) GetStats(ctx context.Context, ownerID string) (learning.AggregateStats, bool, error) {
	data, err := s.client.Get(ctx, statsKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return learning.AggregateStats{}, false, nil
	}
	if err != nil {
		return learning.AggregateStats{}, false, fmt.Errorf("get stats: %w", err)
	}

	stats, err := decodeStats(data)
	if err != nil {
		return learning.AggregateStats{}, false, err
	}
	return stats, true, nil
}

// SetStats stores stats for ownerID until the TTL expires.
func (s *StatsCache) SetStats(ctx context.Context, ownerID string, stats learning.AggregateStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := s.client.Set(ctx, statsKey(ownerID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set stats: %w", err)
	}
	return nil
}

// Invalidate drops the cached stats for ownerID.
func (s *StatsCache) Invalidate(ctx context.Context, ownerID string) error {
	if err := s.client.Del(ctx, statsKey(ownerID)).Err(); err != nil {
		return fmt.Errorf("invalidate stats: %w", err)
	}
	return nil
}

func decodeStats(data []byte) (learning.AggregateStats, error) {
	var stats learning.AggregateStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return learning.AggregateStats{}, fmt.Errorf("decode stats: %w", err)
	}
	if stats.RecentActivity == nil {
		stats.RecentActivity = []learning.ScoreRecord{}
	}
	return stats, nil
}
