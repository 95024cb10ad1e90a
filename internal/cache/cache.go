// Package cache keeps the latest score per project close to the API.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/projectpulse/internal/metrics"
	"github.com/projectpulse/internal/models"
)

// ScoreCache is cache-aside storage for latest scores. Misses and errors
// are indistinguishable to callers, who fall back to the store.
type ScoreCache interface {
	Get(ctx context.Context, projectID string) (*models.ScoreSnapshot, bool)
	Set(ctx context.Context, score *models.ScoreSnapshot)
}

type Noop struct{}

func (Noop) Get(context.Context, string) (*models.ScoreSnapshot, bool) { return nil, false }
func (Noop) Set(context.Context, *models.ScoreSnapshot)                {}

type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}
}

func key(projectID string) string {
	return fmt.Sprintf("pulse:score:latest:%s", projectID)
}

func (c *RedisCache) Get(ctx context.Context, projectID string) (*models.ScoreSnapshot, bool) {
	data, err := c.rdb.Get(ctx, key(projectID)).Bytes()
	if err == redis.Nil {
		metrics.IncrementCache("miss")
		return nil, false
	}
	if err != nil {
		metrics.IncrementCache("error")
		c.logger.Warn("Score cache read failed, falling back to store",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return nil, false
	}
	var s models.ScoreSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		metrics.IncrementCache("error")
		c.logger.Warn("Discarding undecodable cached score", zap.String("project_id", projectID), zap.Error(err))
		return nil, false
	}
	metrics.IncrementCache("hit")
	return &s, true
}

func (c *RedisCache) Set(ctx context.Context, s *models.ScoreSnapshot) {
	if s == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		c.logger.Warn("Failed to encode score for cache", zap.String("project_id", s.ProjectID), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key(s.ProjectID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Score cache write failed",
			zap.String("project_id", s.ProjectID),
			zap.Error(err),
		)
	}
}
