package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldtask-api/domain"
)

// Cache wraps a task repository with Redis-backed read caching. Writes
// go straight through and evict the cached copy so readers never see a
// stale status after a transition.
type Cache struct {
	base  domain.Repository
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching repository wrapper. A nil client or zero
// TTL disables caching without changing behavior.
func NewCache(base domain.Repository, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base repository is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Load(ctx context.Context, taskID string) (*domain.Task, error) {
	if task, ok := c.loadFromCache(ctx, taskID); ok {
		return task, nil
	}
	task, err := c.base.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, task)
	return task, nil
}

func (c *Cache) Update(ctx context.Context, taskID string, expected []domain.TaskStatus, mutate func(*domain.Task) error) (*domain.Task, error) {
	task, err := c.base.Update(ctx, taskID, expected, mutate)
	if err != nil {
		// A failed conditional write may still mean the cached copy is
		// stale; drop it so the next read sees the truth.
		c.evict(ctx, taskID)
		return nil, err
	}
	c.evict(ctx, taskID)
	return task, nil
}

func (c *Cache) loadFromCache(ctx context.Context, taskID string) (*domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, taskCacheKey(taskID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing repository.
			_ = c.redis.Del(ctx, taskCacheKey(taskID)).Err()
		}
		return nil, false
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		_ = c.redis.Del(ctx, taskCacheKey(taskID)).Err()
		return nil, false
	}
	return &task, true
}

func (c *Cache) store(ctx context.Context, task *domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, taskCacheKey(task.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, taskID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, taskCacheKey(taskID)).Err()
}

func taskCacheKey(taskID string) string {
	return "task:" + taskID
}
