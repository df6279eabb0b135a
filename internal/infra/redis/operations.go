package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OperationCache tracks, per study, which persisted stop operation is
// still inside its recycle window. The key's TTL is the window itself,
// so expiry needs no bookkeeping and every instance sharing the Redis
// sees the same live operation.
type OperationCache struct {
	rdb *redis.Client
}

// NewOperationCache creates a Redis-backed operation cache.
func NewOperationCache(client *Client) *OperationCache {
	return &OperationCache{rdb: client.rdb}
}

// ActiveOperation returns the ID of the study's live operation, if any.
func (c *OperationCache) ActiveOperation(ctx context.Context, studyID string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, operationKey(studyID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get failed: %w", err)
	}
	return val, true, nil
}

// SetActiveOperation marks opID live for the study until ttl passes.
func (c *OperationCache) SetActiveOperation(ctx context.Context, studyID, opID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, operationKey(studyID), opID, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// ClearActiveOperation drops the study's live operation marker.
func (c *OperationCache) ClearActiveOperation(ctx context.Context, studyID string) error {
	return c.rdb.Del(ctx, operationKey(studyID)).Err()
}

// TryLock attempts to take the study's evaluation lock.
func (c *OperationCache) TryLock(ctx context.Context, studyID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(studyID), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// Unlock releases the study's evaluation lock.
func (c *OperationCache) Unlock(ctx context.Context, studyID string) error {
	return c.rdb.Del(ctx, lockKey(studyID)).Err()
}
