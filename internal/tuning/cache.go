package tuning

import (
	"context"
	"sync"
	"time"
)

// OpCache coordinates stop-operation recycling and per-study policy
// locks across service replicas. Redis backs it in production;
// LocalCache backs single-process deployments.
type OpCache interface {
	// ActiveOperation returns the ID of the study's cached stop
	// operation, if one is still live.
	ActiveOperation(ctx context.Context, studyID string) (string, bool, error)

	// SetActiveOperation caches the study's current operation ID for ttl.
	SetActiveOperation(ctx context.Context, studyID, opID string, ttl time.Duration) error

	// ClearActiveOperation drops the cached operation ID.
	ClearActiveOperation(ctx context.Context, studyID string) error

	// TryLock acquires the study's policy-evaluation lock for at most ttl.
	TryLock(ctx context.Context, studyID string, ttl time.Duration) (bool, error)

	// Unlock releases the study's policy-evaluation lock.
	Unlock(ctx context.Context, studyID string) error
}

// LocalCache is the in-process OpCache used when Redis is not
// configured. Entries expire lazily on read.
type LocalCache struct {
	mu    sync.Mutex
	ops   map[string]localOp
	locks map[string]time.Time
}

type localOp struct {
	id       string
	cachedAt time.Time
	ttl      time.Duration
}

func NewLocalCache() *LocalCache {
	return &LocalCache{
		ops:   make(map[string]localOp),
		locks: make(map[string]time.Time),
	}
}

func (c *LocalCache) ActiveOperation(_ context.Context, studyID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.ops[studyID]
	if !ok {
		return "", false, nil
	}
	if time.Since(e.cachedAt) >= e.ttl {
		delete(c.ops, studyID)
		return "", false, nil
	}
	return e.id, true, nil
}

func (c *LocalCache) SetActiveOperation(_ context.Context, studyID, opID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops[studyID] = localOp{id: opID, cachedAt: time.Now(), ttl: ttl}
	return nil
}

func (c *LocalCache) ClearActiveOperation(_ context.Context, studyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ops, studyID)
	return nil
}

func (c *LocalCache) TryLock(_ context.Context, studyID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.locks[studyID]; ok && time.Now().Before(exp) {
		return false, nil
	}
	c.locks[studyID] = time.Now().Add(ttl)
	return true, nil
}

func (c *LocalCache) Unlock(_ context.Context, studyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, studyID)
	return nil
}
