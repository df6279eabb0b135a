package tuning

import (
	"context"
	"testing"
	"time"
)

func TestLocalCacheActiveOperation(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	if _, ok, _ := c.ActiveOperation(ctx, "s1"); ok {
		t.Fatal("empty cache reported an active operation")
	}

	if err := c.SetActiveOperation(ctx, "s1", "op-1", time.Minute); err != nil {
		t.Fatalf("SetActiveOperation: %v", err)
	}
	id, ok, err := c.ActiveOperation(ctx, "s1")
	if err != nil || !ok || id != "op-1" {
		t.Fatalf("ActiveOperation = (%q, %v, %v), want (op-1, true, nil)", id, ok, err)
	}

	if _, ok, _ := c.ActiveOperation(ctx, "s2"); ok {
		t.Error("unrelated study reported an active operation")
	}

	if err := c.ClearActiveOperation(ctx, "s1"); err != nil {
		t.Fatalf("ClearActiveOperation: %v", err)
	}
	if _, ok, _ := c.ActiveOperation(ctx, "s1"); ok {
		t.Error("cleared entry still served")
	}
}

func TestLocalCacheEntryExpires(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	if err := c.SetActiveOperation(ctx, "s1", "op-1", 20*time.Millisecond); err != nil {
		t.Fatalf("SetActiveOperation: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok, _ := c.ActiveOperation(ctx, "s1"); ok {
		t.Error("expired entry still served")
	}
}

func TestLocalCacheTryLock(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	locked, err := c.TryLock(ctx, "s1", time.Minute)
	if err != nil || !locked {
		t.Fatalf("TryLock = (%v, %v), want acquired", locked, err)
	}
	locked, err = c.TryLock(ctx, "s1", time.Minute)
	if err != nil || locked {
		t.Fatalf("second TryLock = (%v, %v), want refused", locked, err)
	}

	// Another study's lock is independent.
	locked, err = c.TryLock(ctx, "s2", time.Minute)
	if err != nil || !locked {
		t.Fatalf("TryLock(s2) = (%v, %v), want acquired", locked, err)
	}

	if err := c.Unlock(ctx, "s1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	locked, err = c.TryLock(ctx, "s1", time.Minute)
	if err != nil || !locked {
		t.Fatalf("TryLock after unlock = (%v, %v), want acquired", locked, err)
	}
}

func TestLocalCacheLockExpires(t *testing.T) {
	c := NewLocalCache()
	ctx := context.Background()

	if locked, _ := c.TryLock(ctx, "s1", 20*time.Millisecond); !locked {
		t.Fatal("TryLock refused a free lock")
	}
	time.Sleep(50 * time.Millisecond)
	if locked, _ := c.TryLock(ctx, "s1", time.Minute); !locked {
		t.Error("TryLock refused an expired lock")
	}
}
