package cache

import (
	"testing"
	"time"

	"github.com/seathold/seathold/internal/domain"
)

func TestSnapshotCache(t *testing.T) {
	c, err := NewSnapshotCache(SnapshotCacheConfig{MaxEntries: 10, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSnapshotCache: %v", err)
	}
	defer c.Close()

	if _, ok := c.Get(1, 1); ok {
		t.Fatal("expected miss on empty cache")
	}

	snap := []domain.SeatStatus{{SeatID: 10, Status: domain.StatusAvailable}}
	c.Set(1, 1, snap)

	got, ok := c.Get(1, 1)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(got) != 1 || got[0].SeatID != 10 {
		t.Fatalf("unexpected cached snapshot: %+v", got)
	}

	// Keys are scoped per (event, block) pair.
	if _, ok := c.Get(1, 2); ok {
		t.Fatal("expected miss for a different block")
	}
	if _, ok := c.Get(2, 1); ok {
		t.Fatal("expected miss for a different event")
	}

	c.Invalidate(1, 1)
	if _, ok := c.Get(1, 1); ok {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestSnapshotCacheAdmitsUpToCapacity(t *testing.T) {
	c, err := NewSnapshotCache(SnapshotCacheConfig{MaxEntries: 10, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSnapshotCache: %v", err)
	}
	defer c.Close()

	// The budget counts entries, not bytes: every set below capacity
	// must be admitted, not rejected on internal overhead.
	for blockID := int64(1); blockID <= 5; blockID++ {
		c.Set(1, blockID, []domain.SeatStatus{{SeatID: blockID, Status: domain.StatusAvailable}})
	}

	for blockID := int64(1); blockID <= 5; blockID++ {
		if _, ok := c.Get(1, blockID); !ok {
			t.Fatalf("expected hit for block %d below capacity", blockID)
		}
	}
}

func TestSnapshotCacheTTL(t *testing.T) {
	c, err := NewSnapshotCache(SnapshotCacheConfig{MaxEntries: 10, TTL: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSnapshotCache: %v", err)
	}
	defer c.Close()

	c.Set(1, 1, []domain.SeatStatus{{SeatID: 10, Status: domain.StatusHold}})

	if _, ok := c.Get(1, 1); !ok {
		t.Fatal("expected hit within TTL")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get(1, 1); ok {
		t.Fatal("expected miss after TTL elapsed")
	}
}
