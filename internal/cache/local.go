package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/seathold/seathold/internal/domain"
)

// SnapshotCache is the in-process snapshot store: short TTL and a hard
// entry bound, trading cross-instance consistency for latency.
type SnapshotCache struct {
	c   *ristretto.Cache[string, []domain.SeatStatus]
	ttl time.Duration
}

type SnapshotCacheConfig struct {
	MaxEntries int64
	TTL        time.Duration
}

func NewSnapshotCache(cfg SnapshotCacheConfig) (*SnapshotCache, error) {
	const op = "cache.NewSnapshotCache"

	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []domain.SeatStatus]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
		// Each entry costs 1, so MaxCost is an entry count. Without this
		// ristretto adds its internal per-item overhead to the cost and
		// the budget admits far fewer entries than configured.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &SnapshotCache{c: c, ttl: cfg.TTL}, nil
}

func (s *SnapshotCache) Get(eventID, blockID int64) ([]domain.SeatStatus, bool) {
	return s.c.Get(key(eventID, blockID))
}

func (s *SnapshotCache) Set(eventID, blockID int64, snapshot []domain.SeatStatus) {
	s.c.SetWithTTL(key(eventID, blockID), snapshot, 1, s.ttl)
	// Make the write visible to the next reader; admission is async
	// otherwise and a fresh snapshot would be recomputed needlessly.
	s.c.Wait()
}

func (s *SnapshotCache) Invalidate(eventID, blockID int64) {
	s.c.Del(key(eventID, blockID))
}

func (s *SnapshotCache) Close() {
	s.c.Close()
}

func key(eventID, blockID int64) string {
	return fmt.Sprintf("%d:%d", eventID, blockID)
}
