package service

import (
	"context"

	"log/slog"

	"github.com/seathold/seathold/internal/cache"
	"github.com/seathold/seathold/internal/domain"
	postgresrepo "github.com/seathold/seathold/internal/repository/postgres"
	redisrepo "github.com/seathold/seathold/internal/repository/redis"
	"github.com/seathold/seathold/internal/service/allocation"
	"github.com/seathold/seathold/internal/service/feed"
	"github.com/seathold/seathold/internal/service/snapshot"
)

// Services bundles the business layer behind one constructor.
type Services struct {
	Allocation *allocation.Service
	Snapshot   *snapshot.Service
	Feed       *feed.Feed
}

type Deps struct {
	Store  *postgresrepo.Store
	Cache  *redisrepo.Cache
	PubSub *redisrepo.BlocksPubSub
	Local  *cache.SnapshotCache
	Logger *slog.Logger

	Allocation allocation.Config
	Snapshot   snapshot.Config
	Feed       feed.Config
}

func New(deps Deps) *Services {
	notifier := &blockNotifier{
		cache:  deps.Cache,
		local:  deps.Local,
		pubsub: deps.PubSub,
		logger: deps.Logger,
	}

	allocSvc := allocation.New(
		deps.Store.Allocations(),
		deps.Store.Catalog(),
		deps.Store.Events(),
		notifier,
		deps.Logger,
		deps.Allocation,
	)

	snapSvc := snapshot.New(
		deps.Store.Allocations(),
		deps.Cache,
		deps.Local,
		deps.Logger,
		deps.Snapshot,
	)

	feedSvc := feed.New(
		deps.Store.Allocations(),
		feedSnapshots{snaps: snapSvc},
		deps.Logger,
		deps.Feed,
	)

	return &Services{
		Allocation: allocSvc,
		Snapshot:   snapSvc,
		Feed:       feedSvc,
	}
}

// blockNotifier reacts to a successful mutation by dropping both cache
// tiers for the touched block and telling peer instances to do the
// same. Everything here is best effort: a failed invalidation degrades
// freshness, never correctness.
type blockNotifier struct {
	cache  *redisrepo.Cache
	local  *cache.SnapshotCache
	pubsub *redisrepo.BlocksPubSub
	logger *slog.Logger
}

func (n *blockNotifier) BlockChanged(ctx context.Context, eventID, blockID int64) {
	if err := n.cache.InvalidateBlock(ctx, eventID, blockID); err != nil {
		n.logger.Warn("shared cache invalidation failed",
			"event_id", eventID,
			"block_id", blockID,
			"error", err)
	}

	n.local.Invalidate(eventID, blockID)

	if err := n.pubsub.PublishBlockChanged(ctx, eventID, blockID); err != nil {
		n.logger.Warn("block change publish failed",
			"event_id", eventID,
			"block_id", blockID,
			"error", err)
	}
}

// feedSnapshots adapts the snapshot service for the feed's
// snapshot-on-subscribe. Subscribers get a direct read so their first
// frame is never older than their watermark.
type feedSnapshots struct {
	snaps *snapshot.Service
}

func (f feedSnapshots) BlockState(ctx context.Context, eventID, blockID int64) ([]domain.SeatStatus, error) {
	return f.snaps.GetSnapshot(ctx, eventID, blockID, snapshot.StrategyDirect, postgresrepo.SchemaDenorm)
}
