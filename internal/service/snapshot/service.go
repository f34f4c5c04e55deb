package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/seathold/seathold/internal/domain"
	postgresrepo "github.com/seathold/seathold/internal/repository/postgres"
	"golang.org/x/sync/singleflight"
)

// Source produces the authoritative status list for a block.
type Source interface {
	BlockSnapshot(ctx context.Context, eventID, blockID int64, schema postgresrepo.Schema) ([]domain.SeatStatus, error)
}

// SharedCache is the out-of-process snapshot store (redis-backed in
// production).
type SharedCache interface {
	GetSnapshot(ctx context.Context, eventID, blockID int64) ([]domain.SeatStatus, bool, error)
	SetSnapshot(ctx context.Context, eventID, blockID int64, snap []domain.SeatStatus, ttl time.Duration) error
}

// LocalCache is the in-process snapshot store.
type LocalCache interface {
	Get(eventID, blockID int64) ([]domain.SeatStatus, bool)
	Set(eventID, blockID int64, snap []domain.SeatStatus)
}

type Config struct {
	SharedTTL time.Duration
	Timeout   time.Duration
}

// Service answers "every seat's status in this block" under one of four
// interchangeable strategies. All strategies return the same logical
// list for a given store state; they differ only in latency and
// freshness.
type Service struct {
	source Source
	shared SharedCache
	local  LocalCache
	sf     singleflight.Group
	logger *slog.Logger
	cfg    Config
}

func New(source Source, shared SharedCache, local LocalCache, logger *slog.Logger, cfg Config) *Service {
	if cfg.SharedTTL <= 0 {
		cfg.SharedTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Service{
		source: source,
		shared: shared,
		local:  local,
		logger: logger,
		cfg:    cfg,
	}
}

// GetSnapshot serves the block status list through the selected
// strategy. A read that exceeds the configured timeout surfaces
// ErrSnapshotTimeout to every waiter.
func (s *Service) GetSnapshot(
	ctx context.Context,
	eventID, blockID int64,
	strategy Strategy,
	schema postgresrepo.Schema,
) ([]domain.SeatStatus, error) {
	const op = "service.snapshot.GetSnapshot"

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var (
		snap []domain.SeatStatus
		err  error
	)

	switch strategy {
	case StrategyDirect:
		snap, err = s.source.BlockSnapshot(ctx, eventID, blockID, schema)
	case StrategyCollapse:
		snap, err = s.collapsed(ctx, eventID, blockID, schema)
	case StrategyShared:
		snap, err = s.sharedRead(ctx, eventID, blockID, schema)
	case StrategyLocal:
		snap, err = s.localRead(ctx, eventID, blockID, schema)
	default:
		return nil, fmt.Errorf("%s:%w", op, ErrUnknownStrategy)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s:%w", op, ErrSnapshotTimeout)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return snap, nil
}

// collapsed bounds concurrent identical queries to one per key: callers
// arriving while a query is in flight await the same result. The
// in-flight handle is dropped once resolved, so the next call after
// completion always queries fresh — nothing stale is ever cached here.
func (s *Service) collapsed(
	ctx context.Context,
	eventID, blockID int64,
	schema postgresrepo.Schema,
) ([]domain.SeatStatus, error) {
	key := collapseKey(eventID, blockID, schema)

	v, err, shared := s.sf.Do(key, func() (any, error) {
		return s.source.BlockSnapshot(ctx, eventID, blockID, schema)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		s.logger.Debug("snapshot read collapsed", "key", key)
	}

	return v.([]domain.SeatStatus), nil
}

func (s *Service) sharedRead(
	ctx context.Context,
	eventID, blockID int64,
	schema postgresrepo.Schema,
) ([]domain.SeatStatus, error) {
	if snap, ok, err := s.shared.GetSnapshot(ctx, eventID, blockID); err != nil {
		return nil, err
	} else if ok {
		return snap, nil
	}

	// Miss path is collapsed too, so a cold key under load still issues
	// a single store query and a single cache fill.
	key := "shared:" + collapseKey(eventID, blockID, schema)
	v, err, _ := s.sf.Do(key, func() (any, error) {
		snap, err := s.source.BlockSnapshot(ctx, eventID, blockID, schema)
		if err != nil {
			return nil, err
		}
		_ = s.shared.SetSnapshot(ctx, eventID, blockID, snap, s.cfg.SharedTTL)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]domain.SeatStatus), nil
}

func (s *Service) localRead(
	ctx context.Context,
	eventID, blockID int64,
	schema postgresrepo.Schema,
) ([]domain.SeatStatus, error) {
	if snap, ok := s.local.Get(eventID, blockID); ok {
		return snap, nil
	}

	snap, err := s.collapsed(ctx, eventID, blockID, schema)
	if err != nil {
		return nil, err
	}

	s.local.Set(eventID, blockID, snap)

	return snap, nil
}

func collapseKey(eventID, blockID int64, schema postgresrepo.Schema) string {
	return fmt.Sprintf("%d:%d:%s", eventID, blockID, schema)
}
