package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seathold/seathold/internal/cache"
	"github.com/seathold/seathold/internal/config"
	"github.com/seathold/seathold/internal/postgres"
	"github.com/seathold/seathold/internal/redis"
	postgresrepo "github.com/seathold/seathold/internal/repository/postgres"
	redisrepo "github.com/seathold/seathold/internal/repository/redis"
	"github.com/seathold/seathold/internal/service"
	"github.com/seathold/seathold/internal/service/allocation"
	"github.com/seathold/seathold/internal/service/feed"
	"github.com/seathold/seathold/internal/service/snapshot"
	httpgin "github.com/seathold/seathold/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	pubsub     *redisrepo.BlocksPubSub
	local      *cache.SnapshotCache
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	sharedCache := redisrepo.New(rdb)
	pubsub := redisrepo.NewBlocksPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "hold", 30, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	localCache, err := cache.NewSnapshotCache(cache.SnapshotCacheConfig{
		MaxEntries: cfg.Snapshot.LocalMaxEntries,
		TTL:        cfg.Snapshot.LocalTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local cache: %w", err)
	}

	// Initialize services
	services := service.New(service.Deps{
		Store:  store,
		Cache:  sharedCache,
		PubSub: pubsub,
		Local:  localCache,
		Logger: logger,
		Allocation: allocation.Config{
			HoldTTL: cfg.Allocation.HoldTTL,
		},
		Snapshot: snapshot.Config{
			SharedTTL: cfg.Snapshot.SharedTTL,
			Timeout:   cfg.Snapshot.Timeout,
		},
		Feed: feed.Config{
			PollInterval: cfg.Feed.PollInterval,
			BufferSize:   cfg.Feed.BufferSize,
		},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, limiter, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		services: services,
		pubsub:   pubsub,
		local:    localCache,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Change feed poller
	g.Go(func() error {
		if err := a.services.Feed.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("change feed stopped: %w", err)
		}
		return nil
	})

	// Expired hold sweeper. The store expires holds lazily on every
	// read and write; the sweeper only keeps the table tidy so stale
	// rows do not accumulate for never-touched seats.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Allocation.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				n, err := a.services.Allocation.ExpireHolds(gCtx)
				if err != nil && postgresrepo.IsRetryable(err) {
					n, err = a.services.Allocation.ExpireHolds(gCtx)
				}
				if err != nil {
					a.logger.Error("hold sweep failed", "error", err)
					continue
				}
				if n > 0 {
					a.logger.Info("expired holds released", "count", n)
				}
			}
		}
	})

	// Peer invalidations. The mutating instance drops the shared cache
	// itself; peers only need to drop their in-process copy.
	g.Go(func() error {
		err := a.pubsub.Subscribe(gCtx, func(_ context.Context, eventID, blockID int64) {
			a.local.Invalidate(eventID, blockID)
		})
		if err != nil && err != context.Canceled {
			return fmt.Errorf("block invalidation subscriber stopped: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		a.local.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
