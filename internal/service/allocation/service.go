package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/seathold/seathold/internal/domain"
	"github.com/seathold/seathold/internal/repository"
)

// AllocationStore is the persistence surface the coordinator drives. All
// mutations are single conditional statements; the store decides races,
// the coordinator only classifies outcomes.
type AllocationStore interface {
	Get(ctx context.Context, eventID, seatID int64) (*domain.Allocation, error)
	TryHold(ctx context.Context, eventID, blockID, seatID, holderID int64, expiresAt time.Time) (*domain.Allocation, error)
	Release(ctx context.Context, eventID, seatID, holderID int64) (bool, error)
	ConfirmSeat(ctx context.Context, eventID, seatID, holderID int64, bookingID uuid.UUID) (*domain.Allocation, error)
	AllocationsForBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Allocation, error)
	ExpireHolds(ctx context.Context) (int64, error)
}

// Catalog is the external seat catalog consumed by the coordinator.
type Catalog interface {
	SeatExists(ctx context.Context, seatID int64) (bool, error)
	BlockOf(ctx context.Context, seatID int64) (int64, error)
}

// Events is the external event lifecycle consumed by the coordinator.
type Events interface {
	IsBookingOpen(ctx context.Context, eventID int64) (bool, error)
	OpenBooking(ctx context.Context, eventID int64) (int64, error)
}

// Notifier is told after every successful mutation so caches can be
// dropped and other instances informed. Best effort; failures are the
// notifier's problem.
type Notifier interface {
	BlockChanged(ctx context.Context, eventID, blockID int64)
}

type NopNotifier struct{}

func (NopNotifier) BlockChanged(context.Context, int64, int64) {}

type Config struct {
	HoldTTL time.Duration
}

type Service struct {
	store    AllocationStore
	catalog  Catalog
	events   Events
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
}

func New(
	store AllocationStore,
	catalog Catalog,
	events Events,
	notifier Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 5 * time.Minute
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Service{
		store:    store,
		catalog:  catalog,
		events:   events,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Hold acquires a TTL-bound claim on one seat for one holder.
//
// Returns:
//   - error: allocation.ErrEventNotFound / ErrBookingClosed / ErrSeatNotFound
//     when the preconditions fail.
//   - error: allocation.ErrAlreadyOccupied / ErrAlreadyHeld when the seat is
//     taken; nil (idempotent) when the caller already holds it.
//   - error: allocation.ErrHoldConflict when a concurrent request wins the race.
func (s *Service) Hold(ctx context.Context, eventID, seatID, holderID int64) error {
	const op = "service.allocation.Hold"

	open, err := s.events.IsBookingOpen(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}
	if !open {
		return fmt.Errorf("%s:%w", op, ErrBookingClosed)
	}

	exists, err := s.catalog.SeatExists(ctx, seatID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s:%w", op, ErrSeatNotFound)
	}

	blockID, err := s.catalog.BlockOf(ctx, seatID)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	now := time.Now()

	// Advisory read: classifies the expected failure before the write.
	// The CAS below is the only authority on who wins.
	if err := s.classify(ctx, eventID, seatID, holderID, now); err != nil {
		if errors.Is(err, errHeldBySelf) {
			s.logger.Info("seat already held by same holder",
				"event_id", eventID, "seat_id", seatID, "holder_id", holderID)
			return nil
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	expiresAt := now.Add(s.cfg.HoldTTL)

	a, err := s.store.TryHold(ctx, eventID, blockID, seatID, holderID, expiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost the race; re-read so the caller learns what beat them.
			if cerr := s.classify(ctx, eventID, seatID, holderID, time.Now()); cerr != nil {
				if errors.Is(cerr, errHeldBySelf) {
					return nil
				}
				return fmt.Errorf("%s:%w", op, cerr)
			}
			return fmt.Errorf("%s:%w", op, ErrHoldConflict)
		}
		return fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("seat held",
		"event_id", eventID, "seat_id", seatID, "holder_id", holderID,
		"expires_at", expiresAt, "updated_at", a.UpdatedAt)

	s.notifier.BlockChanged(ctx, eventID, blockID)

	return nil
}

// errHeldBySelf is internal: the caller already owns an unexpired hold.
var errHeldBySelf = errors.New("held by self")

func (s *Service) classify(ctx context.Context, eventID, seatID, holderID int64, now time.Time) error {
	a, err := s.store.Get(ctx, eventID, seatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil // no row: available
		}
		return err
	}

	switch {
	case a.Status == domain.StatusOccupied:
		return ErrAlreadyOccupied
	case a.HeldBy(holderID, now):
		return errHeldBySelf
	case a.Status == domain.StatusHold && !a.Expired(now):
		return ErrAlreadyHeld
	default:
		return nil // available or expired hold
	}
}

// Release returns a held seat to the pool. Only the current holder may
// release.
//
// Returns:
//   - error: allocation.ErrAllocationNotFound when no row exists.
//   - error: allocation.ErrUnauthorizedRelease on holder mismatch.
func (s *Service) Release(ctx context.Context, eventID, seatID, holderID int64) error {
	const op = "service.allocation.Release"

	ok, err := s.store.Release(ctx, eventID, seatID, holderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrAllocationNotFound)
		}
		return fmt.Errorf("%s:%w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s:%w", op, ErrUnauthorizedRelease)
	}

	s.logger.Info("seat released",
		"event_id", eventID, "seat_id", seatID, "holder_id", holderID)

	if blockID, berr := s.catalog.BlockOf(ctx, seatID); berr == nil {
		s.notifier.BlockChanged(ctx, eventID, blockID)
	}

	return nil
}

// Confirm transitions each held seat to occupied under a freshly minted
// booking id. Seats that fail their individual guard (not held by this
// holder, or expired) are skipped, not aborted: a client retaining a
// partial hold set still books what it can.
//
// Returns:
//   - []domain.Allocation: the confirmed rows.
//   - uuid.UUID: the booking id the rows are attached to.
//   - error: allocation.ErrNothingToConfirm when no seat passed its guard.
func (s *Service) Confirm(
	ctx context.Context,
	eventID int64,
	seatIDs []int64,
	holderID int64,
) ([]domain.Allocation, uuid.UUID, error) {
	const op = "service.allocation.Confirm"

	if len(seatIDs) == 0 {
		return nil, uuid.Nil, fmt.Errorf("%s:%w", op, ErrNothingToConfirm)
	}

	bookingID := uuid.New()

	var confirmed []domain.Allocation
	blocks := make(map[int64]struct{})

	for _, seatID := range seatIDs {
		a, err := s.store.ConfirmSeat(ctx, eventID, seatID, holderID, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
				s.logger.Warn("seat skipped during confirm",
					"event_id", eventID, "seat_id", seatID, "holder_id", holderID)
				continue
			}
			return nil, uuid.Nil, fmt.Errorf("%s:%w", op, err)
		}

		confirmed = append(confirmed, *a)
		blocks[a.BlockID] = struct{}{}
	}

	if len(confirmed) == 0 {
		return nil, uuid.Nil, fmt.Errorf("%s:%w", op, ErrNothingToConfirm)
	}

	s.logger.Info("seats confirmed",
		"event_id", eventID, "holder_id", holderID,
		"booking_id", bookingID, "confirmed", len(confirmed), "requested", len(seatIDs))

	for blockID := range blocks {
		s.notifier.BlockChanged(ctx, eventID, blockID)
	}

	return confirmed, bookingID, nil
}

// AllocationsForBooking lists the seats attached to a booking.
//
// Returns:
//   - error: allocation.ErrBookingNotFound when the booking has no seats.
func (s *Service) AllocationsForBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Allocation, error) {
	const op = "service.allocation.AllocationsForBooking"

	out, err := s.store.AllocationsForBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
	}

	return out, nil
}

// OpenBooking marks the event open and bulk-initializes every catalog
// seat as available.
//
// Returns:
//   - int64: the number of allocation rows created.
//   - error: allocation.ErrEventNotFound if the event is unknown.
func (s *Service) OpenBooking(ctx context.Context, eventID int64) (int64, error) {
	const op = "service.allocation.OpenBooking"

	created, err := s.events.OpenBooking(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("booking opened", "event_id", eventID, "seats_initialized", created)

	return created, nil
}

// ExpireHolds sweeps holds past their TTL back to available. Correctness
// never depends on it running; the acquisition guard treats expired
// holds as available regardless.
func (s *Service) ExpireHolds(ctx context.Context) (int64, error) {
	const op = "service.allocation.ExpireHolds"

	released, err := s.store.ExpireHolds(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	if released > 0 {
		s.logger.Info("expired holds released", "count", released)
	}

	return released, nil
}
