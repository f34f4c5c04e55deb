package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seathold/seathold/internal/domain"
	"github.com/seathold/seathold/internal/repository"
)

// EventRepo consumes the external event lifecycle: the core only needs
// "is booking open" plus the bulk seat initialization that runs when an
// event opens.
type EventRepo struct {
	pool  *pgxpool.Pool
	store *Store
	db    DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// GetEvent retrieves an event by its ID.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgresrepo.EventRepo.GetEvent"

	db := r.handle()

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT id, title, starts_at, booking_open
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Title, &e.Starts, &e.BookingOpen)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &e, nil
}

func (r *EventRepo) IsBookingOpen(ctx context.Context, id int64) (bool, error) {
	const op = "postgresrepo.EventRepo.IsBookingOpen"

	db := r.handle()

	var open bool
	if err := db.QueryRow(ctx,
		`SELECT booking_open FROM events WHERE id = $1`,
		id,
	).Scan(&open); err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return open, nil
}

// OpenBooking marks the event open and creates an available allocation
// row for every catalog seat, in one transaction.
//
// Returns:
//   - int64: the number of allocation rows created.
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) OpenBooking(ctx context.Context, id int64) (int64, error) {
	const op = "postgresrepo.EventRepo.OpenBooking"

	if r.db != nil {
		created, err := r.openBookingCore(ctx, r.db, id)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return created, nil
	}

	var created int64
	err := r.store.RunTx(ctx, nil, func(ctx context.Context, tx DB) error {
		n, err := r.openBookingCore(ctx, tx, id)
		if err != nil {
			return err
		}
		created = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return created, nil
}

func (r *EventRepo) openBookingCore(ctx context.Context, db DB, id int64) (int64, error) {
	tag, err := db.Exec(ctx,
		`UPDATE events SET booking_open = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, repository.ErrNotFound
	}

	alloc := &AllocationRepo{db: db}
	return alloc.InitEventSeats(ctx, id)
}
