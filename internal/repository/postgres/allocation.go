package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seathold/seathold/internal/domain"
	"github.com/seathold/seathold/internal/repository"
)

// Schema selects how BlockSnapshot resolves block membership: joining
// the seat catalog, or reading the block id denormalized onto the
// allocation row. Both return identical results; the axis exists so
// operators can compare query cost between the two layouts.
type Schema string

const (
	SchemaJoin   Schema = "join"
	SchemaDenorm Schema = "denorm"
)

type AllocationRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *AllocationRepo) With(db DB) *AllocationRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *AllocationRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const allocationColumns = `event_id, block_id, seat_id, holder_id, status, hold_expires_at, booking_id, updated_at`

func scanAllocation(row pgx.Row) (*domain.Allocation, error) {
	var a domain.Allocation
	if err := row.Scan(
		&a.EventID,
		&a.BlockID,
		&a.SeatID,
		&a.HolderID,
		&a.Status,
		&a.HoldExpiresAt,
		&a.BookingID,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// Get retrieves the allocation row for one (event, seat) pair.
//
// Returns:
//   - *domain.Allocation: the row when present.
//   - error: repository.ErrNotFound when no row exists (the seat is
//     semantically available).
func (r *AllocationRepo) Get(ctx context.Context, eventID, seatID int64) (*domain.Allocation, error) {
	const op = "postgresrepo.AllocationRepo.Get"

	db := r.handle()

	a, err := scanAllocation(db.QueryRow(ctx,
		`SELECT `+allocationColumns+`
		 FROM allocations
		 WHERE event_id = $1 AND seat_id = $2`,
		eventID, seatID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return a, nil
}

// TryHold is the single atomic acquisition primitive: insert a hold row,
// or take over an existing row only if it is available or an expired
// hold. One statement, so there is no read-then-write gap; under N
// concurrent attempts exactly one caller wins.
//
// Returns:
//   - *domain.Allocation: the written row when the caller won.
//   - error: repository.ErrConflict when a concurrent holder won the race.
func (r *AllocationRepo) TryHold(
	ctx context.Context,
	eventID, blockID, seatID, holderID int64,
	expiresAt time.Time,
) (*domain.Allocation, error) {
	const op = "postgresrepo.AllocationRepo.TryHold"

	db := r.handle()

	a, err := scanAllocation(db.QueryRow(ctx,
		`INSERT INTO allocations (event_id, block_id, seat_id, holder_id, status, hold_expires_at, booking_id, updated_at)
		 VALUES ($1, $2, $3, $4, 'hold', $5, NULL, now())
		 ON CONFLICT (event_id, seat_id) DO UPDATE
		 SET holder_id = $4, status = 'hold', hold_expires_at = $5, booking_id = NULL, updated_at = now()
		 WHERE allocations.status = 'available'
		    OR (allocations.status = 'hold' AND allocations.hold_expires_at <= now())
		 RETURNING `+allocationColumns,
		eventID, blockID, seatID, holderID, expiresAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conditional update matched nothing: someone else holds
			// or occupies the seat.
			return nil, fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return a, nil
}

// Release transitions hold -> available, guarded by holder identity.
//
// Returns:
//   - bool: whether a row was rewritten. false means the row exists but
//     is not a hold owned by holderID; the caller classifies that.
//   - error: repository.ErrNotFound when no row exists at all.
func (r *AllocationRepo) Release(ctx context.Context, eventID, seatID, holderID int64) (bool, error) {
	const op = "postgresrepo.AllocationRepo.Release"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE allocations
		 SET holder_id = NULL, status = 'available', hold_expires_at = NULL, updated_at = now()
		 WHERE event_id = $1 AND seat_id = $2
		   AND status = 'hold' AND holder_id = $3`,
		eventID, seatID, holderID,
	)
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM allocations WHERE event_id = $1 AND seat_id = $2)`,
		eventID, seatID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}
	if !exists {
		return false, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return false, nil
}

// ConfirmSeat transitions hold -> occupied for one seat, guarded by
// holder identity and an unexpired TTL, attaching the booking id.
//
// Returns:
//   - *domain.Allocation: the confirmed row.
//   - error: repository.ErrConflict when the seat fails its guard (not
//     held, held by someone else, or expired) — callers skip such seats.
func (r *AllocationRepo) ConfirmSeat(
	ctx context.Context,
	eventID, seatID, holderID int64,
	bookingID uuid.UUID,
) (*domain.Allocation, error) {
	const op = "postgresrepo.AllocationRepo.ConfirmSeat"

	db := r.handle()

	a, err := scanAllocation(db.QueryRow(ctx,
		`UPDATE allocations
		 SET status = 'occupied', hold_expires_at = NULL, booking_id = $4, updated_at = now()
		 WHERE event_id = $1 AND seat_id = $2
		   AND status = 'hold' AND holder_id = $3 AND hold_expires_at > now()
		 RETURNING `+allocationColumns,
		eventID, seatID, holderID, bookingID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return a, nil
}

// BlockSnapshot lists every seat status in a block. The schema argument
// selects the join-based or denormalized query; results are identical.
func (r *AllocationRepo) BlockSnapshot(
	ctx context.Context,
	eventID, blockID int64,
	schema Schema,
) ([]domain.SeatStatus, error) {
	const op = "postgresrepo.AllocationRepo.BlockSnapshot"

	db := r.handle()

	var rows pgx.Rows
	var err error

	if schema == SchemaJoin {
		rows, err = db.Query(ctx,
			`SELECT a.seat_id, a.status, a.updated_at
			 FROM allocations a
			 JOIN seats s ON s.id = a.seat_id
			 WHERE a.event_id = $1 AND s.block_id = $2
			 ORDER BY a.seat_id`,
			eventID, blockID,
		)
	} else {
		rows, err = db.Query(ctx,
			`SELECT seat_id, status, updated_at
			 FROM allocations
			 WHERE event_id = $1 AND block_id = $2
			 ORDER BY seat_id`,
			eventID, blockID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out, err := collectSeatStatuses(rows)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ChangesSince lists the seats in a block whose allocation changed after
// the given watermark.
func (r *AllocationRepo) ChangesSince(
	ctx context.Context,
	eventID, blockID int64,
	since time.Time,
) ([]domain.SeatStatus, error) {
	const op = "postgresrepo.AllocationRepo.ChangesSince"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT seat_id, status, updated_at
		 FROM allocations
		 WHERE event_id = $1 AND block_id = $2 AND updated_at > $3
		 ORDER BY seat_id`,
		eventID, blockID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out, err := collectSeatStatuses(rows)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// AllocationsForBooking lists the seats attached to a confirmed booking,
// for later release/occupy adjustments by the reservation workflow.
func (r *AllocationRepo) AllocationsForBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Allocation, error) {
	const op = "postgresrepo.AllocationRepo.AllocationsForBooking"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+allocationColumns+`
		 FROM allocations
		 WHERE booking_id = $1
		 ORDER BY seat_id`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(
			&a.EventID,
			&a.BlockID,
			&a.SeatID,
			&a.HolderID,
			&a.Status,
			&a.HoldExpiresAt,
			&a.BookingID,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// InitEventSeats creates an available allocation row for every catalog
// seat, carrying the denormalized block id. Idempotent: existing rows
// are left untouched.
func (r *AllocationRepo) InitEventSeats(ctx context.Context, eventID int64) (int64, error) {
	const op = "postgresrepo.AllocationRepo.InitEventSeats"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`INSERT INTO allocations (event_id, block_id, seat_id, status, updated_at)
		 SELECT $1, s.block_id, s.id, 'available', now()
		 FROM seats s
		 ON CONFLICT (event_id, seat_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

// ExpireHolds rewrites every hold past its TTL back to available and
// returns how many rows were released. The acquisition path already
// treats expired holds as available; this sweep keeps snapshots honest.
func (r *AllocationRepo) ExpireHolds(ctx context.Context) (int64, error) {
	const op = "postgresrepo.AllocationRepo.ExpireHolds"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE allocations
		 SET holder_id = NULL, status = 'available', hold_expires_at = NULL, updated_at = now()
		 WHERE status = 'hold' AND hold_expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

func collectSeatStatuses(rows pgx.Rows) ([]domain.SeatStatus, error) {
	var out []domain.SeatStatus
	for rows.Next() {
		var ss domain.SeatStatus
		var status string
		if err := rows.Scan(&ss.SeatID, &status, &ss.UpdatedAt); err != nil {
			return nil, translateDBErr(err)
		}
		ss.Status = domain.AllocationStatus(status)
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
