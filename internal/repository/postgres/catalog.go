package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seathold/seathold/internal/domain"
)

// CatalogRepo consumes the external seat catalog: immutable seat
// identity and block grouping. The core never mutates these tables.
type CatalogRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *CatalogRepo) With(db DB) *CatalogRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *CatalogRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *CatalogRepo) SeatExists(ctx context.Context, seatID int64) (bool, error) {
	const op = "postgresrepo.CatalogRepo.SeatExists"

	db := r.handle()

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM seats WHERE id = $1)`,
		seatID,
	).Scan(&exists); err != nil {
		return false, wrapDBErr(op, err)
	}

	return exists, nil
}

func (r *CatalogRepo) BlockOf(ctx context.Context, seatID int64) (int64, error) {
	const op = "postgresrepo.CatalogRepo.BlockOf"

	db := r.handle()

	var blockID int64
	if err := db.QueryRow(ctx,
		`SELECT block_id FROM seats WHERE id = $1`,
		seatID,
	).Scan(&blockID); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return blockID, nil
}

func (r *CatalogRepo) SeatsInBlock(ctx context.Context, blockID int64) ([]domain.Seat, error) {
	const op = "postgresrepo.CatalogRepo.SeatsInBlock"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, block_id, section, row, number
		 FROM seats
		 WHERE block_id = $1
		 ORDER BY section, row, number`,
		blockID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ID, &s.BlockID, &s.Section, &s.Row, &s.Number); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
