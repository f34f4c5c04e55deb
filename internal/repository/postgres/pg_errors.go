package postgresrepo

import (
	"errors"

	pgconnv1 "github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/seathold/seathold/internal/repository"
)

// IsRetryable reports whether the error is a serialization failure or
// deadlock that a caller may retry. Accepts errors from both pgconn
// generations since pooled drivers can surface either.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}

	var pgErrV1 *pgconnv1.PgError
	if errors.As(err, &pgErrV1) {
		switch pgErrV1.Code {
		case "40001", "40P01":
			return true
		}
	}

	return false
}

func translateDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		// unique_violation
		if pge.Code == "23505" {
			return repository.ErrConflict
		}
	}

	return err
}
