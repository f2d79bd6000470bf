package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConstraintViolation indicates a unique/check constraint rejected the write.
	ErrConstraintViolation = errors.New("storage: constraint violation")
	// ErrIO indicates a connectivity or query failure.
	ErrIO = errors.New("storage: io failure")
	// ErrDuplicateActiveLink indicates the symbol already has an ACTIVE OCO link.
	ErrDuplicateActiveLink = errors.New("storage: active oco link exists for symbol")
)

// classify tags a pgx error with the store error taxonomy while preserving
// the original error chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23 covers integrity constraint violations.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23" {
			return fmt.Errorf("%s: %w: %v", op, ErrConstraintViolation, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrIO, err)
}
