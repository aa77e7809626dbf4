package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"libracirc/internal/store"
)

// SQLSTATE codes that mean "another transaction holds what you need".
const (
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeQueryCanceled        = "57014"
)

// classify maps driver errors onto the store sentinels, keeping the cause.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", what, store.ErrContention, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", what, store.ErrDuplicate, pqErr.Constraint)
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure, codeQueryCanceled:
			return fmt.Errorf("%s: %w: %s", what, store.ErrContention, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
