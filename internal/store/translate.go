package store

import (
	"context"
	"errors"

	"libracirc/internal/apperr"
)

// Translate folds infrastructure errors into the failure taxonomy.
// notFound is used for ErrNotFound so callers can say which record was missing.
func Translate(err error, notFound *apperr.Error) error {
	if err == nil {
		return nil
	}
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		if notFound == nil {
			notFound = apperr.ErrNotFound
		}
		return apperr.Wrap(err, notFound.Kind, notFound.Code, notFound.Message)
	case errors.Is(err, ErrDuplicate):
		return apperr.Wrap(err, apperr.KindStateConflict, apperr.CodeDuplicate, apperr.ErrDuplicate.Message)
	case errors.Is(err, ErrContention):
		return apperr.Wrap(err, apperr.KindContention, apperr.CodeContention, apperr.ErrContention.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(err, apperr.KindContention, apperr.CodeContention, "deadline exceeded while waiting for a lock")
	default:
		return apperr.Wrap(err, apperr.KindStore, apperr.CodeStore, apperr.ErrStore.Message)
	}
}
