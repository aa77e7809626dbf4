package inventory

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/apperr"
	"libracirc/internal/domain"
	"libracirc/internal/store"
)

// Ledger is the only code that changes a book's copy counters. Every method
// runs inside the caller's transaction and takes the book row lock.
type Ledger struct{}

// Reserve takes one copy out of circulation for a new loan.
func (Ledger) Reserve(ctx context.Context, tx store.Tx, bookID uuid.UUID) (domain.Book, error) {
	book, err := tx.LockBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, store.Translate(err, apperr.ErrBookNotFound)
	}
	if !book.IsActive {
		return domain.Book{}, apperr.Withf(apperr.ErrBookInactive, "book %s is retired", bookID)
	}
	if book.AvailableCopies <= 0 {
		return domain.Book{}, apperr.Withf(apperr.ErrExhausted, "all %d copies of %s are on loan", book.TotalCopies, bookID)
	}

	book.AvailableCopies--
	book.TotalBorrowed++
	saved, err := tx.SaveBook(ctx, book)
	return saved, store.Translate(err, nil)
}

// Release puts a returned copy back. Availability never exceeds the total.
func (Ledger) Release(ctx context.Context, tx store.Tx, bookID uuid.UUID) (domain.Book, error) {
	book, err := tx.LockBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, store.Translate(err, apperr.ErrBookNotFound)
	}
	if book.AvailableCopies < book.TotalCopies {
		book.AvailableCopies++
	}
	saved, err := tx.SaveBook(ctx, book)
	return saved, store.Translate(err, nil)
}

// Resize changes the number of owned copies, keeping the copies on loan
// on loan: available = newTotal - (oldTotal - oldAvailable).
func (Ledger) Resize(ctx context.Context, tx store.Tx, bookID uuid.UUID, newTotal int) (before, after domain.Book, err error) {
	if newTotal < 1 {
		return domain.Book{}, domain.Book{}, apperr.Withf(apperr.ErrInvalidInput, "total copies must be at least 1, got %d", newTotal)
	}
	before, err = tx.LockBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, domain.Book{}, store.Translate(err, apperr.ErrBookNotFound)
	}

	onLoan := before.OnLoan()
	if !before.IsActive {
		// retired books hold no loans and report zero available
		onLoan = 0
	}
	available := newTotal - onLoan
	if available < 0 {
		return domain.Book{}, domain.Book{}, apperr.Withf(apperr.ErrConflict,
			"%d copies are on loan, cannot shrink to %d", onLoan, newTotal)
	}

	next := before
	next.TotalCopies = newTotal
	if next.IsActive {
		next.AvailableCopies = available
	}
	after, err = tx.SaveBook(ctx, next)
	return before, after, store.Translate(err, nil)
}

// Retire deactivates a book with no copies on loan.
func (Ledger) Retire(ctx context.Context, tx store.Tx, bookID uuid.UUID) (before, after domain.Book, err error) {
	before, err = tx.LockBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, domain.Book{}, store.Translate(err, apperr.ErrBookNotFound)
	}
	active, err := tx.CountActiveLoansByBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, domain.Book{}, store.Translate(err, nil)
	}
	if active > 0 {
		return domain.Book{}, domain.Book{}, apperr.Withf(apperr.ErrActiveLoans, "%d active loan(s) on %s", active, bookID)
	}

	next := before
	next.IsActive = false
	next.AvailableCopies = 0
	after, err = tx.SaveBook(ctx, next)
	return before, after, store.Translate(err, nil)
}
