package domain

import (
	"time"

	"github.com/google/uuid"
)

// Loan is one copy of one book lent to one user. It moves from active to
// returned exactly once.
type Loan struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	BookID       uuid.UUID  `json:"book_id" db:"book_id"`
	CheckoutDate time.Time  `json:"checkout_date" db:"checkout_date"`
	DueDate      time.Time  `json:"due_date" db:"due_date"`
	ReturnDate   *time.Time `json:"return_date,omitempty" db:"return_date"`
	IsReturned   bool       `json:"is_returned" db:"is_returned"`
	IsLate       bool       `json:"is_late" db:"is_late"`
	LateFee      Cents      `json:"late_fee" db:"late_fee_cents"`
	Version      int        `json:"version" db:"version"`
}

// Overdue is derived, never stored.
func (l Loan) Overdue(today time.Time) bool {
	return !l.IsReturned && l.DueDate.Before(today)
}

func (l Loan) Active() bool { return !l.IsReturned }
