// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"libracirc/internal/domain"
)

// Policy holds the lending limits and fee schedule.
type Policy struct {
	FeePerDay         domain.Cents
	MaxActiveLoans    int
	MinLoanPeriodDays int
	MaxLoanPeriodDays int
	DefaultPeriodDays int
	Location          *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		FeePerDay:         100,
		MaxActiveLoans:    5,
		MinLoanPeriodDays: 1,
		MaxLoanPeriodDays: 30,
		DefaultPeriodDays: 14,
		Location:          time.UTC,
	}
}

// BorrowRequest asks for one copy of BookID. Set either LoanPeriodDays or
// DueDate; when neither is set the default period applies.
type BorrowRequest struct {
	UserID         uuid.UUID  `json:"user_id"`
	BookID         uuid.UUID  `json:"book_id" validate:"required"`
	LoanPeriodDays *int       `json:"loan_period_days,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// Days is a loan period for BorrowRequest.LoanPeriodDays.
func Days(n int) *int { return &n }

type BorrowResult struct {
	LoanID  uuid.UUID `json:"loan_id"`
	DueDate time.Time `json:"due_date"`
}

type ReturnResult struct {
	LoanID   uuid.UUID    `json:"loan_id"`
	LateFee  domain.Cents `json:"late_fee"`
	IsLate   bool         `json:"is_late"`
	DaysLate int          `json:"days_late"`
}

// LateFee charges feePerDay for each whole day past due.
func LateFee(dueDate, returnDate time.Time, feePerDay domain.Cents) (daysLate int, fee domain.Cents) {
	daysLate = domain.DaysBetween(dueDate, returnDate)
	if daysLate < 0 {
		daysLate = 0
	}
	return daysLate, domain.Cents(int64(daysLate) * int64(feePerDay))
}
