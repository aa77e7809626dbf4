// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/domain"
	"libracirc/internal/store"
)

// Service defines the lending workflow.
type Service interface {
	Borrow(ctx context.Context, req BorrowRequest) (*BorrowResult, error)
	Return(ctx context.Context, loanID, actorID uuid.UUID) (*ReturnResult, error)
	GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error)
	ListLoans(ctx context.Context, filter store.LoanFilter) ([]domain.Loan, error)
	ListOverdue(ctx context.Context, limit int) ([]domain.Loan, error)
}
