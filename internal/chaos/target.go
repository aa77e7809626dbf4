package chaos

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/circulation"
	"libracirc/internal/domain"
	"libracirc/internal/guard"
	"libracirc/internal/inventory"
	"libracirc/internal/review"
)

// Target is the lending surface the experiments drive.
// *clients.LendingClient implements it over HTTP.
type Target interface {
	AddBook(ctx context.Context, actor uuid.UUID, req inventory.NewBook) (*domain.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	ResizeInventory(ctx context.Context, actor, bookID uuid.UUID, total int) (*domain.Book, error)
	CheckConsistency(ctx context.Context, bookID uuid.UUID) (*guard.Report, error)
	Borrow(ctx context.Context, req circulation.BorrowRequest) (*circulation.BorrowResult, error)
	Return(ctx context.Context, loanID, actor uuid.UUID) (*circulation.ReturnResult, error)
	SubmitReview(ctx context.Context, req review.SubmitRequest) (*domain.Review, error)
}

// InProcess drives the services directly, without HTTP.
type InProcess struct {
	Inventory inventory.Service
	Lending   circulation.Service
	Reviews   review.Service
}

func (t InProcess) AddBook(ctx context.Context, actor uuid.UUID, req inventory.NewBook) (*domain.Book, error) {
	return t.Inventory.AddBook(ctx, actor, req)
}

func (t InProcess) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return t.Inventory.GetBook(ctx, id)
}

func (t InProcess) ResizeInventory(ctx context.Context, actor, bookID uuid.UUID, total int) (*domain.Book, error) {
	return t.Inventory.ResizeInventory(ctx, actor, bookID, total)
}

func (t InProcess) CheckConsistency(ctx context.Context, bookID uuid.UUID) (*guard.Report, error) {
	return t.Inventory.CheckConsistency(ctx, bookID)
}

func (t InProcess) Borrow(ctx context.Context, req circulation.BorrowRequest) (*circulation.BorrowResult, error) {
	return t.Lending.Borrow(ctx, req)
}

func (t InProcess) Return(ctx context.Context, loanID, actor uuid.UUID) (*circulation.ReturnResult, error) {
	return t.Lending.Return(ctx, loanID, actor)
}

func (t InProcess) SubmitReview(ctx context.Context, req review.SubmitRequest) (*domain.Review, error) {
	return t.Reviews.Submit(ctx, req)
}
