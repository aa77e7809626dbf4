package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libracirc/internal/circulation"
	"libracirc/internal/domain"
	"libracirc/internal/guard"
	"libracirc/internal/inventory"
	"libracirc/internal/review"
)

// LendingClient drives a running lending API, e.g. from the chaos harness.
type LendingClient struct {
	base
}

func NewLendingClient(baseURL string, opts ...Option) *LendingClient {
	return &LendingClient{base: newBase(baseURL, opts...)}
}

func (c *LendingClient) AddBook(ctx context.Context, actor uuid.UUID, req inventory.NewBook) (*domain.Book, error) {
	var book domain.Book
	if err := c.call(ctx, http.MethodPost, "/books", actor, req, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LendingClient) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	var book domain.Book
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/books/%s", id), uuid.Nil, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LendingClient) ResizeInventory(ctx context.Context, actor, bookID uuid.UUID, total int) (*domain.Book, error) {
	var book domain.Book
	err := c.call(ctx, http.MethodPut, fmt.Sprintf("/books/%s/inventory", bookID), actor,
		inventory.ResizeRequest{TotalCopies: total}, &book)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LendingClient) CheckConsistency(ctx context.Context, bookID uuid.UUID) (*guard.Report, error) {
	var report guard.Report
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/books/%s/consistency", bookID), uuid.Nil, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *LendingClient) Borrow(ctx context.Context, req circulation.BorrowRequest) (*circulation.BorrowResult, error) {
	var res circulation.BorrowResult
	if err := c.call(ctx, http.MethodPost, "/loans", req.UserID, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *LendingClient) Return(ctx context.Context, loanID, actor uuid.UUID) (*circulation.ReturnResult, error) {
	var res circulation.ReturnResult
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/loans/%s/return", loanID), actor, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *LendingClient) SubmitReview(ctx context.Context, req review.SubmitRequest) (*domain.Review, error) {
	var rv domain.Review
	if err := c.call(ctx, http.MethodPost, "/reviews", req.UserID, req, &rv); err != nil {
		return nil, err
	}
	return &rv, nil
}
