package review

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/domain"
)

// Service runs the review workflow. Every mutation recomputes the book's
// rating in the same transaction.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*domain.Review, error)
	Update(ctx context.Context, reviewID, actorID uuid.UUID, req UpdateRequest) (*domain.Review, error)
	Delete(ctx context.Context, reviewID, actorID uuid.UUID) error
	Get(ctx context.Context, reviewID uuid.UUID) (*domain.Review, error)
	ListForBook(ctx context.Context, bookID uuid.UUID) ([]domain.Review, error)
}
