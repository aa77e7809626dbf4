// internal/inventory/service.go
package inventory

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/domain"
	"libracirc/internal/guard"
)

// Service manages book stock. Resize and retire are staff operations.
type Service interface {
	AddBook(ctx context.Context, actorID uuid.UUID, req NewBook) (*domain.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	ResizeInventory(ctx context.Context, actorID, bookID uuid.UUID, newTotal int) (*domain.Book, error)
	RetireBook(ctx context.Context, actorID, bookID uuid.UUID) error
	CheckConsistency(ctx context.Context, bookID uuid.UUID) (*guard.Report, error)
}
