// internal/inventory/domain.go
package inventory

import (
	"github.com/google/uuid"
)

// NewBook registers a title with its initial copy count.
type NewBook struct {
	ID          uuid.UUID `json:"id,omitempty"`
	ISBN        string    `json:"isbn" validate:"required,max=20"`
	Title       string    `json:"title" validate:"required,max=500"`
	Author      string    `json:"author" validate:"required,max=300"`
	TotalCopies int       `json:"total_copies" validate:"min=1"`
}

// ResizeRequest changes a book's owned copies.
type ResizeRequest struct {
	TotalCopies int `json:"total_copies" validate:"min=1"`
}
