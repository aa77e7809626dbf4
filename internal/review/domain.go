package review

import "github.com/google/uuid"

type SubmitRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	BookID  uuid.UUID `json:"book_id" validate:"required"`
	Rating  int       `json:"rating"`
	Comment string    `json:"comment" validate:"max=5000"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	Rating  *int    `json:"rating,omitempty"`
	Comment *string `json:"comment,omitempty" validate:"omitempty,max=5000"`
}
