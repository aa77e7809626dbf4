package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinReviewRating = 1
	MaxReviewRating = 5
)

type Review struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	BookID       uuid.UUID `json:"book_id" db:"book_id"`
	Rating       int       `json:"rating" db:"rating"`
	Comment      string    `json:"comment" db:"comment"`
	HelpfulVotes int       `json:"helpful_votes" db:"helpful_votes"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ValidRating reports whether r is an accepted star value.
func ValidRating(r int) bool {
	return r >= MinReviewRating && r <= MaxReviewRating
}

// RoundedMean is round(sum/n, 2) with halves rounded up, computed on
// integers so a mean like 1.025 is not truncated by float error.
func RoundedMean(sum, n int) float64 {
	if n <= 0 {
		return 0
	}
	q := (sum*200 + n) / (2 * n)
	return float64(q) / 100
}
