// Package domain holds the records shared by the lending engine.
package domain

import (
	"time"

	"github.com/google/uuid"
)

const MaxRating = 5.0

// Book is the inventory row every lending operation contends on.
// Counter fields change only through the inventory ledger and the rating
// aggregator; the store bumps Version on every write.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ISBN            string    `json:"isbn" db:"isbn"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	TotalBorrowed   int64     `json:"total_borrowed" db:"total_borrowed"`
	AverageRating   float64   `json:"average_rating" db:"average_rating"`
	TotalReviews    int       `json:"total_reviews" db:"total_reviews"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	Version         int       `json:"version" db:"version"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OnLoan is the number of copies currently out.
func (b Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// BookSnapshot is the subset of a book recorded in audit entries.
type BookSnapshot struct {
	TotalCopies     int     `json:"total_copies"`
	AvailableCopies int     `json:"available_copies"`
	TotalBorrowed   int64   `json:"total_borrowed"`
	AverageRating   float64 `json:"average_rating"`
	TotalReviews    int     `json:"total_reviews"`
	IsActive        bool    `json:"is_active"`
	Version         int     `json:"version"`
}

func (b Book) Snapshot() BookSnapshot {
	return BookSnapshot{
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		TotalBorrowed:   b.TotalBorrowed,
		AverageRating:   b.AverageRating,
		TotalReviews:    b.TotalReviews,
		IsActive:        b.IsActive,
		Version:         b.Version,
	}
}
