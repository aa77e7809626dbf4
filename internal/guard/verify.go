package guard

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"libracirc/internal/domain"
	"libracirc/internal/store"
)

// Report compares a book's stored counters with what its loans and reviews imply.
type Report struct {
	BookID            uuid.UUID `json:"book_id"`
	TotalCopies       int       `json:"total_copies"`
	AvailableCopies   int       `json:"available_copies"`
	ActiveLoans       int       `json:"active_loans"`
	ExpectedAvailable int       `json:"expected_available"`
	AverageRating     float64   `json:"average_rating"`
	ExpectedRating    float64   `json:"expected_rating"`
	TotalReviews      int       `json:"total_reviews"`
	ExpectedReviews   int       `json:"expected_reviews"`
	Drift             []string  `json:"drift,omitempty"`
}

func (r Report) Consistent() bool { return len(r.Drift) == 0 }

// Verify reads without locks, so it is only exact when the book is quiescent.
func Verify(ctx context.Context, reader store.Reader, bookID uuid.UUID) (Report, error) {
	book, err := reader.GetBook(ctx, bookID)
	if err != nil {
		return Report{}, fmt.Errorf("verify book %s: %w", bookID, err)
	}
	loans, err := reader.ListLoans(ctx, store.LoanFilter{BookID: bookID, ActiveOnly: true})
	if err != nil {
		return Report{}, fmt.Errorf("verify loans of %s: %w", bookID, err)
	}
	reviews, err := reader.ListReviews(ctx, bookID)
	if err != nil {
		return Report{}, fmt.Errorf("verify reviews of %s: %w", bookID, err)
	}

	r := Report{
		BookID:          bookID,
		TotalCopies:     book.TotalCopies,
		AvailableCopies: book.AvailableCopies,
		ActiveLoans:     len(loans),
		AverageRating:   book.AverageRating,
		TotalReviews:    book.TotalReviews,
		ExpectedReviews: len(reviews),
	}
	if book.IsActive {
		r.ExpectedAvailable = book.TotalCopies - len(loans)
	}
	if len(reviews) > 0 {
		sum := 0
		for _, rv := range reviews {
			sum += rv.Rating
		}
		r.ExpectedRating = domain.RoundedMean(sum, len(reviews))
	}

	if book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		r.Drift = append(r.Drift, "available_copies out of range")
	}
	if r.AvailableCopies != r.ExpectedAvailable {
		r.Drift = append(r.Drift, fmt.Sprintf("available_copies %d, expected %d", r.AvailableCopies, r.ExpectedAvailable))
	}
	if r.TotalReviews != r.ExpectedReviews {
		r.Drift = append(r.Drift, fmt.Sprintf("total_reviews %d, expected %d", r.TotalReviews, r.ExpectedReviews))
	}
	if math.Abs(r.AverageRating-r.ExpectedRating) > 0.001 {
		r.Drift = append(r.Drift, fmt.Sprintf("average_rating %.2f, expected %.2f", r.AverageRating, r.ExpectedRating))
	}
	if book.TotalBorrowed < int64(len(loans)) {
		r.Drift = append(r.Drift, "total_borrowed below active loans")
	}
	return r, nil
}
