// Package rating keeps a book's aggregate rating in step with its reviews.
package rating

import (
	"context"

	"github.com/google/uuid"

	"libracirc/internal/apperr"
	"libracirc/internal/domain"
	"libracirc/internal/store"
)

// Aggregator recomputes (average_rating, total_reviews) from every current
// review. There is no incremental path.
type Aggregator struct{}

// Recompute must run in the same transaction as the review mutation that
// triggered it. It takes the book lock, which callers usually already hold.
func (Aggregator) Recompute(ctx context.Context, tx store.Tx, bookID uuid.UUID) (domain.Book, error) {
	book, err := tx.LockBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, store.Translate(err, apperr.ErrBookNotFound)
	}
	ratings, err := tx.ListRatings(ctx, bookID)
	if err != nil {
		return domain.Book{}, store.Translate(err, nil)
	}

	book.AverageRating, book.TotalReviews = Summarize(ratings)
	saved, err := tx.SaveBook(ctx, book)
	return saved, store.Translate(err, nil)
}

// Summarize returns round(mean, 2) and the count; (0, 0) for no ratings.
func Summarize(ratings []int) (float64, int) {
	if len(ratings) == 0 {
		return 0, 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return domain.RoundedMean(sum, len(ratings)), len(ratings)
}
