package rating

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libracirc/internal/apperr"
	"libracirc/internal/domain"
	"libracirc/internal/store"
	"libracirc/internal/store/memory"
)

func TestSummarize(t *testing.T) {
	avg, n := Summarize(nil)
	assert.Equal(t, 0.0, avg)
	assert.Equal(t, 0, n)

	avg, n = Summarize([]int{4, 5})
	assert.Equal(t, 4.5, avg)
	assert.Equal(t, 2, n)

	avg, _ = Summarize([]int{5, 4, 4})
	assert.Equal(t, 4.33, avg)

	avg, _ = Summarize([]int{1, 2, 2})
	assert.Equal(t, 1.67, avg)
}

func TestSummarizeRoundsHalfCentsUp(t *testing.T) {
	cases := []struct {
		name  string
		ones  int
		twos  int
		wants float64
	}{
		{"mean 1.025", 39, 1, 1.03},
		{"mean 1.275", 29, 11, 1.28},
		{"mean 1.175", 33, 7, 1.18},
		{"mean 1.125", 7, 1, 1.13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ratings := make([]int, 0, tc.ones+tc.twos)
			for i := 0; i < tc.ones; i++ {
				ratings = append(ratings, 1)
			}
			for i := 0; i < tc.twos; i++ {
				ratings = append(ratings, 2)
			}
			avg, _ := Summarize(ratings)
			assert.Equal(t, tc.wants, avg)
		})
	}
}

func TestSummarizeMatchesExactRounding(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ratings := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 200).Draw(t, "ratings")
		sum := 0
		for _, r := range ratings {
			sum += r
		}
		n := len(ratings)
		// round half up on sum/n in hundredths: floor(100*sum/n + 1/2)
		want := new(big.Rat).SetFrac64(int64(200*sum+n), int64(2*n))
		hundredths := new(big.Int).Quo(want.Num(), want.Denom())

		avg, _ := Summarize(ratings)
		if got := int64(math.Round(avg * 100)); got != hundredths.Int64() {
			t.Fatalf("Summarize(%d ratings, sum %d) = %v, want %d hundredths", n, sum, avg, hundredths.Int64())
		}
	})
}

func TestSummarizeStaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ratings := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 200).Draw(t, "ratings")
		avg, n := Summarize(ratings)
		if n != len(ratings) {
			t.Fatalf("count %d, want %d", n, len(ratings))
		}
		if avg < 1 || avg > 5 {
			t.Fatalf("average %v out of range", avg)
		}
	})
}

func TestRecomputeWritesBook(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	bookID := uuid.New()
	userA, userB := uuid.New(), uuid.New()

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBook(ctx, domain.Book{ID: bookID, Title: "Dune", TotalCopies: 1, AvailableCopies: 1, IsActive: true})
		require.NoError(t, err)
		require.NoError(t, tx.InsertReview(ctx, domain.Review{ID: uuid.New(), UserID: userA, BookID: bookID, Rating: 5}))
		require.NoError(t, tx.InsertReview(ctx, domain.Review{ID: uuid.New(), UserID: userB, BookID: bookID, Rating: 2}))
		_, err = Aggregator{}.Recompute(ctx, tx, bookID)
		return err
	})
	require.NoError(t, err)

	book, err := s.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 3.5, book.AverageRating)
	assert.Equal(t, 2, book.TotalReviews)
}

func TestRecomputeUnknownBook(t *testing.T) {
	s := memory.New()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := Aggregator{}.Recompute(ctx, tx, uuid.New())
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrBookNotFound)
}
