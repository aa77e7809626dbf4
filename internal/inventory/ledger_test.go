package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"libracirc/internal/apperr"
	"libracirc/internal/domain"
	"libracirc/internal/guard"
	"libracirc/internal/store"
	"libracirc/internal/store/memory"
)

func newStore(t *testing.T, b domain.Book) *memory.Store {
	t.Helper()
	s := memory.New(memory.WithInspector(guard.New()))
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBook(ctx, b)
		return err
	}))
	return s
}

func inTx[T any](t *testing.T, s *memory.Store, fn func(ctx context.Context, tx store.Tx) (T, error)) (T, error) {
	t.Helper()
	var out T
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = fn(ctx, tx)
		return err
	})
	return out, err
}

func TestReserveAndRelease(t *testing.T) {
	id := uuid.New()
	s := newStore(t, domain.Book{ID: id, TotalCopies: 1, AvailableCopies: 1, IsActive: true})
	var l Ledger

	b, err := inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) { return l.Reserve(ctx, tx, id) })
	require.NoError(t, err)
	assert.Equal(t, 0, b.AvailableCopies)
	assert.Equal(t, int64(1), b.TotalBorrowed)

	_, err = inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) { return l.Reserve(ctx, tx, id) })
	assert.ErrorIs(t, err, apperr.ErrExhausted)

	b, err = inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) { return l.Release(ctx, tx, id) })
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)

	// a stray release cannot push availability past the total
	b, err = inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) { return l.Release(ctx, tx, id) })
	require.NoError(t, err)
	assert.Equal(t, 1, b.AvailableCopies)
}

func TestReserveUnknownBook(t *testing.T) {
	s := memory.New()
	var l Ledger
	_, err := inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) { return l.Reserve(ctx, tx, uuid.New()) })
	assert.ErrorIs(t, err, apperr.ErrBookNotFound)
}

func TestResizeKeepsLoansOnLoan(t *testing.T) {
	cases := []struct {
		name         string
		total, avail int
		newTotal     int
		wantAvail    int
		wantErr      *apperr.Error
	}{
		{"grow", 5, 2, 8, 5, nil},
		{"shrink to on-loan count", 5, 2, 3, 0, nil},
		{"shrink below on-loan count", 5, 2, 2, 0, apperr.ErrConflict},
		{"zero", 5, 5, 0, 0, apperr.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := uuid.New()
			s := newStore(t, domain.Book{ID: id, TotalCopies: tc.total, AvailableCopies: tc.avail, IsActive: true})
			var l Ledger

			b, err := inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) {
				_, after, err := l.Resize(ctx, tx, id, tc.newTotal)
				return after, err
			})
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.newTotal, b.TotalCopies)
			assert.Equal(t, tc.wantAvail, b.AvailableCopies)
		})
	}
}

func TestResizeRetiredBookKeepsZeroAvailable(t *testing.T) {
	id := uuid.New()
	s := newStore(t, domain.Book{ID: id, TotalCopies: 4, IsActive: false})
	var l Ledger

	b, err := inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) {
		_, after, err := l.Resize(ctx, tx, id, 2)
		return after, err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.TotalCopies)
	assert.Equal(t, 0, b.AvailableCopies)
}

func TestRetire(t *testing.T) {
	id := uuid.New()
	s := newStore(t, domain.Book{ID: id, TotalCopies: 2, AvailableCopies: 1, IsActive: true})
	var l Ledger

	loanID := uuid.New()
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertLoan(ctx, domain.Loan{ID: loanID, UserID: uuid.New(), BookID: id})
	}))

	_, err := inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) {
		_, after, err := l.Retire(ctx, tx, id)
		return after, err
	})
	assert.ErrorIs(t, err, apperr.ErrActiveLoans)

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		loan.IsReturned = true
		return tx.SaveLoan(ctx, loan)
	}))

	b, err := inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) {
		_, after, err := l.Retire(ctx, tx, id)
		return after, err
	})
	require.NoError(t, err)
	assert.False(t, b.IsActive)
	assert.Equal(t, 0, b.AvailableCopies)

	_, err = inTx(t, s, func(ctx context.Context, tx store.Tx) (domain.Book, error) { return l.Reserve(ctx, tx, id) })
	assert.ErrorIs(t, err, apperr.ErrBookInactive)
}

// Any interleaving of reserves, releases and resizes keeps
// 0 <= available <= total and available = total - on loan.
func TestLedgerInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		id := uuid.New()
		total := rapid.IntRange(1, 6).Draw(rt, "total")
		s := memory.New(memory.WithInspector(guard.New()))
		require.NoError(rt, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.InsertBook(ctx, domain.Book{ID: id, TotalCopies: total, AvailableCopies: total, IsActive: true})
			return err
		}))
		var l Ledger
		onLoan := 0

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 2).Draw(rt, "op")
			err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				switch op {
				case 0:
					_, err := l.Reserve(ctx, tx, id)
					return err
				case 1:
					if onLoan == 0 {
						return nil
					}
					_, err := l.Release(ctx, tx, id)
					return err
				default:
					_, _, err := l.Resize(ctx, tx, id, rapid.IntRange(1, 8).Draw(rt, "newTotal"))
					return err
				}
			})
			if err == nil {
				switch op {
				case 0:
					onLoan++
				case 1:
					if onLoan > 0 {
						onLoan--
					}
				}
			}

			b, err := s.GetBook(context.Background(), id)
			require.NoError(rt, err)
			if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
				rt.Fatalf("available %d out of [0, %d]", b.AvailableCopies, b.TotalCopies)
			}
			if b.AvailableCopies != b.TotalCopies-onLoan {
				rt.Fatalf("available %d, total %d, on loan %d", b.AvailableCopies, b.TotalCopies, onLoan)
			}
		}
	})
}
