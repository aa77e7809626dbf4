package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/domain"
	"libracirc/internal/store"
)

func seedBook(t *testing.T, s *Store, copies int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBook(ctx, domain.Book{ID: id, Title: "Persuasion", TotalCopies: copies, AvailableCopies: copies, IsActive: true})
		return err
	}))
	return id
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	s := New()
	id := seedBook(t, s, 2)
	boom := errors.New("boom")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		b, err := tx.LockBook(ctx, id)
		if err != nil {
			return err
		}
		b.AvailableCopies = 1
		if _, err := tx.SaveBook(ctx, b); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, domain.AuditEntry{ID: uuid.New()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	b, err := s.GetBook(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, b.AvailableCopies)
	assert.Equal(t, 1, b.Version)

	entries, err := s.ListAudit(context.Background(), store.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadsInsideTxSeeStagedRows(t *testing.T) {
	s := New()
	id := seedBook(t, s, 1)
	user := uuid.New()

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertLoan(ctx, domain.Loan{ID: uuid.New(), UserID: user, BookID: id}))
		n, err := tx.CountActiveLoansByUser(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		has, err := tx.HasLoan(ctx, user, id)
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	}))
}

func TestLocksAreReentrantAndExclusive(t *testing.T) {
	s := New(WithLockTimeout(30 * time.Millisecond))
	id := seedBook(t, s, 1)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.LockBook(ctx, id); err != nil {
				return err
			}
			if _, err := tx.LockBook(ctx, id); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockBook(ctx, id)
		return err
	})
	assert.ErrorIs(t, err, store.ErrContention)

	close(release)
	assert.Eventually(t, func() bool {
		return s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.LockBook(ctx, id)
			return err
		}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWritesRequireLock(t *testing.T) {
	s := New()
	id := seedBook(t, s, 1)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.SaveBook(ctx, domain.Book{ID: id, TotalCopies: 1})
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotLocked)

	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.SaveLoan(ctx, domain.Loan{ID: uuid.New()})
	})
	assert.ErrorIs(t, err, store.ErrNotLocked)
}

func TestUnknownRows(t *testing.T) {
	s := New()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockBook(ctx, uuid.New())
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetLoan(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReviewUniquenessAndDelete(t *testing.T) {
	s := New()
	book := seedBook(t, s, 1)
	user := uuid.New()
	first := domain.Review{ID: uuid.New(), UserID: user, BookID: book, Rating: 4}

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertReview(ctx, first)
	}))

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertReview(ctx, domain.Review{ID: uuid.New(), UserID: user, BookID: book, Rating: 1})
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockReview(ctx, first.ID); err != nil {
			return err
		}
		if err := tx.DeleteReview(ctx, first.ID); err != nil {
			return err
		}
		ratings, err := tx.ListRatings(ctx, book)
		require.NoError(t, err)
		assert.Empty(t, ratings)
		_, err = tx.FindReview(ctx, user, book)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))

	reviews, err := s.ListReviews(context.Background(), book)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestAuditSequenceAndCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.AppendAudit(ctx, domain.AuditEntry{ID: uuid.New(), ActionType: domain.ActionBookBorrowed})
		}))
	}

	batch, err := s.StreamAudit(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{batch[0].Seq, batch[1].Seq, batch[2].Seq})

	rest, err := s.StreamAudit(ctx, 3, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	done, err := s.StreamAudit(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, done)

	require.NoError(t, s.SaveAuditCursor(ctx, "relay", 4))
	require.NoError(t, s.SaveAuditCursor(ctx, "relay", 2))
	cur, err := s.AuditCursor(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, int64(4), cur)

	newest, err := s.ListAudit(ctx, store.AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, int64(5), newest[0].Seq)
}

type countingInspector struct{ calls int }

func (c *countingInspector) Inspect(_ context.Context, before, after *domain.Book) []domain.AuditEntry {
	c.calls++
	if before != nil && before.TotalCopies != after.TotalCopies {
		return []domain.AuditEntry{{ID: uuid.New(), ActionType: domain.ActionLargeInventoryChange, TargetID: after.ID}}
	}
	return nil
}

func TestSaveBookRunsInspector(t *testing.T) {
	insp := &countingInspector{}
	s := New(WithInspector(insp))
	id := seedBook(t, s, 4)

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		b, err := tx.LockBook(ctx, id)
		if err != nil {
			return err
		}
		b.TotalCopies, b.AvailableCopies = 8, 8
		saved, err := tx.SaveBook(ctx, b)
		assert.Equal(t, 2, saved.Version)
		return err
	}))

	assert.Equal(t, 2, insp.calls)
	entries, err := s.ListAudit(context.Background(), store.AuditFilter{TargetID: id})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionLargeInventoryChange, entries[0].ActionType)
}
