package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libracirc/internal/domain"
	"libracirc/internal/store"
)

type tx struct {
	s  *Store
	tx *sqlx.Tx

	// row images as of lock time, used as "before" for the inspector
	lockedBooks   map[uuid.UUID]domain.Book
	lockedLoans   map[uuid.UUID]bool
	lockedReviews map[uuid.UUID]bool

	audit []domain.AuditEntry
}

func newTx(s *Store, sqlTx *sqlx.Tx) *tx {
	return &tx{
		s:             s,
		tx:            sqlTx,
		lockedBooks:   make(map[uuid.UUID]domain.Book),
		lockedLoans:   make(map[uuid.UUID]bool),
		lockedReviews: make(map[uuid.UUID]bool),
	}
}

// LockBorrower takes a transaction-scoped advisory lock; there is no
// borrower row to lock in this database.
func (t *tx) LockBorrower(ctx context.Context, userID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "borrower:"+userID.String())
	return classify(err, "lock borrower "+userID.String())
}

func (t *tx) LockBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	var b domain.Book
	err := t.tx.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return domain.Book{}, classify(err, "lock book "+id.String())
	}
	if _, seen := t.lockedBooks[id]; !seen {
		t.lockedBooks[id] = b
	}
	return b, nil
}

func (t *tx) InsertBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	t.audit = append(t.audit, t.s.inspector.Inspect(ctx, nil, &b)...)

	var saved domain.Book
	err := t.tx.GetContext(ctx, &saved, `
		INSERT INTO books (id, isbn, title, author, total_copies, available_copies,
		                   total_borrowed, average_rating, total_reviews, is_active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		RETURNING `+bookColumns,
		b.ID, b.ISBN, b.Title, b.Author, b.TotalCopies, b.AvailableCopies,
		b.TotalBorrowed, b.AverageRating, b.TotalReviews, b.IsActive)
	if err != nil {
		return domain.Book{}, classify(err, "insert book "+b.ID.String())
	}
	t.lockedBooks[saved.ID] = saved
	return saved, nil
}

func (t *tx) SaveBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	prev, ok := t.lockedBooks[b.ID]
	if !ok {
		return domain.Book{}, fmt.Errorf("save book %s: %w", b.ID, store.ErrNotLocked)
	}
	t.audit = append(t.audit, t.s.inspector.Inspect(ctx, &prev, &b)...)

	var saved domain.Book
	err := t.tx.GetContext(ctx, &saved, `
		UPDATE books
		SET isbn = $2, title = $3, author = $4, total_copies = $5, available_copies = $6,
		    total_borrowed = $7, average_rating = $8, total_reviews = $9, is_active = $10,
		    version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING `+bookColumns,
		b.ID, b.ISBN, b.Title, b.Author, b.TotalCopies, b.AvailableCopies,
		b.TotalBorrowed, b.AverageRating, b.TotalReviews, b.IsActive)
	if err != nil {
		return domain.Book{}, classify(err, "save book "+b.ID.String())
	}
	t.lockedBooks[saved.ID] = saved
	return saved, nil
}

func (t *tx) LockLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error) {
	var l domain.Loan
	err := t.tx.GetContext(ctx, &l, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return domain.Loan{}, classify(err, "lock loan "+id.String())
	}
	t.lockedLoans[id] = true
	return normalizeLoan(l), nil
}

func (t *tx) InsertLoan(ctx context.Context, l domain.Loan) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loans (id, user_id, book_id, checkout_date, due_date, return_date,
		                   is_returned, is_late, late_fee_cents, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`,
		l.ID, l.UserID, l.BookID, l.CheckoutDate, l.DueDate.Format("2006-01-02"), l.ReturnDate,
		l.IsReturned, l.IsLate, int64(l.LateFee))
	if err != nil {
		return classify(err, "insert loan "+l.ID.String())
	}
	t.lockedLoans[l.ID] = true
	return nil
}

func (t *tx) SaveLoan(ctx context.Context, l domain.Loan) error {
	if !t.lockedLoans[l.ID] {
		return fmt.Errorf("save loan %s: %w", l.ID, store.ErrNotLocked)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE loans
		SET due_date = $2, return_date = $3, is_returned = $4, is_late = $5,
		    late_fee_cents = $6, version = version + 1
		WHERE id = $1`,
		l.ID, l.DueDate.Format("2006-01-02"), l.ReturnDate, l.IsReturned, l.IsLate, int64(l.LateFee))
	if err != nil {
		return classify(err, "save loan "+l.ID.String())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save loan %s: %w", l.ID, store.ErrNotFound)
	}
	return nil
}

func (t *tx) count(ctx context.Context, what, query string, args ...any) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, query, args...)
	return n, classify(err, what)
}

func (t *tx) CountActiveLoansByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return t.count(ctx, "count loans of user",
		`SELECT count(*) FROM loans WHERE user_id = $1 AND NOT is_returned`, userID)
}

func (t *tx) CountActiveLoansByBook(ctx context.Context, bookID uuid.UUID) (int, error) {
	return t.count(ctx, "count loans of book",
		`SELECT count(*) FROM loans WHERE book_id = $1 AND NOT is_returned`, bookID)
}

func (t *tx) HasLoan(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM loans WHERE user_id = $1 AND book_id = $2)`, userID, bookID)
	return exists, classify(err, "check loan history")
}

func (t *tx) LockReview(ctx context.Context, id uuid.UUID) (domain.Review, error) {
	var r domain.Review
	err := t.tx.GetContext(ctx, &r, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return domain.Review{}, classify(err, "lock review "+id.String())
	}
	t.lockedReviews[id] = true
	return r, nil
}

func (t *tx) FindReview(ctx context.Context, userID, bookID uuid.UUID) (domain.Review, error) {
	var r domain.Review
	err := t.tx.GetContext(ctx, &r,
		`SELECT `+reviewColumns+` FROM reviews WHERE user_id = $1 AND book_id = $2`, userID, bookID)
	return r, classify(err, "find review")
}

func (t *tx) InsertReview(ctx context.Context, r domain.Review) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reviews (id, user_id, book_id, rating, comment, helpful_votes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.UserID, r.BookID, r.Rating, r.Comment, r.HelpfulVotes, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return classify(err, "insert review "+r.ID.String())
	}
	t.lockedReviews[r.ID] = true
	return nil
}

func (t *tx) SaveReview(ctx context.Context, r domain.Review) error {
	if !t.lockedReviews[r.ID] {
		return fmt.Errorf("save review %s: %w", r.ID, store.ErrNotLocked)
	}
	_, err := t.tx.ExecContext(ctx,
		`UPDATE reviews SET rating = $2, comment = $3, helpful_votes = $4, updated_at = $5 WHERE id = $1`,
		r.ID, r.Rating, r.Comment, r.HelpfulVotes, r.UpdatedAt)
	return classify(err, "save review "+r.ID.String())
}

func (t *tx) DeleteReview(ctx context.Context, id uuid.UUID) error {
	if !t.lockedReviews[id] {
		return fmt.Errorf("delete review %s: %w", id, store.ErrNotLocked)
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	return classify(err, "delete review "+id.String())
}

func (t *tx) ListRatings(ctx context.Context, bookID uuid.UUID) ([]int, error) {
	ratings := make([]int, 0)
	err := t.tx.SelectContext(ctx, &ratings, `SELECT rating FROM reviews WHERE book_id = $1`, bookID)
	return ratings, classify(err, "list ratings")
}

// AppendAudit stages e; RunInTx inserts staged entries just before commit.
func (t *tx) AppendAudit(_ context.Context, e domain.AuditEntry) error {
	t.audit = append(t.audit, e)
	return nil
}

func (t *tx) flushAudit(ctx context.Context) error {
	if len(t.audit) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, auditAppendKey); err != nil {
		return classify(err, "lock audit trail")
	}
	for _, e := range t.audit {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO audit_entries (id, actor_id, action_type, target_type, target_id,
			                           description, before_state, after_state, digest, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.ActorID, e.ActionType, e.TargetType, e.TargetID,
			e.Description, jsonParam(e.Before), jsonParam(e.After), e.Digest, e.Timestamp)
		if err != nil {
			return classify(err, "append audit "+e.ActionType)
		}
	}
	return nil
}
