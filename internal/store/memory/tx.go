package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"libracirc/internal/domain"
	"libracirc/internal/store"
)

type tx struct {
	s    *Store
	held []string
	has  map[string]bool

	// row images as of lock time, used as "before" for the inspector
	lockedBooks map[uuid.UUID]domain.Book

	books   map[uuid.UUID]domain.Book
	loans   map[uuid.UUID]domain.Loan
	reviews map[uuid.UUID]*domain.Review
	audit   []domain.AuditEntry
}

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		has:         make(map[string]bool),
		lockedBooks: make(map[uuid.UUID]domain.Book),
		books:       make(map[uuid.UUID]domain.Book),
		loans:       make(map[uuid.UUID]domain.Loan),
		reviews:     make(map[uuid.UUID]*domain.Review),
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.has[key] {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return err
	}
	t.has[key] = true
	t.held = append(t.held, key)
	return nil
}

func (t *tx) releaseAll() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.locks.release(t.held[i])
	}
	t.held = nil
	t.has = map[string]bool{}
}

func bookKey(id uuid.UUID) string     { return "book:" + id.String() }
func loanKey(id uuid.UUID) string     { return "loan:" + id.String() }
func reviewKey(id uuid.UUID) string   { return "review:" + id.String() }
func borrowerKey(id uuid.UUID) string { return "borrower:" + id.String() }

func (t *tx) LockBorrower(ctx context.Context, userID uuid.UUID) error {
	return t.lock(ctx, borrowerKey(userID))
}

func (t *tx) book(id uuid.UUID) (domain.Book, bool) {
	if b, ok := t.books[id]; ok {
		return b, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.books[id]
	return b, ok
}

func (t *tx) LockBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	if err := t.lock(ctx, bookKey(id)); err != nil {
		return domain.Book{}, err
	}
	b, ok := t.book(id)
	if !ok {
		return domain.Book{}, fmt.Errorf("book %s: %w", id, store.ErrNotFound)
	}
	if _, seen := t.lockedBooks[id]; !seen {
		t.lockedBooks[id] = b
	}
	return b, nil
}

func (t *tx) InsertBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	if err := t.lock(ctx, bookKey(b.ID)); err != nil {
		return domain.Book{}, err
	}
	if _, exists := t.book(b.ID); exists {
		return domain.Book{}, fmt.Errorf("book %s: %w", b.ID, store.ErrDuplicate)
	}
	now := t.s.now().UTC()
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = now, now

	t.audit = append(t.audit, t.s.inspector.Inspect(ctx, nil, &b)...)
	t.books[b.ID] = b
	t.lockedBooks[b.ID] = b
	return b, nil
}

func (t *tx) SaveBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	prev, ok := t.lockedBooks[b.ID]
	if !ok {
		return domain.Book{}, fmt.Errorf("save book %s: %w", b.ID, store.ErrNotLocked)
	}
	current, _ := t.book(b.ID)
	b.Version = current.Version + 1
	b.CreatedAt = current.CreatedAt
	b.UpdatedAt = t.s.now().UTC()

	t.audit = append(t.audit, t.s.inspector.Inspect(ctx, &prev, &b)...)
	t.books[b.ID] = b
	t.lockedBooks[b.ID] = b
	return b, nil
}

func (t *tx) loan(id uuid.UUID) (domain.Loan, bool) {
	if l, ok := t.loans[id]; ok {
		return l, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	l, ok := t.s.loans[id]
	return l, ok
}

// eachLoan visits the committed loans overlaid with this tx's staged ones.
func (t *tx) eachLoan(fn func(domain.Loan)) {
	t.s.mu.RLock()
	for id, l := range t.s.loans {
		if _, staged := t.loans[id]; !staged {
			fn(l)
		}
	}
	t.s.mu.RUnlock()
	for _, l := range t.loans {
		fn(l)
	}
}

func (t *tx) LockLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error) {
	if err := t.lock(ctx, loanKey(id)); err != nil {
		return domain.Loan{}, err
	}
	l, ok := t.loan(id)
	if !ok {
		return domain.Loan{}, fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	return l, nil
}

func (t *tx) InsertLoan(ctx context.Context, l domain.Loan) error {
	if err := t.lock(ctx, loanKey(l.ID)); err != nil {
		return err
	}
	if _, exists := t.loan(l.ID); exists {
		return fmt.Errorf("loan %s: %w", l.ID, store.ErrDuplicate)
	}
	l.Version = 1
	t.loans[l.ID] = l
	return nil
}

func (t *tx) SaveLoan(_ context.Context, l domain.Loan) error {
	if !t.has[loanKey(l.ID)] {
		return fmt.Errorf("save loan %s: %w", l.ID, store.ErrNotLocked)
	}
	current, ok := t.loan(l.ID)
	if !ok {
		return fmt.Errorf("loan %s: %w", l.ID, store.ErrNotFound)
	}
	l.Version = current.Version + 1
	t.loans[l.ID] = l
	return nil
}

func (t *tx) CountActiveLoansByUser(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	t.eachLoan(func(l domain.Loan) {
		if l.UserID == userID && !l.IsReturned {
			n++
		}
	})
	return n, nil
}

func (t *tx) CountActiveLoansByBook(_ context.Context, bookID uuid.UUID) (int, error) {
	n := 0
	t.eachLoan(func(l domain.Loan) {
		if l.BookID == bookID && !l.IsReturned {
			n++
		}
	})
	return n, nil
}

func (t *tx) HasLoan(_ context.Context, userID, bookID uuid.UUID) (bool, error) {
	found := false
	t.eachLoan(func(l domain.Loan) {
		if l.UserID == userID && l.BookID == bookID {
			found = true
		}
	})
	return found, nil
}

// eachReview visits committed reviews overlaid with staged inserts, updates and deletes.
func (t *tx) eachReview(fn func(domain.Review)) {
	t.s.mu.RLock()
	for id, r := range t.s.reviews {
		if _, staged := t.reviews[id]; !staged {
			fn(r)
		}
	}
	t.s.mu.RUnlock()
	for _, r := range t.reviews {
		if r != nil {
			fn(*r)
		}
	}
}

func (t *tx) review(id uuid.UUID) (domain.Review, bool) {
	if r, staged := t.reviews[id]; staged {
		if r == nil {
			return domain.Review{}, false
		}
		return *r, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.reviews[id]
	return r, ok
}

func (t *tx) LockReview(ctx context.Context, id uuid.UUID) (domain.Review, error) {
	if err := t.lock(ctx, reviewKey(id)); err != nil {
		return domain.Review{}, err
	}
	r, ok := t.review(id)
	if !ok {
		return domain.Review{}, fmt.Errorf("review %s: %w", id, store.ErrNotFound)
	}
	return r, nil
}

func (t *tx) FindReview(_ context.Context, userID, bookID uuid.UUID) (domain.Review, error) {
	var (
		found domain.Review
		ok    bool
	)
	t.eachReview(func(r domain.Review) {
		if r.UserID == userID && r.BookID == bookID {
			found, ok = r, true
		}
	})
	if !ok {
		return domain.Review{}, store.ErrNotFound
	}
	return found, nil
}

func (t *tx) InsertReview(ctx context.Context, r domain.Review) error {
	if _, err := t.FindReview(ctx, r.UserID, r.BookID); err == nil {
		return fmt.Errorf("review by %s for %s: %w", r.UserID, r.BookID, store.ErrDuplicate)
	}
	if err := t.lock(ctx, reviewKey(r.ID)); err != nil {
		return err
	}
	if _, exists := t.review(r.ID); exists {
		return fmt.Errorf("review %s: %w", r.ID, store.ErrDuplicate)
	}
	t.reviews[r.ID] = &r
	return nil
}

func (t *tx) SaveReview(_ context.Context, r domain.Review) error {
	if !t.has[reviewKey(r.ID)] {
		return fmt.Errorf("save review %s: %w", r.ID, store.ErrNotLocked)
	}
	if _, ok := t.review(r.ID); !ok {
		return fmt.Errorf("review %s: %w", r.ID, store.ErrNotFound)
	}
	t.reviews[r.ID] = &r
	return nil
}

func (t *tx) DeleteReview(_ context.Context, id uuid.UUID) error {
	if !t.has[reviewKey(id)] {
		return fmt.Errorf("delete review %s: %w", id, store.ErrNotLocked)
	}
	if _, ok := t.review(id); !ok {
		return fmt.Errorf("review %s: %w", id, store.ErrNotFound)
	}
	t.reviews[id] = nil
	return nil
}

func (t *tx) ListRatings(_ context.Context, bookID uuid.UUID) ([]int, error) {
	var ratings []int
	t.eachReview(func(r domain.Review) {
		if r.BookID == bookID {
			ratings = append(ratings, r.Rating)
		}
	})
	return ratings, nil
}

func (t *tx) AppendAudit(_ context.Context, e domain.AuditEntry) error {
	t.audit = append(t.audit, e)
	return nil
}
