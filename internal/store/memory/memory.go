// Package memory is an in-process Store with the same locking contract as
// the Postgres store: per-row exclusive locks with a wait timeout, and
// staged writes that become visible only on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/domain"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/store"
)

const defaultLockTimeout = 5 * time.Second

type Store struct {
	mu      sync.RWMutex
	books   map[uuid.UUID]domain.Book
	loans   map[uuid.UUID]domain.Loan
	reviews map[uuid.UUID]domain.Review
	audit   []domain.AuditEntry
	cursors map[string]int64
	seq     int64

	locks       *lockTable
	lockTimeout time.Duration
	inspector   store.Inspector
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) Option { return func(s *Store) { s.lockTimeout = d } }

func WithInspector(i store.Inspector) Option { return func(s *Store) { s.inspector = i } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{
		books:       make(map[uuid.UUID]domain.Book),
		loans:       make(map[uuid.UUID]domain.Loan),
		reviews:     make(map[uuid.UUID]domain.Review),
		cursors:     make(map[string]int64),
		locks:       newLockTable(),
		lockTimeout: defaultLockTimeout,
		inspector:   store.NopInspector{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn with a fresh transaction. Staged writes are applied
// atomically when fn returns nil; locks are released either way.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	start := time.Now()
	t := newTx(s)
	defer func() {
		t.releaseAll()
		s.metrics.ObserveTx("memory", start, err)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	if err = fn(ctx, t); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range t.books {
		s.books[id] = b
	}
	for id, l := range t.loans {
		s.loans[id] = l
	}
	for id, r := range t.reviews {
		if r == nil {
			delete(s.reviews, id)
			continue
		}
		s.reviews[id] = *r
	}
	for _, e := range t.audit {
		s.seq++
		e.Seq = s.seq
		s.audit = append(s.audit, e)
	}
}

func (s *Store) GetBook(_ context.Context, id uuid.UUID) (domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return domain.Book{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) GetLoan(_ context.Context, id uuid.UUID) (domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return domain.Loan{}, store.ErrNotFound
	}
	return l, nil
}

func (s *Store) GetReview(_ context.Context, id uuid.UUID) (domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return domain.Review{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListLoans(_ context.Context, f store.LoanFilter) ([]domain.Loan, error) {
	s.mu.RLock()
	out := make([]domain.Loan, 0)
	for _, l := range s.loans {
		if matchLoan(l, f) {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckoutDate.Equal(out[j].CheckoutDate) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CheckoutDate.Before(out[j].CheckoutDate)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchLoan(l domain.Loan, f store.LoanFilter) bool {
	if f.UserID != uuid.Nil && l.UserID != f.UserID {
		return false
	}
	if f.BookID != uuid.Nil && l.BookID != f.BookID {
		return false
	}
	if f.ActiveOnly && l.IsReturned {
		return false
	}
	if !f.OverdueAsOf.IsZero() && !l.Overdue(f.OverdueAsOf) {
		return false
	}
	return true
}

func (s *Store) ListReviews(_ context.Context, bookID uuid.UUID) ([]domain.Review, error) {
	s.mu.RLock()
	out := make([]domain.Review, 0)
	for _, r := range s.reviews {
		if r.BookID == bookID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAudit returns matching entries, newest first.
func (s *Store) ListAudit(_ context.Context, f store.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if f.ActorID != uuid.Nil && e.ActorID != f.ActorID {
			continue
		}
		if f.TargetType != "" && e.TargetType != f.TargetType {
			continue
		}
		if f.TargetID != uuid.Nil && e.TargetID != f.TargetID {
			continue
		}
		if f.ActionType != "" && e.ActionType != f.ActionType {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) StreamAudit(_ context.Context, afterSeq int64, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// seq starts at 1 and has no gaps, so it doubles as an index.
	start := int(afterSeq)
	if start < 0 {
		start = 0
	}
	if start >= len(s.audit) {
		return nil, nil
	}
	end := len(s.audit)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]domain.AuditEntry, end-start)
	copy(out, s.audit[start:end])
	return out, nil
}

func (s *Store) AuditCursor(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[name], nil
}

func (s *Store) SaveAuditCursor(_ context.Context, name string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.cursors[name] {
		s.cursors[name] = seq
	}
	return nil
}
