// Package store defines the transactional persistence ports used by the
// lending engine. Implementations live in store/memory and store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"libracirc/internal/domain"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("duplicate record")
	ErrContention = errors.New("lock wait timeout")
	ErrNotLocked  = errors.New("row not locked in this transaction")
)

// Tx is the unit of work handed to RunInTx. Every Lock* call takes an
// exclusive row lock held until the transaction ends; locks are re-entrant
// within one Tx. Acquire in the order borrower, loan, book, review.
type Tx interface {
	LockBorrower(ctx context.Context, userID uuid.UUID) error

	LockBook(ctx context.Context, id uuid.UUID) (domain.Book, error)
	InsertBook(ctx context.Context, book domain.Book) (domain.Book, error)
	// SaveBook writes a previously locked book through the consistency
	// inspector and returns the stored row.
	SaveBook(ctx context.Context, book domain.Book) (domain.Book, error)

	LockLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error)
	InsertLoan(ctx context.Context, loan domain.Loan) error
	SaveLoan(ctx context.Context, loan domain.Loan) error
	CountActiveLoansByUser(ctx context.Context, userID uuid.UUID) (int, error)
	CountActiveLoansByBook(ctx context.Context, bookID uuid.UUID) (int, error)
	HasLoan(ctx context.Context, userID, bookID uuid.UUID) (bool, error)

	LockReview(ctx context.Context, id uuid.UUID) (domain.Review, error)
	FindReview(ctx context.Context, userID, bookID uuid.UUID) (domain.Review, error)
	InsertReview(ctx context.Context, review domain.Review) error
	SaveReview(ctx context.Context, review domain.Review) error
	DeleteReview(ctx context.Context, id uuid.UUID) error
	ListRatings(ctx context.Context, bookID uuid.UUID) ([]int, error)

	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
}

// LoanFilter narrows ListLoans. Zero values are ignored.
type LoanFilter struct {
	UserID      uuid.UUID
	BookID      uuid.UUID
	ActiveOnly  bool
	OverdueAsOf time.Time
	Limit       int
}

// AuditFilter narrows ListAudit. Zero values are ignored.
type AuditFilter struct {
	ActorID    uuid.UUID
	TargetType string
	TargetID   uuid.UUID
	ActionType string
	Limit      int
}

// Reader serves unlocked, possibly stale reads.
type Reader interface {
	GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error)
	GetLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error)
	GetReview(ctx context.Context, id uuid.UUID) (domain.Review, error)
	ListLoans(ctx context.Context, filter LoanFilter) ([]domain.Loan, error)
	ListReviews(ctx context.Context, bookID uuid.UUID) ([]domain.Review, error)
	ListAudit(ctx context.Context, filter AuditFilter) ([]domain.AuditEntry, error)
	// StreamAudit returns up to limit entries with Seq > afterSeq in Seq order.
	StreamAudit(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEntry, error)
}

// Store runs fn inside one transaction. fn's error rolls everything back.
type Store interface {
	Reader
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// CursorStore persists outbox relay positions.
type CursorStore interface {
	AuditCursor(ctx context.Context, name string) (int64, error)
	SaveAuditCursor(ctx context.Context, name string, seq int64) error
}

// Inspector sees every book write before it is stored. It may correct
// after in place and returns audit entries to append in the same tx.
// before is nil for inserts.
type Inspector interface {
	Inspect(ctx context.Context, before *domain.Book, after *domain.Book) []domain.AuditEntry
}

// NopInspector accepts every write unchanged.
type NopInspector struct{}

func (NopInspector) Inspect(context.Context, *domain.Book, *domain.Book) []domain.AuditEntry {
	return nil
}
