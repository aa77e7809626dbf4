// internal/inventory/implementation.go
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libracirc/internal/apperr"
	"libracirc/internal/audit"
	"libracirc/internal/domain"
	"libracirc/internal/guard"
	"libracirc/internal/membership"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/platform/requestcontext"
	"libracirc/internal/store"
)

// service implements the Service interface.
type service struct {
	store     store.Store
	ledger    Ledger
	directory membership.Directory
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*service)

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// NewService creates a new inventory service instance.
func NewService(st store.Store, directory membership.Directory, opts ...Option) Service {
	s := &service{
		store:     st,
		directory: directory,
		logger:    logger.Discard(),
		tracer:    otel.Tracer("libracirc/inventory"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) requireStaff(ctx context.Context, actorID uuid.UUID) error {
	ok, err := membership.IsPrivileged(ctx, s.directory, actorID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindStore, apperr.CodeStore, "membership lookup failed")
	}
	if !ok {
		return apperr.Withf(apperr.ErrUnauthorized, "actor %s is not staff", actorID)
	}
	return nil
}

// AddBook stocks a new title.
func (s *service) AddBook(ctx context.Context, actorID uuid.UUID, req NewBook) (book *domain.Book, err error) {
	ctx, span := s.tracer.Start(ctx, "inventory.add_book")
	defer span.End()
	defer func() { s.metrics.ObserveOutcome("add_book", err) }()

	if err := s.requireStaff(ctx, actorID); err != nil {
		return nil, err
	}
	if req.TotalCopies < 1 {
		return nil, apperr.Withf(apperr.ErrInvalidInput, "total copies must be at least 1, got %d", req.TotalCopies)
	}
	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: actorID})

	var saved domain.Book
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		saved, err = tx.InsertBook(ctx, domain.Book{
			ID:              id,
			ISBN:            req.ISBN,
			Title:           req.Title,
			Author:          req.Author,
			TotalCopies:     req.TotalCopies,
			AvailableCopies: req.TotalCopies,
			IsActive:        true,
		})
		if err != nil {
			return store.Translate(err, nil)
		}
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType:  domain.ActionBookAdded,
			TargetType:  domain.TargetBook,
			TargetID:    id,
			Description: fmt.Sprintf("added %q with %d copies", req.Title, req.TotalCopies),
			After:       saved.Snapshot(),
		}))
	})
	if err != nil {
		return nil, store.Translate(err, nil)
	}
	s.logger.InfoContext(ctx, "book added", "book_id", id, "total_copies", req.TotalCopies)
	return &saved, nil
}

// GetBook reads without locking; the result may be stale.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, store.Translate(err, apperr.ErrBookNotFound)
	}
	return &book, nil
}

// ResizeInventory sets the owned copy count, preserving copies on loan.
func (s *service) ResizeInventory(ctx context.Context, actorID, bookID uuid.UUID, newTotal int) (book *domain.Book, err error) {
	ctx, span := s.tracer.Start(ctx, "inventory.resize",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.Int("new.total", newTotal),
		),
	)
	defer span.End()
	defer func() { s.metrics.ObserveOutcome("resize", err) }()

	if err := s.requireStaff(ctx, actorID); err != nil {
		return nil, err
	}
	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: actorID})

	var after domain.Book
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		before, saved, err := s.ledger.Resize(ctx, tx, bookID, newTotal)
		if err != nil {
			return err
		}
		after = saved
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType: domain.ActionInventoryResized,
			TargetType: domain.TargetBook,
			TargetID:   bookID,
			Description: fmt.Sprintf("total copies %d -> %d, available %d -> %d",
				before.TotalCopies, saved.TotalCopies, before.AvailableCopies, saved.AvailableCopies),
			Before: before.Snapshot(),
			After:  saved.Snapshot(),
		}))
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "resize", bookID, err)
		return nil, store.Translate(err, nil)
	}
	return &after, nil
}

// RetireBook deactivates a book with no active loans.
func (s *service) RetireBook(ctx context.Context, actorID, bookID uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "inventory.retire",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()
	defer func() { s.metrics.ObserveOutcome("retire", err) }()

	if err := s.requireStaff(ctx, actorID); err != nil {
		return err
	}
	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: actorID})

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		before, after, err := s.ledger.Retire(ctx, tx, bookID)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType:  domain.ActionBookRetired,
			TargetType:  domain.TargetBook,
			TargetID:    bookID,
			Description: fmt.Sprintf("retired %q", before.Title),
			Before:      before.Snapshot(),
			After:       after.Snapshot(),
		}))
	})
	if err != nil {
		span.RecordError(err)
		s.logFailure(ctx, "retire", bookID, err)
		return store.Translate(err, nil)
	}
	return nil
}

func (s *service) CheckConsistency(ctx context.Context, bookID uuid.UUID) (*guard.Report, error) {
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		return nil, store.Translate(err, apperr.ErrBookNotFound)
	}
	report, err := guard.Verify(ctx, s.store, bookID)
	if err != nil {
		return nil, store.Translate(err, nil)
	}
	return &report, nil
}

func (s *service) logFailure(ctx context.Context, op string, bookID uuid.UUID, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindContention:
		s.logger.WarnContext(ctx, op+" contended", "book_id", bookID, "error", err)
	case apperr.KindStore, apperr.KindUnknown:
		s.logger.ErrorContext(ctx, op+" failed", "book_id", bookID, "error", err)
	default:
		s.logger.InfoContext(ctx, op+" rejected", "book_id", bookID, "code", apperr.CodeOf(err))
	}
}
