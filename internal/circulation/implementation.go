// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
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
	"libracirc/internal/inventory"
	"libracirc/internal/membership"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/platform/requestcontext"
	"libracirc/internal/store"
)

// service implements the Service interface.
type service struct {
	store     store.Store
	ledger    inventory.Ledger
	directory membership.Directory
	policy    Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*service)

func WithPolicy(p Policy) Option { return func(s *service) { s.policy = p } }

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// NewService creates a new circulation service instance.
func NewService(st store.Store, directory membership.Directory, opts ...Option) Service {
	s := &service{
		store:     st,
		directory: directory,
		policy:    DefaultPolicy(),
		logger:    logger.Discard(),
		tracer:    otel.Tracer("libracirc/circulation"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.Location == nil {
		s.policy.Location = time.UTC
	}
	return s
}

func (s *service) today() time.Time {
	return domain.DateOf(s.now(), s.policy.Location)
}

// period resolves the requested loan length in days.
func (s *service) period(req BorrowRequest, today time.Time) (int, error) {
	days := s.policy.DefaultPeriodDays
	switch {
	case req.DueDate != nil:
		days = domain.DaysBetween(today, domain.CalendarDate(*req.DueDate))
	case req.LoanPeriodDays != nil:
		days = *req.LoanPeriodDays
	}
	if days < s.policy.MinLoanPeriodDays || days > s.policy.MaxLoanPeriodDays {
		return 0, apperr.Withf(apperr.ErrInvalidPeriod, "loan period must be %d-%d days, got %d",
			s.policy.MinLoanPeriodDays, s.policy.MaxLoanPeriodDays, days)
	}
	return days, nil
}

func (s *service) checkBorrower(ctx context.Context, userID uuid.UUID) error {
	member, err := s.directory.GetMember(ctx, userID)
	if errors.Is(err, membership.ErrMemberNotFound) {
		return apperr.Withf(apperr.ErrUserInvalid, "user %s does not exist", userID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.KindStore, apperr.CodeStore, "membership lookup failed")
	}
	if !member.Active() {
		return apperr.Withf(apperr.ErrUserInvalid, "user %s is %s", userID, member.Status)
	}
	return nil
}

// actFor checks that the caller in ctx may borrow for userID. Callers
// without an actor in ctx act as the borrower.
func (s *service) actFor(ctx context.Context, userID uuid.UUID) (context.Context, error) {
	actor := requestcontext.ActorFrom(ctx)
	if actor.ID == uuid.Nil {
		return requestcontext.WithActor(ctx, requestcontext.Actor{ID: userID}), nil
	}
	ok, err := membership.MayActFor(ctx, s.directory, actor.ID, userID)
	if err != nil {
		return ctx, apperr.Wrap(err, apperr.KindStore, apperr.CodeStore, "membership lookup failed")
	}
	if !ok {
		return ctx, apperr.Withf(apperr.ErrUnauthorized, "actor %s may not borrow for user %s", actor.ID, userID)
	}
	return ctx, nil
}

// Borrow lends one copy. The borrower lock serialises the active-loan count
// for a user; the book lock serialises the availability check.
func (s *service) Borrow(ctx context.Context, req BorrowRequest) (res *BorrowResult, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID.String()),
			attribute.String("book.id", req.BookID.String()),
		),
	)
	defer span.End()
	defer func() {
		s.metrics.ObserveOutcome("borrow", err)
		if err != nil {
			span.RecordError(err)
			s.logFailure(ctx, "borrow", req.BookID, err)
		}
	}()

	ctx, err = s.actFor(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkBorrower(ctx, req.UserID); err != nil {
		return nil, err
	}
	today := s.today()
	days, err := s.period(req, today)
	if err != nil {
		return nil, err
	}

	loan := domain.Loan{
		ID:           uuid.New(),
		UserID:       req.UserID,
		BookID:       req.BookID,
		CheckoutDate: s.now().UTC().Truncate(time.Microsecond),
		DueDate:      today.AddDate(0, 0, days),
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockBorrower(ctx, req.UserID); err != nil {
			return store.Translate(err, nil)
		}
		active, err := tx.CountActiveLoansByUser(ctx, req.UserID)
		if err != nil {
			return store.Translate(err, nil)
		}
		if active >= s.policy.MaxActiveLoans {
			return apperr.Withf(apperr.ErrLimitReached, "user %s already has %d active loans", req.UserID, active)
		}

		before, err := tx.LockBook(ctx, req.BookID)
		if err != nil {
			return store.Translate(err, apperr.ErrBookNotFound)
		}
		after, err := s.ledger.Reserve(ctx, tx, req.BookID)
		if err != nil {
			return err
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			return store.Translate(err, nil)
		}
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType: domain.ActionBookBorrowed,
			TargetType: domain.TargetLoan,
			TargetID:   loan.ID,
			Description: fmt.Sprintf("user %s borrowed book %s until %s",
				req.UserID, req.BookID, loan.DueDate.Format(time.DateOnly)),
			Before: before.Snapshot(),
			After:  after.Snapshot(),
		}))
	})
	if err != nil {
		return nil, store.Translate(err, nil)
	}

	s.logger.InfoContext(ctx, "book borrowed",
		"loan_id", loan.ID, "user_id", req.UserID, "book_id", req.BookID,
		"due_date", loan.DueDate.Format(time.DateOnly))
	return &BorrowResult{LoanID: loan.ID, DueDate: loan.DueDate}, nil
}

// Return closes a loan and releases its copy. A second call reports
// AlreadyReturned and changes nothing.
func (s *service) Return(ctx context.Context, loanID, actorID uuid.UUID) (res *ReturnResult, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.String("loan.id", loanID.String())),
	)
	defer span.End()

	var bookID uuid.UUID
	defer func() {
		s.metrics.ObserveOutcome("return", err)
		if err != nil {
			span.RecordError(err)
			s.logFailure(ctx, "return", bookID, err)
		}
	}()

	// Authorisation needs the borrower, which never changes, so an unlocked
	// read is enough here.
	existing, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, store.Translate(err, apperr.ErrNotFound)
	}
	bookID = existing.BookID
	if actorID != existing.UserID {
		ok, err := membership.IsPrivileged(ctx, s.directory, actorID)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindStore, apperr.CodeStore, "membership lookup failed")
		}
		if !ok {
			return nil, apperr.Withf(apperr.ErrUnauthorized, "actor %s may not return loan %s", actorID, loanID)
		}
	}
	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: actorID})

	today := s.today()
	var result ReturnResult
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return store.Translate(err, apperr.ErrNotFound)
		}
		if loan.IsReturned {
			return apperr.Withf(apperr.ErrAlreadyReturned, "loan %s is already returned", loanID)
		}

		daysLate, fee := LateFee(loan.DueDate, today, s.policy.FeePerDay)
		returnedAt := s.now().UTC().Truncate(time.Microsecond)
		loan.IsReturned = true
		loan.ReturnDate = &returnedAt
		loan.IsLate = daysLate > 0
		loan.LateFee = fee
		if err := tx.SaveLoan(ctx, loan); err != nil {
			return store.Translate(err, nil)
		}

		before, err := tx.LockBook(ctx, loan.BookID)
		if err != nil {
			return store.Translate(err, apperr.ErrBookNotFound)
		}
		after, err := s.ledger.Release(ctx, tx, loan.BookID)
		if err != nil {
			return err
		}

		result = ReturnResult{LoanID: loanID, LateFee: fee, IsLate: loan.IsLate, DaysLate: daysLate}
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType: domain.ActionBookReturned,
			TargetType: domain.TargetLoan,
			TargetID:   loanID,
			Description: fmt.Sprintf("loan %s returned, %d day(s) late, fee %s",
				loanID, daysLate, fee),
			Before: before.Snapshot(),
			After:  after.Snapshot(),
		}))
	})
	if err != nil {
		return nil, store.Translate(err, nil)
	}

	s.metrics.AddLateFee(int64(result.LateFee))
	s.logger.InfoContext(ctx, "book returned",
		"loan_id", loanID, "book_id", bookID, "late_fee", result.LateFee.String(), "is_late", result.IsLate)
	return &result, nil
}

func (s *service) GetLoan(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return nil, store.Translate(err, apperr.ErrNotFound)
	}
	return &loan, nil
}

func (s *service) ListLoans(ctx context.Context, filter store.LoanFilter) ([]domain.Loan, error) {
	loans, err := s.store.ListLoans(ctx, filter)
	if err != nil {
		return nil, store.Translate(err, nil)
	}
	return loans, nil
}

// ListOverdue derives overdue loans as of today in the library's timezone.
func (s *service) ListOverdue(ctx context.Context, limit int) ([]domain.Loan, error) {
	return s.ListLoans(ctx, store.LoanFilter{ActiveOnly: true, OverdueAsOf: s.today(), Limit: limit})
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
