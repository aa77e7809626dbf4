package review

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
	"libracirc/internal/membership"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/platform/requestcontext"
	"libracirc/internal/rating"
	"libracirc/internal/store"
)

type service struct {
	store      store.Store
	aggregator rating.Aggregator
	directory  membership.Directory
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*service)

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

func NewService(st store.Store, directory membership.Directory, opts ...Option) Service {
	s := &service{
		store:     st,
		directory: directory,
		logger:    logger.Discard(),
		tracer:    otel.Tracer("libracirc/review"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type reviewSnapshot struct {
	Rating        int     `json:"rating"`
	Comment       string  `json:"comment"`
	AverageRating float64 `json:"average_rating"`
	TotalReviews  int     `json:"total_reviews"`
}

func (s *service) Submit(ctx context.Context, req SubmitRequest) (out *domain.Review, err error) {
	ctx, span := s.tracer.Start(ctx, "review.submit",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID.String()),
			attribute.String("book.id", req.BookID.String()),
		),
	)
	defer span.End()
	defer func() { s.finish(ctx, span, "review_submit", req.BookID, err) }()

	if actor := requestcontext.ActorFrom(ctx); actor.ID == uuid.Nil {
		ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: req.UserID})
	} else {
		ok, err := membership.MayActFor(ctx, s.directory, actor.ID, req.UserID)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindStore, apperr.CodeStore, "membership lookup failed")
		}
		if !ok {
			return nil, apperr.Withf(apperr.ErrUnauthorized, "actor %s may not review for user %s", actor.ID, req.UserID)
		}
	}
	if !domain.ValidRating(req.Rating) {
		return nil, apperr.Withf(apperr.ErrInvalidRating, "rating must be 1-5, got %d", req.Rating)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	rv := domain.Review{
		ID:        uuid.New(),
		UserID:    req.UserID,
		BookID:    req.BookID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		book, err := tx.LockBook(ctx, req.BookID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Withf(apperr.ErrBookInvalid, "book %s does not exist", req.BookID)
		}
		if err != nil {
			return store.Translate(err, nil)
		}
		if !book.IsActive {
			return apperr.Withf(apperr.ErrBookInvalid, "book %s is retired", req.BookID)
		}

		borrowed, err := tx.HasLoan(ctx, req.UserID, req.BookID)
		if err != nil {
			return store.Translate(err, nil)
		}
		if !borrowed {
			return apperr.Withf(apperr.ErrMustBorrowFirst, "user %s never borrowed book %s", req.UserID, req.BookID)
		}

		_, err = tx.FindReview(ctx, req.UserID, req.BookID)
		switch {
		case err == nil:
			return apperr.Withf(apperr.ErrAlreadyReviewed, "user %s already reviewed book %s", req.UserID, req.BookID)
		case !errors.Is(err, store.ErrNotFound):
			return store.Translate(err, nil)
		}

		if err := tx.InsertReview(ctx, rv); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Withf(apperr.ErrAlreadyReviewed, "user %s already reviewed book %s", req.UserID, req.BookID)
			}
			return store.Translate(err, nil)
		}
		after, err := s.aggregator.Recompute(ctx, tx, req.BookID)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType:  domain.ActionReviewSubmitted,
			TargetType:  domain.TargetReview,
			TargetID:    rv.ID,
			Description: fmt.Sprintf("%d-star review of book %s", rv.Rating, rv.BookID),
			Before:      book.Snapshot(),
			After: reviewSnapshot{
				Rating: rv.Rating, Comment: rv.Comment,
				AverageRating: after.AverageRating, TotalReviews: after.TotalReviews,
			},
		}))
	})
	if err != nil {
		return nil, store.Translate(err, nil)
	}
	return &rv, nil
}

// authorize allows the review's author and active staff.
func (s *service) authorize(ctx context.Context, rv domain.Review, actorID uuid.UUID) error {
	if actorID != uuid.Nil && actorID == rv.UserID {
		return nil
	}
	ok, err := membership.IsPrivileged(ctx, s.directory, actorID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindStore, apperr.CodeStore, "membership lookup failed")
	}
	if !ok {
		return apperr.Withf(apperr.ErrUnauthorized, "actor %s may not modify review %s", actorID, rv.ID)
	}
	return nil
}

func (s *service) Update(ctx context.Context, reviewID, actorID uuid.UUID, req UpdateRequest) (out *domain.Review, err error) {
	ctx, span := s.tracer.Start(ctx, "review.update",
		trace.WithAttributes(attribute.String("review.id", reviewID.String())),
	)
	defer span.End()

	var bookID uuid.UUID
	defer func() { s.finish(ctx, span, "review_update", bookID, err) }()

	existing, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, store.Translate(err, apperr.ErrNotFound)
	}
	bookID = existing.BookID
	if err := s.authorize(ctx, existing, actorID); err != nil {
		return nil, err
	}
	if req.Rating != nil && !domain.ValidRating(*req.Rating) {
		return nil, apperr.Withf(apperr.ErrInvalidRating, "rating must be 1-5, got %d", *req.Rating)
	}
	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: actorID})

	var updated domain.Review
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockBook(ctx, existing.BookID); err != nil {
			return store.Translate(err, apperr.ErrBookNotFound)
		}
		rv, err := tx.LockReview(ctx, reviewID)
		if err != nil {
			return store.Translate(err, apperr.ErrNotFound)
		}
		prev := rv
		if req.Rating != nil {
			rv.Rating = *req.Rating
		}
		if req.Comment != nil {
			rv.Comment = *req.Comment
		}
		rv.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		if err := tx.SaveReview(ctx, rv); err != nil {
			return store.Translate(err, nil)
		}
		after, err := s.aggregator.Recompute(ctx, tx, rv.BookID)
		if err != nil {
			return err
		}
		updated = rv
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType:  domain.ActionReviewUpdated,
			TargetType:  domain.TargetReview,
			TargetID:    rv.ID,
			Description: fmt.Sprintf("review of book %s updated", rv.BookID),
			Before:      reviewSnapshot{Rating: prev.Rating, Comment: prev.Comment},
			After: reviewSnapshot{
				Rating: rv.Rating, Comment: rv.Comment,
				AverageRating: after.AverageRating, TotalReviews: after.TotalReviews,
			},
		}))
	})
	if err != nil {
		return nil, store.Translate(err, nil)
	}
	return &updated, nil
}

func (s *service) Delete(ctx context.Context, reviewID, actorID uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "review.delete",
		trace.WithAttributes(attribute.String("review.id", reviewID.String())),
	)
	defer span.End()

	var bookID uuid.UUID
	defer func() { s.finish(ctx, span, "review_delete", bookID, err) }()

	existing, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return store.Translate(err, apperr.ErrNotFound)
	}
	bookID = existing.BookID
	if err := s.authorize(ctx, existing, actorID); err != nil {
		return err
	}
	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{ID: actorID})

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockBook(ctx, existing.BookID); err != nil {
			return store.Translate(err, apperr.ErrBookNotFound)
		}
		rv, err := tx.LockReview(ctx, reviewID)
		if err != nil {
			return store.Translate(err, apperr.ErrNotFound)
		}
		if err := tx.DeleteReview(ctx, reviewID); err != nil {
			return store.Translate(err, apperr.ErrNotFound)
		}
		after, err := s.aggregator.Recompute(ctx, tx, rv.BookID)
		if err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit.NewEntry(ctx, s.now(), audit.Record{
			ActionType:  domain.ActionReviewDeleted,
			TargetType:  domain.TargetReview,
			TargetID:    rv.ID,
			Description: fmt.Sprintf("review of book %s deleted", rv.BookID),
			Before:      reviewSnapshot{Rating: rv.Rating, Comment: rv.Comment},
			After:       reviewSnapshot{AverageRating: after.AverageRating, TotalReviews: after.TotalReviews},
		}))
	})
	return store.Translate(err, nil)
}

func (s *service) Get(ctx context.Context, reviewID uuid.UUID) (*domain.Review, error) {
	rv, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, store.Translate(err, apperr.ErrNotFound)
	}
	return &rv, nil
}

func (s *service) ListForBook(ctx context.Context, bookID uuid.UUID) ([]domain.Review, error) {
	reviews, err := s.store.ListReviews(ctx, bookID)
	if err != nil {
		return nil, store.Translate(err, nil)
	}
	return reviews, nil
}

func (s *service) finish(ctx context.Context, span trace.Span, op string, bookID uuid.UUID, err error) {
	s.metrics.ObserveOutcome(op, err)
	if err == nil {
		s.logger.InfoContext(ctx, op+" committed", "book_id", bookID)
		return
	}
	span.RecordError(err)
	switch apperr.KindOf(err) {
	case apperr.KindContention:
		s.logger.WarnContext(ctx, op+" contended", "book_id", bookID, "error", err)
	case apperr.KindStore, apperr.KindUnknown:
		s.logger.ErrorContext(ctx, op+" failed", "book_id", bookID, "error", err)
	default:
		s.logger.InfoContext(ctx, op+" rejected", "book_id", bookID, "code", apperr.CodeOf(err))
	}
}
