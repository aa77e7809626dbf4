package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"libracirc/internal/apperr"
	"libracirc/internal/circulation"
	"libracirc/internal/inventory"
	"libracirc/internal/platform/logger"
	"libracirc/internal/review"
)

const maxAttempts = 3

// Fixture names the members the experiments act as. Readers must be
// active members; Staff must be active staff.
type Fixture struct {
	Staff   uuid.UUID
	Readers []uuid.UUID
}

// Suite builds the lending experiments against one target.
type Suite struct {
	target  Target
	fixture Fixture
	limiter *rate.Limiter
	workers int
	window  time.Duration
	logger  *slog.Logger
}

type SuiteOption func(*Suite)

// WithRate paces every request through a token bucket.
func WithRate(rps float64, burst int) SuiteOption {
	return func(s *Suite) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithWorkers caps in-flight requests (default 32).
func WithWorkers(n int) SuiteOption { return func(s *Suite) { s.workers = n } }

// WithWindow sets each experiment's observation window (default 0, one sample).
func WithWindow(d time.Duration) SuiteOption { return func(s *Suite) { s.window = d } }

func WithSuiteLogger(l *slog.Logger) SuiteOption { return func(s *Suite) { s.logger = l } }

func NewSuite(target Target, fixture Fixture, opts ...SuiteOption) (*Suite, error) {
	if fixture.Staff == uuid.Nil || len(fixture.Readers) == 0 {
		return nil, errors.New("chaos fixture needs a staff member and at least one reader")
	}
	s := &Suite{
		target:  target,
		fixture: fixture,
		limiter: rate.NewLimiter(rate.Inf, 1),
		workers: 32,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// All returns one fresh instance of every experiment.
func (s *Suite) All() []Experiment {
	return []Experiment{
		s.LastCopyRace(4 * len(s.fixture.Readers)),
		s.BorrowReturnStorm(5),
		s.ReviewStorm(),
		s.ResizeUnderLoad(10),
	}
}

type outcomes struct {
	ok         atomic.Int64
	expected   atomic.Int64
	unexpected atomic.Int64
}

// record classifies err. Contention is always expected.
func (o *outcomes) record(ctx context.Context, log *slog.Logger, op string, err error, expected ...error) {
	if err == nil {
		o.ok.Add(1)
		return
	}
	if apperr.IsRetryable(err) {
		o.expected.Add(1)
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			o.expected.Add(1)
			return
		}
	}
	o.unexpected.Add(1)
	log.WarnContext(ctx, "unexpected failure", "op", op, "error", err)
}

func gauge(v *atomic.Int64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return float64(v.Load()), nil }
}

// call paces fn and retries it while it reports lock contention.
func (s *Suite) call(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if werr := s.limiter.Wait(ctx); werr != nil {
			return werr
		}
		if err = fn(); !apperr.IsRetryable(err) {
			return err
		}
	}
	return err
}

// storm runs task n times across the worker pool.
func (s *Suite) storm(ctx context.Context, n int, task func(ctx context.Context, i int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			task(ctx, i)
			return ctx.Err()
		})
	}
	return g.Wait()
}

func (s *Suite) reader(i int) uuid.UUID {
	return s.fixture.Readers[i%len(s.fixture.Readers)]
}

func (s *Suite) addBook(bookID *uuid.UUID, title string, copies int) Action {
	return Action{
		Type:   "add-book",
		Target: "inventory",
		Execute: func(ctx context.Context) error {
			b, err := s.target.AddBook(ctx, s.fixture.Staff, inventory.NewBook{
				ISBN:        "CHAOS-" + uuid.NewString()[:8],
				Title:       title,
				Author:      "Game Day",
				TotalCopies: copies,
			})
			if err != nil {
				return err
			}
			*bookID = b.ID
			return nil
		},
	}
}

func (s *Suite) driftProbe(bookID *uuid.UUID) Probe {
	return Probe{
		Name: "counter_drift",
		Query: func(ctx context.Context) (float64, error) {
			r, err := s.target.CheckConsistency(ctx, *bookID)
			if err != nil {
				return 0, err
			}
			return float64(len(r.Drift)), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func (s *Suite) availableProbe(bookID *uuid.UUID) Probe {
	return Probe{
		Name: "available_copies",
		Query: func(ctx context.Context) (float64, error) {
			b, err := s.target.GetBook(ctx, *bookID)
			if err != nil {
				return 0, err
			}
			return float64(b.AvailableCopies), nil
		},
		Threshold: Threshold{Operator: ">=", Value: 0},
	}
}

func unexpectedProbe(o *outcomes) Probe {
	return Probe{Name: "unexpected_errors", Query: gauge(&o.unexpected), Threshold: Threshold{Operator: "==", Value: 0}}
}

func equals(probe string, want float64, msg string) Assertion {
	return Assertion{Probe: probe, Condition: func(v float64) bool { return v == want }, Message: msg}
}

// LastCopyRace sends contenders simultaneous borrows for a one-copy book.
func (s *Suite) LastCopyRace(contenders int) Experiment {
	var (
		bookID uuid.UUID
		o      outcomes
		winner atomic.Value
	)
	return Experiment{
		Name:       "last-copy-race",
		Hypothesis: "Exactly one of many simultaneous borrows of the last copy succeeds",
		Setup:      []Action{s.addBook(&bookID, "Last Copy", 1)},
		SteadyState: []Probe{
			s.driftProbe(&bookID),
			s.availableProbe(&bookID),
			unexpectedProbe(&o),
			{Name: "winners", Query: gauge(&o.ok), Threshold: Threshold{Operator: "<=", Value: 1}},
		},
		Method: []Action{{
			Type:   "concurrent-borrows",
			Target: "lending",
			Execute: func(ctx context.Context) error {
				return s.storm(ctx, contenders, func(ctx context.Context, i int) {
					var res *circulation.BorrowResult
					err := s.call(ctx, func() (err error) {
						res, err = s.target.Borrow(ctx, circulation.BorrowRequest{UserID: s.reader(i), BookID: bookID})
						return err
					})
					if err == nil {
						winner.Store([2]uuid.UUID{res.LoanID, s.reader(i)})
					}
					o.record(ctx, s.logger, "borrow", err, apperr.ErrExhausted, apperr.ErrLimitReached)
				})
			},
		}},
		Rollback: []Action{{
			Type:   "return-winner",
			Target: "lending",
			Execute: func(ctx context.Context) error {
				w, ok := winner.Load().([2]uuid.UUID)
				if !ok {
					return nil
				}
				_, err := s.target.Return(ctx, w[0], w[1])
				return err
			},
		}},
		Validation: []Assertion{
			equals("winners", 1, "exactly one borrow must win the last copy"),
			equals("available_copies", 0, "the last copy must be on loan"),
			equals("counter_drift", 0, "counters must match active loans"),
			equals("unexpected_errors", 0, "losers must fail with Exhausted or Contention only"),
		},
		Duration: s.window,
	}
}

// BorrowReturnStorm has every reader borrow and return the same book
// rounds times while copies are scarce.
func (s *Suite) BorrowReturnStorm(rounds int) Experiment {
	var (
		bookID uuid.UUID
		o      outcomes
		cycles atomic.Int64
	)
	copies := len(s.fixture.Readers) / 2
	if copies < 1 {
		copies = 1
	}
	outstanding := Probe{
		Name: "outstanding_loans",
		Query: func(ctx context.Context) (float64, error) {
			b, err := s.target.GetBook(ctx, bookID)
			if err != nil {
				return 0, err
			}
			return float64(b.TotalCopies - b.AvailableCopies), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
	return Experiment{
		Name:       "borrow-return-storm",
		Hypothesis: "Counters return to full availability after a storm of borrows and returns",
		Setup:      []Action{s.addBook(&bookID, "Hot Title", copies)},
		SteadyState: []Probe{
			s.driftProbe(&bookID),
			outstanding,
			unexpectedProbe(&o),
			{Name: "completed_cycles", Query: gauge(&cycles), Threshold: Threshold{Operator: ">=", Value: 0}},
		},
		Method: []Action{{
			Type:   "borrow-return-loop",
			Target: "lending",
			Execute: func(ctx context.Context) error {
				return s.storm(ctx, len(s.fixture.Readers), func(ctx context.Context, i int) {
					user := s.fixture.Readers[i]
					for r := 0; r < rounds && ctx.Err() == nil; r++ {
						var res *circulation.BorrowResult
						err := s.call(ctx, func() (err error) {
							res, err = s.target.Borrow(ctx, circulation.BorrowRequest{UserID: user, BookID: bookID})
							return err
						})
						o.record(ctx, s.logger, "borrow", err, apperr.ErrExhausted, apperr.ErrLimitReached)
						if err != nil {
							continue
						}
						err = s.call(ctx, func() error {
							_, err := s.target.Return(ctx, res.LoanID, user)
							return err
						})
						o.record(ctx, s.logger, "return", err)
						if err == nil {
							cycles.Add(1)
						}
					}
				})
			},
		}},
		Validation: []Assertion{
			{Probe: "completed_cycles", Condition: func(v float64) bool { return v > 0 }, Message: "at least one borrow/return cycle must complete"},
			equals("outstanding_loans", 0, "every borrowed copy must be back on the shelf"),
			equals("counter_drift", 0, "counters must match active loans"),
			equals("unexpected_errors", 0, "only Exhausted and Contention are acceptable"),
		},
		Duration: s.window,
	}
}

// ReviewStorm has each past borrower submit two reviews at once.
func (s *Suite) ReviewStorm() Experiment {
	var (
		bookID uuid.UUID
		o      outcomes
	)
	readers := s.fixture.Readers
	return Experiment{
		Name:       "review-storm",
		Hypothesis: "Each borrower gets exactly one review and the mean matches the stored reviews",
		Setup: []Action{
			s.addBook(&bookID, "Much Discussed", len(readers)),
			{
				Type:   "borrow-and-return",
				Target: "lending",
				Execute: func(ctx context.Context) error {
					for _, user := range readers {
						res, err := s.target.Borrow(ctx, circulation.BorrowRequest{UserID: user, BookID: bookID})
						if err != nil {
							return fmt.Errorf("seed loan for %s: %w", user, err)
						}
						if _, err := s.target.Return(ctx, res.LoanID, user); err != nil {
							return fmt.Errorf("seed return for %s: %w", user, err)
						}
					}
					return nil
				},
			},
		},
		SteadyState: []Probe{
			s.driftProbe(&bookID),
			unexpectedProbe(&o),
			{Name: "accepted_reviews", Query: gauge(&o.ok), Threshold: Threshold{Operator: "<=", Value: float64(len(readers))}},
		},
		Method: []Action{{
			Type:   "duplicate-submits",
			Target: "reviews",
			Execute: func(ctx context.Context) error {
				return s.storm(ctx, 2*len(readers), func(ctx context.Context, i int) {
					err := s.call(ctx, func() error {
						_, err := s.target.SubmitReview(ctx, review.SubmitRequest{
							UserID:  readers[i%len(readers)],
							BookID:  bookID,
							Rating:  1 + i%5,
							Comment: "game day",
						})
						return err
					})
					o.record(ctx, s.logger, "review", err, apperr.ErrAlreadyReviewed)
				})
			},
		}},
		Validation: []Assertion{
			equals("accepted_reviews", float64(len(readers)), "each borrower must land exactly one review"),
			equals("counter_drift", 0, "rating mean and count must match the stored reviews"),
			equals("unexpected_errors", 0, "duplicates must fail with AlreadyReviewed or Contention only"),
		},
		Duration: s.window,
	}
}

// ResizeUnderLoad resizes a book repeatedly while readers borrow and return it.
func (s *Suite) ResizeUnderLoad(rounds int) Experiment {
	var (
		bookID uuid.UUID
		o      outcomes
	)
	totals := []int{2, 6, 3, 8, 1, 5}
	return Experiment{
		Name:       "resize-under-load",
		Hypothesis: "Resizing never strands copies on loan or drives availability negative",
		Setup:      []Action{s.addBook(&bookID, "Reprinted", 2)},
		SteadyState: []Probe{
			s.driftProbe(&bookID),
			s.availableProbe(&bookID),
			unexpectedProbe(&o),
		},
		Method: []Action{{
			Type:   "resize-with-traffic",
			Target: "inventory",
			Execute: func(ctx context.Context) error {
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					for r := 0; r < rounds && ctx.Err() == nil; r++ {
						err := s.call(ctx, func() error {
							_, err := s.target.ResizeInventory(ctx, s.fixture.Staff, bookID, totals[r%len(totals)])
							return err
						})
						o.record(ctx, s.logger, "resize", err, apperr.ErrConflict)
					}
					return ctx.Err()
				})
				g.Go(func() error {
					return s.storm(ctx, len(s.fixture.Readers), func(ctx context.Context, i int) {
						user := s.fixture.Readers[i]
						for r := 0; r < rounds && ctx.Err() == nil; r++ {
							var res *circulation.BorrowResult
							err := s.call(ctx, func() (err error) {
								res, err = s.target.Borrow(ctx, circulation.BorrowRequest{UserID: user, BookID: bookID})
								return err
							})
							o.record(ctx, s.logger, "borrow", err, apperr.ErrExhausted, apperr.ErrLimitReached)
							if err != nil {
								continue
							}
							err = s.call(ctx, func() error {
								_, err := s.target.Return(ctx, res.LoanID, user)
								return err
							})
							o.record(ctx, s.logger, "return", err)
						}
					})
				})
				return g.Wait()
			},
		}},
		Validation: []Assertion{
			equals("counter_drift", 0, "available must equal total minus active loans"),
			equals("unexpected_errors", 0, "only Conflict, Exhausted and Contention are acceptable"),
		},
		Duration: s.window,
	}
}
