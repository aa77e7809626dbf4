// Package postgres is the production store. Row locks are SELECT ... FOR
// UPDATE under a per-transaction lock_timeout; borrower locks are
// transaction-scoped advisory locks.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libracirc/internal/domain"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/store"
)

const (
	bookColumns   = "id, isbn, title, author, total_copies, available_copies, total_borrowed, average_rating, total_reviews, is_active, version, created_at, updated_at"
	loanColumns   = "id, user_id, book_id, checkout_date, due_date, return_date, is_returned, is_late, late_fee_cents, version"
	reviewColumns = "id, user_id, book_id, rating, comment, helpful_votes, created_at, updated_at"
	auditColumns  = "seq, id, actor_id, action_type, target_type, target_id, description, before_state, after_state, digest, created_at"

	// auditAppendKey serialises audit inserts so seq order is commit order.
	auditAppendKey = "libracirc:audit_append"
)

var dialect = goqu.Dialect("postgres")

type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
	inspector   store.Inspector
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option { return func(s *Store) { s.lockTimeout = d } }

func WithInspector(i store.Inspector) Option { return func(s *Store) { s.inspector = i } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		lockTimeout: 5 * time.Second,
		inspector:   store.NopInspector{},
		logger:      logger.Discard(),
		tracer:      otel.Tracer("libracirc/store/postgres"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with lib/pq and applies pool settings.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// RunInTx runs fn in a READ COMMITTED transaction. Audit entries staged by
// fn are inserted just before commit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	ctx, span := s.tracer.Start(ctx, "postgres.tx")
	start := time.Now()
	defer func() {
		s.metrics.ObserveTx("postgres", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err, "begin")
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
			}
		}
	}()

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err = sqlTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return classify(err, "set lock_timeout")
	}

	t := newTx(s, sqlTx)
	if err = fn(ctx, t); err != nil {
		return err
	}
	if err = t.flushAudit(ctx); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("audit.entries", len(t.audit)))
	if err = sqlTx.Commit(); err != nil {
		return classify(err, "commit")
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	var b domain.Book
	err := s.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	return b, classify(err, "get book "+id.String())
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (domain.Loan, error) {
	var l domain.Loan
	err := s.db.GetContext(ctx, &l, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	return normalizeLoan(l), classify(err, "get loan "+id.String())
}

func (s *Store) GetReview(ctx context.Context, id uuid.UUID) (domain.Review, error) {
	var r domain.Review
	err := s.db.GetContext(ctx, &r, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id)
	return r, classify(err, "get review "+id.String())
}

func (s *Store) ListLoans(ctx context.Context, f store.LoanFilter) ([]domain.Loan, error) {
	q := dialect.From("loans").Select(goqu.L(loanColumns))
	if f.UserID != uuid.Nil {
		q = q.Where(goqu.C("user_id").Eq(f.UserID.String()))
	}
	if f.BookID != uuid.Nil {
		q = q.Where(goqu.C("book_id").Eq(f.BookID.String()))
	}
	if f.ActiveOnly || !f.OverdueAsOf.IsZero() {
		q = q.Where(goqu.C("is_returned").IsFalse())
	}
	if !f.OverdueAsOf.IsZero() {
		q = q.Where(goqu.C("due_date").Lt(f.OverdueAsOf.Format("2006-01-02")))
	}
	q = q.Order(goqu.C("checkout_date").Asc(), goqu.C("id").Asc())
	if f.Limit > 0 {
		q = q.Limit(uint(f.Limit))
	}
	query, args, err := q.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}

	loans := make([]domain.Loan, 0)
	if err := s.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, classify(err, "list loans")
	}
	for i := range loans {
		loans[i] = normalizeLoan(loans[i])
	}
	return loans, nil
}

func (s *Store) ListReviews(ctx context.Context, bookID uuid.UUID) ([]domain.Review, error) {
	reviews := make([]domain.Review, 0)
	err := s.db.SelectContext(ctx, &reviews,
		`SELECT `+reviewColumns+` FROM reviews WHERE book_id = $1 ORDER BY created_at, id`, bookID)
	return reviews, classify(err, "list reviews")
}

// ListAudit returns matching entries, newest first.
func (s *Store) ListAudit(ctx context.Context, f store.AuditFilter) ([]domain.AuditEntry, error) {
	q := dialect.From("audit_entries").Select(goqu.L(auditColumns))
	if f.ActorID != uuid.Nil {
		q = q.Where(goqu.C("actor_id").Eq(f.ActorID.String()))
	}
	if f.TargetType != "" {
		q = q.Where(goqu.C("target_type").Eq(f.TargetType))
	}
	if f.TargetID != uuid.Nil {
		q = q.Where(goqu.C("target_id").Eq(f.TargetID.String()))
	}
	if f.ActionType != "" {
		q = q.Where(goqu.C("action_type").Eq(f.ActionType))
	}
	q = q.Order(goqu.C("seq").Desc())
	if f.Limit > 0 {
		q = q.Limit(uint(f.Limit))
	}
	query, args, err := q.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}
	return s.selectAudit(ctx, query, args...)
}

func (s *Store) StreamAudit(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEntry, error) {
	return s.selectAudit(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE seq > $1 ORDER BY seq LIMIT $2`, afterSeq, limit)
}

func (s *Store) selectAudit(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify(err, "list audit")
	}
	out := make([]domain.AuditEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

func (s *Store) AuditCursor(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.GetContext(ctx, &seq, `SELECT last_seq FROM audit_outbox_cursors WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, classify(err, "read cursor "+name)
}

// SaveAuditCursor never moves a cursor backwards.
func (s *Store) SaveAuditCursor(ctx context.Context, name string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_outbox_cursors (name, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_seq = GREATEST(audit_outbox_cursors.last_seq, EXCLUDED.last_seq),
		    updated_at = now()
	`, name, seq)
	return classify(err, "save cursor "+name)
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// auditRow scans nullable JSONB columns, which json.RawMessage cannot.
type auditRow struct {
	Seq         int64     `db:"seq"`
	ID          uuid.UUID `db:"id"`
	ActorID     uuid.UUID `db:"actor_id"`
	ActionType  string    `db:"action_type"`
	TargetType  string    `db:"target_type"`
	TargetID    uuid.UUID `db:"target_id"`
	Description string    `db:"description"`
	Before      []byte    `db:"before_state"`
	After       []byte    `db:"after_state"`
	Digest      string    `db:"digest"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r auditRow) entry() domain.AuditEntry {
	return domain.AuditEntry{
		Seq:         r.Seq,
		ID:          r.ID,
		ActorID:     r.ActorID,
		ActionType:  r.ActionType,
		TargetType:  r.TargetType,
		TargetID:    r.TargetID,
		Description: r.Description,
		Before:      r.Before,
		After:       r.After,
		Digest:      r.Digest,
		Timestamp:   r.CreatedAt.UTC(),
	}
}

// normalizeLoan pins DATE columns to UTC midnight.
func normalizeLoan(l domain.Loan) domain.Loan {
	if !l.DueDate.IsZero() {
		l.DueDate = domain.CalendarDate(l.DueDate)
	}
	return l
}

func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
