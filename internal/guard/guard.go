// Package guard enforces the book invariants at the data layer. Every store
// passes each book write through Guard.Inspect inside the writing transaction.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"libracirc/internal/audit"
	"libracirc/internal/domain"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/metrics"
)

// Guard clamps out-of-range counters and audits significant changes.
type Guard struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Guard)

func WithLogger(l *slog.Logger) Option { return func(g *Guard) { g.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(g *Guard) { g.metrics = m } }
func WithClock(now func() time.Time) Option { return func(g *Guard) { g.now = now } }

func New(opts ...Option) *Guard {
	g := &Guard{logger: logger.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type clamp struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// Inspect corrects after in place and returns the audit entries the write
// must carry. A clamp means some caller broke an invariant, so each one is
// logged, counted and recorded as a consistency_violation.
func (g *Guard) Inspect(ctx context.Context, before *domain.Book, after *domain.Book) []domain.AuditEntry {
	now := g.now()
	var entries []domain.AuditEntry

	if clamps := g.clamp(after); len(clamps) > 0 {
		for _, c := range clamps {
			g.metrics.IncGuardClamp(c.Field)
			g.logger.WarnContext(ctx, "consistency guard clamped book field",
				"book_id", after.ID, "field", c.Field, "from", c.From, "to", c.To)
		}
		entries = append(entries, audit.NewEntry(ctx, now, audit.Record{
			ActionType:  domain.ActionConsistencyViolation,
			TargetType:  domain.TargetBook,
			TargetID:    after.ID,
			Description: fmt.Sprintf("guard clamped %d field(s) on book %s", len(clamps), after.ID),
			Before:      clamps,
			After:       after.Snapshot(),
		}))
		g.metrics.IncGuardAudit(domain.ActionConsistencyViolation)
	}

	if before == nil {
		return entries
	}

	if significantChange(before.TotalCopies, after.TotalCopies) {
		entries = append(entries, audit.NewEntry(ctx, now, audit.Record{
			ActionType: domain.ActionLargeInventoryChange,
			TargetType: domain.TargetBook,
			TargetID:   after.ID,
			Description: fmt.Sprintf("total copies changed from %d to %d",
				before.TotalCopies, after.TotalCopies),
			Before: before.Snapshot(),
			After:  after.Snapshot(),
		}))
		g.metrics.IncGuardAudit(domain.ActionLargeInventoryChange)
	}

	if before.IsActive && !after.IsActive {
		entries = append(entries, audit.NewEntry(ctx, now, audit.Record{
			ActionType:  domain.ActionBookDeactivated,
			TargetType:  domain.TargetBook,
			TargetID:    after.ID,
			Description: fmt.Sprintf("book %q deactivated", after.Title),
			Before:      before.Snapshot(),
			After:       after.Snapshot(),
		}))
		g.metrics.IncGuardAudit(domain.ActionBookDeactivated)
	}

	return entries
}

func (g *Guard) clamp(b *domain.Book) []clamp {
	var out []clamp
	if b.TotalCopies < 0 {
		out = append(out, clamp{"total_copies", b.TotalCopies, 0})
		b.TotalCopies = 0
	}
	if b.AvailableCopies < 0 {
		out = append(out, clamp{"available_copies", b.AvailableCopies, 0})
		b.AvailableCopies = 0
	}
	if b.AvailableCopies > b.TotalCopies {
		out = append(out, clamp{"available_copies", b.AvailableCopies, b.TotalCopies})
		b.AvailableCopies = b.TotalCopies
	}
	if b.TotalBorrowed < 0 {
		out = append(out, clamp{"total_borrowed", b.TotalBorrowed, 0})
		b.TotalBorrowed = 0
	}
	if b.AverageRating < 0 {
		out = append(out, clamp{"average_rating", b.AverageRating, 0})
		b.AverageRating = 0
	}
	if b.AverageRating > domain.MaxRating {
		out = append(out, clamp{"average_rating", b.AverageRating, domain.MaxRating})
		b.AverageRating = domain.MaxRating
	}
	if b.TotalReviews < 0 {
		out = append(out, clamp{"total_reviews", b.TotalReviews, 0})
		b.TotalReviews = 0
	}
	return out
}

// significantChange is true when total moved by more than 10% of its old value.
func significantChange(oldTotal, newTotal int) bool {
	if oldTotal == newTotal {
		return false
	}
	diff := newTotal - oldTotal
	if diff < 0 {
		diff = -diff
	}
	if oldTotal <= 0 {
		return true
	}
	return diff*10 > oldTotal
}
