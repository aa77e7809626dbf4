package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"libracirc/internal/domain"
	"libracirc/internal/platform/logger"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/store"
)

// Publisher ships a batch of committed entries downstream. A batch is
// either fully accepted or the call fails; the relay then retries it.
type Publisher interface {
	Publish(ctx context.Context, entries []domain.AuditEntry) error
}

// Source is what the relay reads from: the committed trail and a
// persisted cursor.
type Source interface {
	StreamAudit(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEntry, error)
	store.CursorStore
}

// Relay copies the audit trail to a Publisher in seq order, at least once.
type Relay struct {
	source    Source
	publisher Publisher
	name      string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption { return func(r *Relay) { r.batchSize = n } }

func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }

func WithRelayLogger(l *slog.Logger) RelayOption { return func(r *Relay) { r.logger = l } }

func WithRelayMetrics(m *metrics.Metrics) RelayOption { return func(r *Relay) { r.metrics = m } }

// NewRelay creates a relay whose cursor is stored under name.
func NewRelay(source Source, publisher Publisher, name string, opts ...RelayOption) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		name:      name,
		batchSize: 100,
		interval:  time.Second,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RelayOnce publishes one batch and advances the cursor. It returns the
// number of entries published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	cursor, err := r.source.AuditCursor(ctx, r.name)
	if err != nil {
		return 0, fmt.Errorf("read cursor %s: %w", r.name, err)
	}
	batch, err := r.source.StreamAudit(ctx, cursor, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("stream audit after %d: %w", cursor, err)
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := r.publisher.Publish(ctx, batch); err != nil {
		r.metrics.IncRelayFailure()
		return 0, fmt.Errorf("publish %d entries: %w", len(batch), err)
	}
	last := batch[len(batch)-1].Seq
	if err := r.source.SaveAuditCursor(ctx, r.name, last); err != nil {
		return 0, fmt.Errorf("save cursor %s: %w", r.name, err)
	}
	r.metrics.AddRelayed(len(batch))
	return len(batch), nil
}

// Run drains the trail, then polls every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "audit relay started", "cursor", r.name, "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.WarnContext(ctx, "audit relay batch failed", "cursor", r.name, "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "audit relay stopped", "cursor", r.name)
			return nil
		case <-ticker.C:
		}
	}
}

// LogPublisher writes entries to a logger. It is the fallback when no
// broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, entries []domain.AuditEntry) error {
	for _, e := range entries {
		p.Logger.InfoContext(ctx, "audit",
			"seq", e.Seq,
			"action", e.ActionType,
			"target_type", e.TargetType,
			"target_id", e.TargetID,
			"actor_id", e.ActorID,
			"description", e.Description,
		)
	}
	return nil
}
