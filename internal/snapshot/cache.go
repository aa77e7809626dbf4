// Package snapshot caches book rows in Redis for the unlocked read paths.
// Reads inside a transaction always go to the store; only GetBook is cached,
// and every committed book write evicts its key.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"libracirc/internal/domain"
	"libracirc/internal/platform/logger"
	"libracirc/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const keyPrefix = "libracirc:book:"

// Store decorates a store.Store with a read-through book cache.
type Store struct {
	store.Store
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Store)

func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func New(inner store.Store, client redis.Cmdable, opts ...Option) *Store {
	s := &Store{Store: inner, client: client, ttl: 30 * time.Second, logger: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(id uuid.UUID) string { return keyPrefix + id.String() }

// GetBook serves from Redis when it can. Cache failures fall through to
// the store and are only logged.
func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (domain.Book, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	switch {
	case err == nil:
		var b domain.Book
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, nil
		}
		s.logger.WarnContext(ctx, "discarding corrupt book snapshot", "book_id", id)
	case !errors.Is(err, redis.Nil):
		s.logger.WarnContext(ctx, "book snapshot read failed", "book_id", id, "error", err)
	}

	b, err := s.Store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	s.put(ctx, b)
	return b, nil
}

func (s *Store) put(ctx context.Context, b domain.Book) {
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key(b.ID), raw, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "book snapshot write failed", "book_id", b.ID, "error", err)
	}
}

// RunInTx evicts every book the transaction wrote once it has committed.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var touched []uuid.UUID
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		touched = touched[:0]
		return fn(ctx, &trackingTx{Tx: tx, touched: &touched})
	})
	if err != nil || len(touched) == 0 {
		return err
	}
	if err := s.Invalidate(context.WithoutCancel(ctx), touched...); err != nil {
		s.logger.WarnContext(ctx, "book snapshot eviction failed", "books", len(touched), "error", err)
	}
	return nil
}

// Invalidate drops the cached rows for ids.
func (s *Store) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("evict %d book snapshot(s): %w", len(keys), err)
	}
	return nil
}

type trackingTx struct {
	store.Tx
	touched *[]uuid.UUID
}

func (t *trackingTx) InsertBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	saved, err := t.Tx.InsertBook(ctx, b)
	if err == nil {
		*t.touched = append(*t.touched, saved.ID)
	}
	return saved, err
}

func (t *trackingTx) SaveBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	saved, err := t.Tx.SaveBook(ctx, b)
	if err == nil {
		*t.touched = append(*t.touched, saved.ID)
	}
	return saved, err
}
