// Package testutil wires an in-memory lending environment for package tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"libracirc/internal/domain"
	"libracirc/internal/guard"
	"libracirc/internal/membership"
	"libracirc/internal/store"
	"libracirc/internal/store/memory"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{now: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Clock) AdvanceDays(n int) { c.Advance(time.Duration(n) * 24 * time.Hour) }

// Env is a memory store guarded like production, plus a member directory.
type Env struct {
	Store     *memory.Store
	Directory *membership.StaticDirectory
	Clock     *Clock
	Guard     *guard.Guard
}

// Start is a fixed Monday noon, far from any DST boundary in UTC.
var Start = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

func NewEnv(opts ...memory.Option) *Env {
	clock := NewClock(Start)
	g := guard.New(guard.WithClock(clock.Now))
	base := []memory.Option{
		memory.WithInspector(g),
		memory.WithClock(clock.Now),
		memory.WithLockTimeout(2 * time.Second),
	}
	return &Env{
		Store:     memory.New(append(base, opts...)...),
		Directory: membership.NewStaticDirectory(),
		Clock:     clock,
		Guard:     g,
	}
}

func (e *Env) AddMember(t testing.TB, role string) uuid.UUID {
	t.Helper()
	m, err := e.Directory.RegisterMember(context.Background(), membership.Member{Role: role, Status: membership.StatusActive})
	require.NoError(t, err)
	return m.ID
}

func (e *Env) AddSuspendedMember(t testing.TB) uuid.UUID {
	t.Helper()
	m, err := e.Directory.RegisterMember(context.Background(), membership.Member{Role: membership.RoleMember, Status: membership.StatusSuspended})
	require.NoError(t, err)
	return m.ID
}

// AddBook inserts an active book with all copies on the shelf.
func (e *Env) AddBook(t testing.TB, copies int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := e.Store.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertBook(ctx, domain.Book{
			ID:              id,
			ISBN:            "978" + id.String()[:10],
			Title:           "Title " + id.String()[:8],
			Author:          "Author",
			TotalCopies:     copies,
			AvailableCopies: copies,
			IsActive:        true,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func (e *Env) Book(t testing.TB, id uuid.UUID) domain.Book {
	t.Helper()
	b, err := e.Store.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b
}

// RequireConsistent fails the test when the book's counters drift from its loans and reviews.
func (e *Env) RequireConsistent(t testing.TB, bookID uuid.UUID) {
	t.Helper()
	report, err := guard.Verify(context.Background(), e.Store, bookID)
	require.NoError(t, err)
	require.True(t, report.Consistent(), "drift: %v", report.Drift)
}

// AuditActions lists the action types recorded against target, oldest first.
func (e *Env) AuditActions(t testing.TB, targetID uuid.UUID) []string {
	t.Helper()
	entries, err := e.Store.ListAudit(context.Background(), store.AuditFilter{TargetID: targetID})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].ActionType)
	}
	return out
}
