package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/domain"
	"libracirc/internal/platform/requestcontext"
)

func sampleEntry(ctx context.Context) domain.AuditEntry {
	return NewEntry(ctx, time.Date(2025, 3, 3, 12, 0, 0, 123456789, time.UTC), Record{
		ActionType:  domain.ActionBookBorrowed,
		TargetType:  domain.TargetLoan,
		TargetID:    uuid.New(),
		Description: "borrowed",
		Before:      map[string]int{"available_copies": 2},
		After:       map[string]int{"available_copies": 1},
	})
}

func TestNewEntryTakesActorFromContext(t *testing.T) {
	actor := uuid.New()
	ctx := requestcontext.WithActor(context.Background(), requestcontext.Actor{ID: actor})

	e := sampleEntry(ctx)

	assert.Equal(t, actor, e.ActorID)
	assert.Equal(t, 123456000, e.Timestamp.Nanosecond())
	assert.JSONEq(t, `{"available_copies":1}`, string(e.After))
	assert.True(t, Verify(e))
}

func TestSystemActorIsNil(t *testing.T) {
	e := sampleEntry(context.Background())
	assert.Equal(t, domain.SystemActor, e.ActorID)
}

func TestDigestDetectsTampering(t *testing.T) {
	e := sampleEntry(context.Background())

	tampered := e
	tampered.Description = "returned"
	assert.False(t, Verify(tampered))

	tampered = e
	tampered.After = []byte(`{"available_copies":2}`)
	assert.False(t, Verify(tampered))
}

func TestDigestSurvivesJSONReformatting(t *testing.T) {
	e := sampleEntry(context.Background())

	// JSONB hands documents back with its own spacing
	e.After = []byte(`{ "available_copies" : 1 }`)
	e.Seq = 42
	assert.True(t, Verify(e))
}

func TestNilSnapshots(t *testing.T) {
	e := NewEntry(context.Background(), time.Now(), Record{ActionType: domain.ActionBookAdded, TargetType: domain.TargetBook})
	assert.Nil(t, e.Before)
	assert.Nil(t, e.After)
	require.NotEmpty(t, e.Digest)
	assert.True(t, Verify(e))
}
