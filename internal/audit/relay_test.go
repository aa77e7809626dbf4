package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"libracirc/internal/domain"
	"libracirc/internal/platform/metrics"
	"libracirc/internal/store"
	"libracirc/internal/store/memory"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, entries []domain.AuditEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func seedAudit(t *testing.T, s *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return tx.AppendAudit(ctx, NewEntry(ctx, time.Now(), Record{
				ActionType: domain.ActionBookBorrowed,
				TargetType: domain.TargetLoan,
				TargetID:   uuid.New(),
			}))
		}))
	}
}

func batchOf(n int) any {
	return mock.MatchedBy(func(entries []domain.AuditEntry) bool { return len(entries) == n })
}

func TestRelayOnceAdvancesCursor(t *testing.T) {
	s := memory.New()
	seedAudit(t, s, 5)
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, batchOf(3)).Return(nil).Once()
	pub.On("Publish", mock.Anything, batchOf(2)).Return(nil).Once()
	m := metrics.New(prometheus.NewRegistry())

	r := NewRelay(s, pub, "kafka", WithBatchSize(3), WithRelayMetrics(m))

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	cursor, err := s.AuditCursor(context.Background(), "kafka")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cursor)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.AuditRelayed))
	pub.AssertExpectations(t)
}

func TestRelayRetriesFailedBatch(t *testing.T) {
	s := memory.New()
	seedAudit(t, s, 2)
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, batchOf(2)).Return(errors.New("broker down")).Once()
	pub.On("Publish", mock.Anything, batchOf(2)).Return(nil).Once()

	r := NewRelay(s, pub, "kafka")

	_, err := r.RelayOnce(context.Background())
	require.Error(t, err)
	cursor, _ := s.AuditCursor(context.Background(), "kafka")
	assert.Zero(t, cursor)

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	pub.AssertExpectations(t)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	s := memory.New()
	seedAudit(t, s, 1)
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRelay(s, pub, "log", WithInterval(5*time.Millisecond)).Run(ctx) }()

	assert.Eventually(t, func() bool {
		cursor, _ := s.AuditCursor(context.Background(), "log")
		return cursor == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
