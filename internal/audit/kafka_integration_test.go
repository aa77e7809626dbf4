//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"libracirc/internal/domain"
	"libracirc/internal/store/memory"
)

func TestKafkaRelayDeliversInOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.2.4")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	const topic = "libracirc.audit"
	admin, err := kgo.NewClient(kgo.SeedBrokers(broker))
	require.NoError(t, err)
	defer admin.Close()
	_, err = kadm.NewClient(admin).CreateTopics(ctx, 1, 1, nil, topic)
	require.NoError(t, err)

	pub, err := NewKafkaPublisher([]string{broker}, topic)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Ping(ctx))

	s := memory.New()
	seedAudit(t, s, 3)
	relay := NewRelay(s, pub, "kafka")
	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var got []domain.AuditEntry
	deadline, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	for len(got) < 3 {
		fetches := consumer.PollFetches(deadline)
		require.NoError(t, fetches.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			var e domain.AuditEntry
			require.NoError(t, json.Unmarshal(r.Value, &e))
			got = append(got, e)
		})
	}

	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.True(t, Verify(e))
	}
}
