//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"myapi/internal/platform/config"
	"myapi/pkg/testutil/containers"
)

func TestProducer_PublishesToEnsuredTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := containers.GetManager().GetRedpanda(t)
	cfg := config.KafkaConfig{Brokers: []string{broker.Broker}, AuditTopic: "audit-test"}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, EnsureTopic(ctx, client, cfg.AuditTopic, 1, 1))
	require.NoError(t, EnsureTopic(ctx, client, cfg.AuditTopic, 1, 1), "second call is a no-op")

	require.NoError(t, NewProducer(client).Publish(ctx, Message{
		Topic: cfg.AuditTopic, Key: []byte("k"), Value: []byte(`{"action":"item_created"}`),
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(cfg.AuditTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.NotEmpty(t, records)
	require.Equal(t, "k", string(records[0].Key))
}
