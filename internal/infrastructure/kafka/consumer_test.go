package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerMessage(t *testing.T, event models.LedgerEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Topic: "ledger-events", Value: value}
}

func TestConsumer_HandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("TransferInvalidatesBothBalances", func(t *testing.T) {
		cache := redis.NewMemoryClient()
		require.NoError(t, cache.Set(ctx, redis.BalanceKey("alice"), 100, time.Minute))
		require.NoError(t, cache.Set(ctx, redis.BalanceKey("bob"), 10, time.Minute))
		c := &Consumer{redisClient: cache}

		err := c.HandleMessage(ctx, ledgerMessage(t, models.LedgerEvent{
			Type:    models.EventTransferCompleted,
			UserIDs: []string{"alice", "bob"},
			Amount:  40,
		}))
		require.NoError(t, err)

		for _, id := range []string{"alice", "bob"} {
			_, err := cache.Get(ctx, redis.BalanceKey(id))
			assert.ErrorIs(t, err, redis.ErrKeyNotFound)
		}
	})

	t.Run("FailedTransactionKeepsCache", func(t *testing.T) {
		cache := redis.NewMemoryClient()
		require.NoError(t, cache.Set(ctx, redis.BalanceKey("alice"), 100, time.Minute))
		c := &Consumer{redisClient: cache}

		err := c.HandleMessage(ctx, ledgerMessage(t, models.LedgerEvent{
			Type:    models.EventTransactionFailed,
			UserIDs: []string{"alice"},
		}))
		require.NoError(t, err)

		v, err := cache.Get(ctx, redis.BalanceKey("alice"))
		require.NoError(t, err)
		assert.Equal(t, "100", v)
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		c := &Consumer{redisClient: redis.NewMemoryClient()}
		err := c.HandleMessage(ctx, kafka.Message{Value: []byte("not json")})
		assert.Error(t, err)
	})
}
