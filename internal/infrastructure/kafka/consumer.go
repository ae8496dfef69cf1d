package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/segmentio/kafka-go"
)

// Consumer keeps the Redis balance cache in step with ledger events written
// by other instances.
type Consumer struct {
	reader      *kafka.Reader
	redisClient redis.RedisClient
}

func NewConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

// Consume blocks until ctx is done.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		if err := c.HandleMessage(ctx, msg); err != nil {
			slog.Error("failed to handle ledger event", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.LedgerEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("unmarshal ledger event: %w", err)
	}

	switch event.Type {
	case models.EventTransactionCompleted, models.EventTransferCompleted:
	case models.EventTransactionFailed:
		// failures never move a balance
		return nil
	default:
		slog.Warn("unknown ledger event type", "type", event.Type)
		return nil
	}

	keys := make([]string, 0, len(event.UserIDs))
	for _, id := range event.UserIDs {
		keys = append(keys, redis.BalanceKey(id))
	}
	if err := c.redisClient.Del(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate balances: %w", err)
	}
	slog.Debug("balance cache invalidated", "type", event.Type, "user_ids", event.UserIDs)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
