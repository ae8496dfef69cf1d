package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ruyllex/rulo-web/internal/repository"
)

const (
	DefaultInterval  = 500 * time.Millisecond
	DefaultBatchSize = 50
	publishTimeout   = 5 * time.Second

	// DefaultClaimTimeout is how long a claimed batch may stay PROCESSING
	// before another relay takes it back.
	DefaultClaimTimeout = 5 * time.Minute
)

type Publisher interface {
	Send(ctx context.Context, topic, key, eventType string, value []byte) error
}

// Relay publishes outbox rows written by the ledger.
type Relay struct {
	repo      repository.OutboxRepository
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int

	claimTimeout time.Duration
	now          func() time.Time
}

func NewRelay(repo repository.OutboxRepository, publisher Publisher, topic string, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Relay{
		repo:         repo,
		publisher:    publisher,
		topic:        topic,
		interval:     interval,
		batchSize:    batchSize,
		claimTimeout: DefaultClaimTimeout,
		now:          time.Now,
	}
}

func (r *Relay) Run(ctx context.Context) {
	slog.Info("outbox relay started", "topic", r.topic, "interval", r.interval, "batch_size", r.batchSize)

	r.requeue(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	requeueTicker := time.NewTicker(r.claimTimeout)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay shutting down")
			return
		case <-requeueTicker.C:
			r.requeue(ctx)
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				slog.Error("outbox batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch publishes one claimed batch and returns how many events went out.
// Events that fail to publish go back to PENDING for the next tick.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	events, err := r.repo.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var published, failed []string
	for _, ev := range events {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := r.publisher.Send(pubCtx, r.topic, ev.Key, ev.Type, ev.Payload)
		cancel()
		if err != nil {
			slog.Warn("outbox publish failed", "id", ev.ID, "type", ev.Type, "error", err)
			failed = append(failed, ev.ID)
			continue
		}
		published = append(published, ev.ID)
	}

	// Use a context that survives shutdown so claimed rows are not left PROCESSING.
	markCtx := context.WithoutCancel(ctx)
	if len(published) > 0 {
		if err := r.repo.MarkProcessed(markCtx, published); err != nil {
			return 0, err
		}
	}
	if len(failed) > 0 {
		if err := r.repo.MarkForRetry(markCtx, failed); err != nil {
			return len(published), err
		}
	}
	return len(published), nil
}

// RequeueStale hands batches abandoned by a crashed relay back to PENDING.
func (r *Relay) RequeueStale(ctx context.Context) (int64, error) {
	return r.repo.RequeueStale(ctx, r.now().UTC().Add(-r.claimTimeout))
}

func (r *Relay) requeue(ctx context.Context) {
	if _, err := r.RequeueStale(ctx); err != nil {
		slog.Error("outbox requeue failed", "error", err)
	}
}
