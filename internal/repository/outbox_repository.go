package repository

import (
	"context"
	"time"

	"github.com/Ruyllex/rulo-web/internal/models"
)

type OutboxRepository interface {
	// FetchPending claims up to limit pending events for the caller.
	FetchPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, ids []string) error
	MarkForRetry(ctx context.Context, ids []string) error
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)
}
