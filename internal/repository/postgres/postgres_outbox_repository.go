package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const tracerOutbox = "outbox-repository"

const (
	fetchPendingOutboxQuery = `SELECT id, type, key, payload, created_at FROM outbox WHERE status = 'PENDING' ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED`
	claimOutboxQuery        = `UPDATE outbox SET status = 'PROCESSING', attempts = attempts + 1, claimed_at = NOW() WHERE id = ANY($1)`
	markProcessedQuery      = `UPDATE outbox SET status = 'PROCESSED', claimed_at = NULL WHERE id = ANY($1)`
	markForRetryQuery       = `UPDATE outbox SET status = 'PENDING', claimed_at = NULL WHERE id = ANY($1)`
	requeueStaleOutboxQuery = `UPDATE outbox SET status = 'PENDING', claimed_at = NULL WHERE status = 'PROCESSING' AND claimed_at < $1`
)

type PostgresOutboxRepository struct {
	db *sql.DB
}

func NewPostgresOutboxRepository(db *sql.DB) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

// FetchPending claims a batch of PENDING events, using FOR UPDATE SKIP LOCKED
// so concurrent relays never pick the same rows.
func (r *PostgresOutboxRepository) FetchPending(ctx context.Context, limit int) (_ []models.OutboxEvent, err error) {
	ctx, span, done := startCall(ctx, tracerOutbox, "FetchPendingOutbox")
	defer done(&err)
	span.SetAttributes(attribute.Int("limit", limit))

	dbTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	rows, err := dbTx.QueryContext(ctx, fetchPendingOutboxQuery, limit)
	if err != nil {
		return nil, rollback(dbTx, "FetchPending", fmt.Errorf("failed to fetch outbox: %w", err))
	}

	var events []models.OutboxEvent
	var ids []string
	for rows.Next() {
		var e models.OutboxEvent
		if err = rows.Scan(&e.ID, &e.Type, &e.Key, &e.Payload, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, rollback(dbTx, "FetchPending", err)
		}
		e.Status = models.OutboxStatusProcessing
		events = append(events, e)
		ids = append(ids, e.ID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, rollback(dbTx, "FetchPending", err)
	}

	if len(ids) == 0 {
		if err = dbTx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil, nil
	}

	if _, err = dbTx.ExecContext(ctx, claimOutboxQuery, pq.Array(ids)); err != nil {
		return nil, rollback(dbTx, "FetchPending", fmt.Errorf("failed to claim outbox: %w", err))
	}
	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "FetchPending", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return events, nil
}

func (r *PostgresOutboxRepository) MarkProcessed(ctx context.Context, ids []string) (err error) {
	ctx, _, done := startCall(ctx, tracerOutbox, "MarkOutboxProcessed")
	defer done(&err)

	if len(ids) == 0 {
		return nil
	}
	if _, err = r.db.ExecContext(ctx, markProcessedQuery, pq.Array(ids)); err != nil {
		slog.Error("failed to mark outbox processed", "method", "MarkProcessed", "count", len(ids), "error", err)
		return fmt.Errorf("failed to mark outbox processed: %w", err)
	}
	return nil
}

// MarkForRetry returns claimed events to PENDING so the next tick picks them up.
func (r *PostgresOutboxRepository) MarkForRetry(ctx context.Context, ids []string) (err error) {
	ctx, _, done := startCall(ctx, tracerOutbox, "MarkOutboxForRetry")
	defer done(&err)

	if len(ids) == 0 {
		return nil
	}
	if _, err = r.db.ExecContext(ctx, markForRetryQuery, pq.Array(ids)); err != nil {
		slog.Error("failed to return outbox events", "method", "MarkForRetry", "count", len(ids), "error", err)
		return fmt.Errorf("failed to mark outbox for retry: %w", err)
	}
	return nil
}

// RequeueStale returns rows claimed before claimedBefore to PENDING. A relay
// that died between claiming and marking leaves its batch PROCESSING.
func (r *PostgresOutboxRepository) RequeueStale(ctx context.Context, claimedBefore time.Time) (_ int64, err error) {
	ctx, _, done := startCall(ctx, tracerOutbox, "RequeueStaleOutbox")
	defer done(&err)

	res, err := r.db.ExecContext(ctx, requeueStaleOutboxQuery, claimedBefore)
	if err != nil {
		slog.Error("failed to requeue stale outbox events", "method", "RequeueStale", "error", err)
		return 0, fmt.Errorf("failed to requeue outbox: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		slog.Warn("stale outbox claims requeued", "method", "RequeueStale", "count", n, "claimed_before", claimedBefore)
	}
	return n, nil
}
