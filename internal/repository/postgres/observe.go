package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/observability"
	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startCall opens a span for a repository method and returns a finisher that
// records the outcome in the span and the repository metrics.
func startCall(ctx context.Context, tracerName, method string) (context.Context, trace.Span, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	start := time.Now()
	return ctx, span, func(errp *error) {
		status := "success"
		if errp != nil && *errp != nil {
			status = "error"
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// mapPQError turns retryable postgres failures into ErrSerializationFailure.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", pkgerrors.ErrSerializationFailure, pqErr.Message)
		}
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "23503"
}

func rollback(tx *sql.Tx, method string, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		slog.Error("rollback failed", "method", method, "error", rbErr)
		return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
	}
	return err
}

const insertOutboxQuery = `INSERT INTO outbox (id, type, key, payload, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`

func insertOutbox(ctx context.Context, tx *sql.Tx, event models.LedgerEvent) error {
	row, err := models.NewOutboxEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode outbox event: %w", err)
	}
	_, err = tx.ExecContext(ctx, insertOutboxQuery, row.ID, row.Type, row.Key, row.Payload, row.Status, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}
