package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const tracerMemberships = "membership-repository"

const (
	membershipColumns         = `id, user_id, status, price, start_date, end_date`
	getMembershipByUserQuery  = `SELECT ` + membershipColumns + ` FROM prime_memberships WHERE user_id = $1`
	insertPrimePaymentQuery   = `INSERT INTO prime_payments (provider, payment_ref, user_id, amount, paid_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (provider, payment_ref) DO NOTHING`
	upsertMembershipQuery     = `INSERT INTO prime_memberships (id, user_id, status, price, start_date, end_date, updated_at) VALUES ($1, $2, 'active', $3, $4, $4 + INTERVAL '1 month', $4) ON CONFLICT (user_id) DO UPDATE SET status = 'active', price = EXCLUDED.price, end_date = GREATEST(prime_memberships.end_date, EXCLUDED.start_date) + INTERVAL '1 month', updated_at = EXCLUDED.updated_at RETURNING ` + membershipColumns
	setPrimeFlagQuery         = `UPDATE users SET is_prime = TRUE WHERE id = $1`
	cancelMembershipQuery     = `UPDATE prime_memberships SET status = 'canceled', updated_at = $2 WHERE user_id = $1 AND status = 'active' AND end_date >= $2 RETURNING ` + membershipColumns
	selectDueMembershipsQuery = `SELECT id, user_id, status, end_date FROM prime_memberships WHERE status IN ('active', 'canceled') AND end_date < $1 FOR UPDATE SKIP LOCKED`
	expireMembershipsQuery    = `UPDATE prime_memberships SET status = 'expired', updated_at = $2 WHERE id = ANY($1)`
	clearPrimeFlagQuery       = `UPDATE users SET is_prime = FALSE WHERE id = ANY($1) AND NOT EXISTS (SELECT 1 FROM prime_memberships m WHERE m.user_id = users.id AND m.status IN ('active', 'canceled') AND m.end_date >= $2)`
)

type PostgresMembershipRepository struct {
	db *sqlx.DB
}

func NewPostgresMembershipRepository(db *sql.DB) *PostgresMembershipRepository {
	return &PostgresMembershipRepository{db: sqlx.NewDb(db, "postgres")}
}

func (r *PostgresMembershipRepository) GetByUser(ctx context.Context, userID string) (_ *models.PrimeMembership, err error) {
	ctx, _, done := startCall(ctx, tracerMemberships, "GetMembershipByUser")
	defer done(&err)

	var m models.PrimeMembership
	if err = r.db.GetContext(ctx, &m, getMembershipByUserQuery, userID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// Activate stores the payment, then creates the membership or extends it by
// one month from whichever is later, its current end date or the payment
// time. The prime flag is set in the same transaction.
func (r *PostgresMembershipRepository) Activate(ctx context.Context, p models.MembershipPayment) (_ *models.PrimeMembership, err error) {
	ctx, span, done := startCall(ctx, tracerMemberships, "ActivateMembership")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", p.UserID), attribute.String("payment_ref", p.PaymentRef))

	dbTx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx, insertPrimePaymentQuery, string(p.Provider), p.PaymentRef, p.UserID, p.Amount, p.PaidAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			err = pkgerrors.ErrUserNotFound
		}
		return nil, rollback(dbTx.Tx, "Activate", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Info("prime payment already applied", "method", "Activate", "provider", p.Provider, "payment_ref", p.PaymentRef)
		return nil, rollback(dbTx.Tx, "Activate", pkgerrors.ErrRequestAlreadyProcessed)
	}

	var m models.PrimeMembership
	if err = dbTx.QueryRowxContext(ctx, upsertMembershipQuery, uuid.NewString(), p.UserID, p.Amount, p.PaidAt).StructScan(&m); err != nil {
		return nil, rollback(dbTx.Tx, "Activate", fmt.Errorf("failed to upsert membership: %w", mapPQError(err)))
	}
	if _, err = dbTx.ExecContext(ctx, setPrimeFlagQuery, p.UserID); err != nil {
		return nil, rollback(dbTx.Tx, "Activate", fmt.Errorf("failed to set prime flag: %w", err))
	}
	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Activate", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", mapPQError(err))
	}

	slog.Info("prime membership activated", "method", "Activate", "user_id", m.UserID, "end_date", m.EndDate)
	return &m, nil
}

// Cancel stops renewal of the running membership. The user keeps prime
// until the end date, when ExpireDue clears the flag.
func (r *PostgresMembershipRepository) Cancel(ctx context.Context, userID string, now time.Time) (_ *models.PrimeMembership, err error) {
	ctx, _, done := startCall(ctx, tracerMemberships, "CancelMembership")
	defer done(&err)

	var m models.PrimeMembership
	if err = r.db.QueryRowxContext(ctx, cancelMembershipQuery, userID, now).StructScan(&m); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to cancel membership: %w", err)
	}
	slog.Info("prime membership canceled", "method", "Cancel", "user_id", userID, "end_date", m.EndDate)
	return &m, nil
}

// ExpireDue flips every active or canceled membership whose end date passed to expired and
// clears the prime flag of users left without an active membership.
func (r *PostgresMembershipRepository) ExpireDue(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, _, done := startCall(ctx, tracerMemberships, "ExpireMemberships")
	defer done(&err)

	dbTx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var due []models.PrimeMembership
	if err = dbTx.SelectContext(ctx, &due, selectDueMembershipsQuery, now); err != nil {
		return 0, rollback(dbTx.Tx, "ExpireDue", fmt.Errorf("failed to select memberships: %w", err))
	}
	if len(due) == 0 {
		return 0, dbTx.Commit()
	}

	ids := make([]string, 0, len(due))
	userIDs := make([]string, 0, len(due))
	for _, m := range due {
		ids = append(ids, m.ID)
		userIDs = append(userIDs, m.UserID)
	}

	if _, err = dbTx.ExecContext(ctx, expireMembershipsQuery, pq.Array(ids), now); err != nil {
		return 0, rollback(dbTx.Tx, "ExpireDue", fmt.Errorf("failed to expire memberships: %w", err))
	}
	if _, err = dbTx.ExecContext(ctx, clearPrimeFlagQuery, pq.Array(userIDs), now); err != nil {
		return 0, rollback(dbTx.Tx, "ExpireDue", fmt.Errorf("failed to clear prime flag: %w", err))
	}
	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "ExpireDue", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("prime memberships expired", "method", "ExpireDue", "count", len(due))
	return len(due), nil
}
