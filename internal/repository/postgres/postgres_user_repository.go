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
	"go.opentelemetry.io/otel/attribute"
)

const tracerUsers = "user-repository"

const (
	selectUserQuery    = `SELECT id, username, solcitos_balance, total_solcitos_earned, is_prime, created_at FROM users WHERE id = $1`
	selectBalanceQuery = `SELECT solcitos_balance FROM users WHERE id = $1`
	lockPairQuery      = `SELECT id FROM users WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`
	debitUserQuery     = `UPDATE users SET solcitos_balance = solcitos_balance - $1 WHERE id = $2 AND solcitos_balance >= $1 RETURNING solcitos_balance`
	creditRecipient    = `UPDATE users SET solcitos_balance = solcitos_balance + $1, total_solcitos_earned = total_solcitos_earned + $1 WHERE id = $2`
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (_ *models.User, err error) {
	ctx, span, done := startCall(ctx, tracerUsers, "GetUserByID")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", id))

	var user models.User
	err = r.db.QueryRowContext(ctx, selectUserQuery, id).
		Scan(&user.ID, &user.Username, &user.SolcitosBalance, &user.TotalSolcitosEarned, &user.IsPrime, &user.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get user by id", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &user, nil
}

func (r *PostgresUserRepository) GetBalance(ctx context.Context, userID string) (_ int64, err error) {
	ctx, span, done := startCall(ctx, tracerUsers, "GetBalance")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", userID))

	var balance int64
	err = r.db.QueryRowContext(ctx, selectBalanceQuery, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return 0, err
	}
	if err != nil {
		slog.Error("failed to get balance", "method", "GetBalance", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Transfer moves amount from sender to recipient. Both rows are locked in id
// order before the conditional debit, so opposing transfers cannot deadlock
// each other and a failed check leaves both balances untouched.
func (r *PostgresUserRepository) Transfer(ctx context.Context, senderID, recipientID string, amount int64) (_ int64, err error) {
	ctx, span, done := startCall(ctx, tracerUsers, "Transfer")
	defer done(&err)
	span.SetAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("recipient_id", recipientID),
		attribute.Int64("amount", amount),
	)

	if amount <= 0 {
		err = pkgerrors.ErrInvalidAmount
		return 0, err
	}
	if senderID == recipientID {
		err = pkgerrors.ErrSelfTransfer
		return 0, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Transfer", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", mapPQError(err))
	}

	rows, err := dbTx.QueryContext(ctx, lockPairQuery, senderID, recipientID)
	if err != nil {
		err = rollback(dbTx, "Transfer", fmt.Errorf("failed to lock users: %w", mapPQError(err)))
		slog.Error("failed to lock users", "method", "Transfer", "error", err)
		return 0, err
	}
	found := make(map[string]bool, 2)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return 0, rollback(dbTx, "Transfer", err)
		}
		found[id] = true
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, rollback(dbTx, "Transfer", mapPQError(err))
	}
	if !found[recipientID] {
		err = rollback(dbTx, "Transfer", pkgerrors.ErrRecipientNotFound)
		return 0, err
	}
	if !found[senderID] {
		err = rollback(dbTx, "Transfer", pkgerrors.ErrUserNotFound)
		return 0, err
	}

	var newBalance int64
	err = dbTx.QueryRowContext(ctx, debitUserQuery, amount, senderID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, "Transfer", pkgerrors.ErrInsufficientFunds)
		slog.Warn("transfer rejected", "method", "Transfer", "sender_id", senderID, "amount", amount, "reason", "insufficient funds")
		return 0, err
	}
	if err != nil {
		err = rollback(dbTx, "Transfer", fmt.Errorf("failed to debit sender: %w", mapPQError(err)))
		slog.Error("failed to debit sender", "method", "Transfer", "sender_id", senderID, "error", err)
		return 0, err
	}

	if _, err = dbTx.ExecContext(ctx, creditRecipient, amount, recipientID); err != nil {
		err = rollback(dbTx, "Transfer", fmt.Errorf("failed to credit recipient: %w", mapPQError(err)))
		slog.Error("failed to credit recipient", "method", "Transfer", "recipient_id", recipientID, "error", err)
		return 0, err
	}

	err = insertOutbox(ctx, dbTx, models.LedgerEvent{
		Type:       models.EventTransferCompleted,
		UserIDs:    []string{senderID, recipientID},
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		err = rollback(dbTx, "Transfer", err)
		return 0, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Transfer", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", mapPQError(err))
	}

	slog.Info("transfer completed", "method", "Transfer", "sender_id", senderID, "recipient_id", recipientID, "amount", amount, "new_balance", newBalance)
	return newBalance, nil
}
