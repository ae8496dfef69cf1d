package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const tracerTransactions = "transaction-repository"

const transactionColumns = `id, user_id, type, status, amount, solcitos_amount, bonus_amount, provider, provider_ref, description, metadata, failure_reason, created_at, processed_at`

const (
	insertTransactionQuery   = `INSERT INTO transactions (id, user_id, type, status, amount, solcitos_amount, bonus_amount, provider, description, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	selectTransactionQuery   = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	lockTransactionQuery     = selectTransactionQuery + ` FOR UPDATE`
	selectByProviderRefQuery = `SELECT ` + transactionColumns + ` FROM transactions WHERE provider = $1 AND provider_ref = $2 ORDER BY created_at DESC LIMIT 1`
	listByUserQuery          = `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	attachProviderRefQuery   = `UPDATE transactions SET provider_ref = $2 WHERE id = $1 AND status = 'PENDING'`
	completeTransactionQuery = `UPDATE transactions SET status = $2, provider_ref = $3, processed_at = $4 WHERE id = $1`
	creditUserQuery          = `UPDATE users SET solcitos_balance = solcitos_balance + $1, total_solcitos_earned = total_solcitos_earned + $1 WHERE id = $2 RETURNING solcitos_balance`
	failTransactionQuery     = `UPDATE transactions SET status = $2, failure_reason = $3, processed_at = $4 WHERE id = $1`
	failStalePendingQuery    = `UPDATE transactions SET status = 'FAILED', failure_reason = $1, processed_at = $2 WHERE status = 'PENDING' AND created_at < $3 RETURNING id, user_id, provider`
)

// transactionRow mirrors the transactions table for scanning.
type transactionRow struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	Type           string          `db:"type"`
	Status         string          `db:"status"`
	Amount         decimal.Decimal `db:"amount"`
	SolcitosAmount int64           `db:"solcitos_amount"`
	BonusAmount    int64           `db:"bonus_amount"`
	Provider       string          `db:"provider"`
	ProviderRef    sql.NullString  `db:"provider_ref"`
	Description    string          `db:"description"`
	Metadata       []byte          `db:"metadata"`
	FailureReason  sql.NullString  `db:"failure_reason"`
	CreatedAt      time.Time       `db:"created_at"`
	ProcessedAt    sql.NullTime    `db:"processed_at"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionRow(s rowScanner) (*transactionRow, error) {
	var r transactionRow
	err := s.Scan(&r.ID, &r.UserID, &r.Type, &r.Status, &r.Amount, &r.SolcitosAmount, &r.BonusAmount,
		&r.Provider, &r.ProviderRef, &r.Description, &r.Metadata, &r.FailureReason, &r.CreatedAt, &r.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *transactionRow) toModel() *models.Transaction {
	tx := &models.Transaction{
		ID:             r.ID,
		UserID:         r.UserID,
		Type:           models.TransactionType(r.Type),
		Status:         models.StatusType(r.Status),
		Amount:         r.Amount,
		SolcitosAmount: r.SolcitosAmount,
		BonusAmount:    r.BonusAmount,
		Provider:       models.Provider(r.Provider),
		Description:    r.Description,
		CreatedAt:      r.CreatedAt,
	}
	if r.ProviderRef.Valid {
		ref := r.ProviderRef.String
		tx.ProviderRef = &ref
	}
	if r.FailureReason.Valid {
		reason := r.FailureReason.String
		tx.FailureReason = &reason
	}
	if r.ProcessedAt.Valid {
		at := r.ProcessedAt.Time
		tx.ProcessedAt = &at
	}
	if len(r.Metadata) > 0 {
		var meta map[string]string
		if err := json.Unmarshal(r.Metadata, &meta); err == nil && len(meta) > 0 {
			tx.Metadata = meta
		}
	}
	return tx
}

type PostgresTransactionRepository struct {
	db  *sql.DB
	dbx *sqlx.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db, dbx: sqlx.NewDb(db, "postgres")}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, nt models.NewTransaction) (_ *models.Transaction, err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "CreateTransaction")
	defer done(&err)

	if nt.Type != models.TypePurchase {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Create", "type", nt.Type, "error", err)
		return nil, err
	}
	switch nt.Provider {
	case models.ProviderMercadoPago, models.ProviderPayPal, models.ProviderStripe:
	default:
		err = pkgerrors.ErrInvalidProvider
		slog.Error("invalid provider", "method", "Create", "provider", nt.Provider, "error", err)
		return nil, err
	}
	if !nt.Amount.IsPositive() || nt.SolcitosAmount <= 0 || nt.BonusAmount < 0 {
		err = fmt.Errorf("%w: amount %s, solcitos %d, bonus %d", pkgerrors.ErrInvalidAmount, nt.Amount, nt.SolcitosAmount, nt.BonusAmount)
		slog.Error("invalid transaction amounts", "method", "Create", "user_id", nt.UserID, "error", err)
		return nil, err
	}

	meta := []byte("{}")
	if len(nt.Metadata) > 0 {
		if meta, err = json.Marshal(nt.Metadata); err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	tx := &models.Transaction{
		ID:             uuid.NewString(),
		UserID:         nt.UserID,
		Type:           nt.Type,
		Status:         models.StatusPending,
		Amount:         nt.Amount,
		SolcitosAmount: nt.SolcitosAmount,
		BonusAmount:    nt.BonusAmount,
		Provider:       nt.Provider,
		Description:    nt.Description,
		Metadata:       nt.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	span.SetAttributes(
		attribute.String("transaction_id", tx.ID),
		attribute.String("user_id", tx.UserID),
		attribute.String("provider", string(tx.Provider)),
		attribute.Int64("solcitos", tx.TotalSolcitos()),
	)

	_, err = r.db.ExecContext(ctx, insertTransactionQuery,
		tx.ID, tx.UserID, tx.Type, tx.Status, tx.Amount, tx.SolcitosAmount, tx.BonusAmount,
		tx.Provider, tx.Description, meta, tx.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			err = pkgerrors.ErrUserNotFound
			slog.Error("transaction owner not found", "method", "Create", "user_id", tx.UserID)
			return nil, err
		}
		slog.Error("failed to create transaction", "method", "Create", "user_id", tx.UserID, "error", err)
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "transaction_id", tx.ID, "user_id", tx.UserID, "provider", tx.Provider, "solcitos", tx.TotalSolcitos())
	return tx, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id string) (_ *models.Transaction, err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "GetTransactionByID")
	defer done(&err)
	span.SetAttributes(attribute.String("transaction_id", id))

	row, err := scanTransactionRow(r.db.QueryRowContext(ctx, selectTransactionQuery, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return row.toModel(), nil
}

func (r *PostgresTransactionRepository) GetByProviderRef(ctx context.Context, provider models.Provider, ref string) (_ *models.Transaction, err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "GetTransactionByProviderRef")
	defer done(&err)
	span.SetAttributes(attribute.String("provider", string(provider)), attribute.String("provider_ref", ref))

	row, err := scanTransactionRow(r.db.QueryRowContext(ctx, selectByProviderRefQuery, provider, ref))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by provider ref", "method", "GetByProviderRef", "provider", provider, "error", err)
		return nil, fmt.Errorf("failed to get transaction by provider ref: %w", err)
	}
	return row.toModel(), nil
}

func (r *PostgresTransactionRepository) ListByUser(ctx context.Context, userID string, limit int) (_ []models.Transaction, err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "ListTransactionsByUser")
	defer done(&err)
	span.SetAttributes(attribute.String("user_id", userID), attribute.Int("limit", limit))

	var rows []transactionRow
	if err = r.dbx.SelectContext(ctx, &rows, listByUserQuery, userID, limit); err != nil {
		slog.Error("failed to list transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	out := make([]models.Transaction, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].toModel())
	}
	return out, nil
}

func (r *PostgresTransactionRepository) AttachProviderRef(ctx context.Context, id, ref string) (err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "AttachProviderRef")
	defer done(&err)
	span.SetAttributes(attribute.String("transaction_id", id), attribute.String("provider_ref", ref))

	if _, err = r.db.ExecContext(ctx, attachProviderRefQuery, id, ref); err != nil {
		slog.Error("failed to attach provider ref", "method", "AttachProviderRef", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to attach provider ref: %w", err)
	}
	return nil
}

// Complete moves a PENDING transaction to COMPLETED and credits its owner in
// one database transaction. The row is locked first, so two concurrent
// completions serialize and the loser sees ErrTransactionAlreadyCompleted.
func (r *PostgresTransactionRepository) Complete(ctx context.Context, id, providerRef string) (_ *models.Transaction, _ int64, err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "CompleteTransaction")
	defer done(&err)
	span.SetAttributes(attribute.String("transaction_id", id))

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Complete", "error", err)
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", mapPQError(err))
	}

	row, err := scanTransactionRow(dbTx.QueryRowContext(ctx, lockTransactionQuery, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, "Complete", pkgerrors.ErrTransactionNotFound)
		return nil, 0, err
	}
	if err != nil {
		err = rollback(dbTx, "Complete", fmt.Errorf("failed to lock transaction: %w", mapPQError(err)))
		slog.Error("failed to lock transaction", "method", "Complete", "transaction_id", id, "error", err)
		return nil, 0, err
	}

	tx := row.toModel()
	switch tx.Status {
	case models.StatusPending:
	case models.StatusCompleted:
		err = rollback(dbTx, "Complete", pkgerrors.ErrTransactionAlreadyCompleted)
		return tx, 0, err
	default:
		err = rollback(dbTx, "Complete", fmt.Errorf("%w: status %s", pkgerrors.ErrTransactionNotPending, tx.Status))
		return tx, 0, err
	}

	if providerRef == "" && tx.ProviderRef != nil {
		providerRef = *tx.ProviderRef
	}
	if providerRef == "" {
		err = rollback(dbTx, "Complete", pkgerrors.ErrMissingProviderReference)
		return tx, 0, err
	}

	now := time.Now().UTC()
	if _, err = dbTx.ExecContext(ctx, completeTransactionQuery, id, models.StatusCompleted, providerRef, now); err != nil {
		err = rollback(dbTx, "Complete", fmt.Errorf("failed to update transaction: %w", mapPQError(err)))
		slog.Error("failed to update transaction", "method", "Complete", "transaction_id", id, "error", err)
		return nil, 0, err
	}

	var newBalance int64
	err = dbTx.QueryRowContext(ctx, creditUserQuery, tx.TotalSolcitos(), tx.UserID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, "Complete", pkgerrors.ErrUserNotFound)
		slog.Error("transaction owner missing", "method", "Complete", "transaction_id", id, "user_id", tx.UserID)
		return nil, 0, err
	}
	if err != nil {
		err = rollback(dbTx, "Complete", fmt.Errorf("failed to credit user: %w", mapPQError(err)))
		slog.Error("failed to credit user", "method", "Complete", "user_id", tx.UserID, "error", err)
		return nil, 0, err
	}

	err = insertOutbox(ctx, dbTx, models.LedgerEvent{
		Type:          models.EventTransactionCompleted,
		TransactionID: tx.ID,
		UserIDs:       []string{tx.UserID},
		Amount:        tx.TotalSolcitos(),
		Provider:      tx.Provider,
		OccurredAt:    now,
	})
	if err != nil {
		err = rollback(dbTx, "Complete", err)
		slog.Error("failed to write outbox", "method", "Complete", "transaction_id", id, "error", err)
		return nil, 0, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Complete", "error", err)
		return nil, 0, fmt.Errorf("failed to commit transaction: %w", mapPQError(err))
	}

	tx.Status = models.StatusCompleted
	tx.ProviderRef = &providerRef
	tx.ProcessedAt = &now
	slog.Info("transaction completed", "method", "Complete", "transaction_id", id, "user_id", tx.UserID, "credited", tx.TotalSolcitos(), "new_balance", newBalance)
	return tx, newBalance, nil
}

// Fail marks a transaction FAILED. COMPLETED rows are never touched.
func (r *PostgresTransactionRepository) Fail(ctx context.Context, id, reason string) (_ *models.Transaction, err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "FailTransaction")
	defer done(&err)
	span.SetAttributes(attribute.String("transaction_id", id))

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Fail", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", mapPQError(err))
	}

	row, err := scanTransactionRow(dbTx.QueryRowContext(ctx, lockTransactionQuery, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, "Fail", pkgerrors.ErrTransactionNotFound)
		return nil, err
	}
	if err != nil {
		err = rollback(dbTx, "Fail", fmt.Errorf("failed to lock transaction: %w", mapPQError(err)))
		slog.Error("failed to lock transaction", "method", "Fail", "transaction_id", id, "error", err)
		return nil, err
	}

	tx := row.toModel()
	if tx.Status == models.StatusCompleted {
		err = rollback(dbTx, "Fail", pkgerrors.ErrTransactionAlreadyCompleted)
		return tx, err
	}

	now := time.Now().UTC()
	if _, err = dbTx.ExecContext(ctx, failTransactionQuery, id, models.StatusFailed, reason, now); err != nil {
		err = rollback(dbTx, "Fail", fmt.Errorf("failed to update transaction: %w", mapPQError(err)))
		slog.Error("failed to update transaction", "method", "Fail", "transaction_id", id, "error", err)
		return nil, err
	}

	err = insertOutbox(ctx, dbTx, models.LedgerEvent{
		Type:          models.EventTransactionFailed,
		TransactionID: tx.ID,
		UserIDs:       []string{tx.UserID},
		Provider:      tx.Provider,
		OccurredAt:    now,
	})
	if err != nil {
		err = rollback(dbTx, "Fail", err)
		return nil, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Fail", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", mapPQError(err))
	}

	tx.Status = models.StatusFailed
	tx.FailureReason = &reason
	tx.ProcessedAt = &now
	slog.Info("transaction failed", "method", "Fail", "transaction_id", id, "user_id", tx.UserID, "reason", reason)
	return tx, nil
}

// FailStalePending fails every PENDING transaction created before cutoff and
// returns their ids.
func (r *PostgresTransactionRepository) FailStalePending(ctx context.Context, cutoff time.Time, reason string) (_ []string, err error) {
	ctx, span, done := startCall(ctx, tracerTransactions, "FailStalePending")
	defer done(&err)
	span.SetAttributes(attribute.String("cutoff", cutoff.Format(time.RFC3339)))

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapPQError(err))
	}

	now := time.Now().UTC()
	rows, err := dbTx.QueryContext(ctx, failStalePendingQuery, reason, now, cutoff)
	if err != nil {
		err = rollback(dbTx, "FailStalePending", fmt.Errorf("failed to fail stale transactions: %w", mapPQError(err)))
		slog.Error("failed to fail stale transactions", "method", "FailStalePending", "error", err)
		return nil, err
	}

	var events []models.LedgerEvent
	var ids []string
	for rows.Next() {
		var id, userID, provider string
		if err = rows.Scan(&id, &userID, &provider); err != nil {
			rows.Close()
			return nil, rollback(dbTx, "FailStalePending", err)
		}
		ids = append(ids, id)
		events = append(events, models.LedgerEvent{
			Type:          models.EventTransactionFailed,
			TransactionID: id,
			UserIDs:       []string{userID},
			Provider:      models.Provider(provider),
			OccurredAt:    now,
		})
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, rollback(dbTx, "FailStalePending", err)
	}

	for _, e := range events {
		if err = insertOutbox(ctx, dbTx, e); err != nil {
			return nil, rollback(dbTx, "FailStalePending", err)
		}
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "FailStalePending", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", mapPQError(err))
	}

	if len(ids) > 0 {
		slog.Info("stale pending transactions failed", "method", "FailStalePending", "count", len(ids), "cutoff", cutoff)
	}
	return ids, nil
}
