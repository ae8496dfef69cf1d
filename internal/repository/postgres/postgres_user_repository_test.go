package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresUserRepository_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		created := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta(selectUserQuery)).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "solcitos_balance", "total_solcitos_earned", "is_prime", "created_at"}).
				AddRow("user-1", "ana", int64(100), int64(300), true, created))

		user, err := repo.GetByID(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, &models.User{ID: "user-1", Username: "ana", SolcitosBalance: 100, TotalSolcitosEarned: 300, IsPrime: true, CreatedAt: created}, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(selectUserQuery)).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByID(ctx, "ghost")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(selectBalanceQuery)).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"solcitos_balance"}).AddRow(int64(42)))

	balance, err := repo.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUserRepository_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockPairQuery)).
			WithArgs("alice", "bob").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("alice").AddRow("bob"))
		mock.ExpectQuery(regexp.QuoteMeta(debitUserQuery)).
			WithArgs(int64(30), "alice").
			WillReturnRows(sqlmock.NewRows([]string{"solcitos_balance"}).AddRow(int64(70)))
		mock.ExpectExec(regexp.QuoteMeta(creditRecipient)).
			WithArgs(int64(30), "bob").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(insertOutboxQuery)).
			WithArgs(sqlmock.AnyArg(), models.EventTransferCompleted, "alice", sqlmock.AnyArg(), models.OutboxStatusPending, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		balance, err := repo.Transfer(ctx, "alice", "bob", 30)
		require.NoError(t, err)
		assert.Equal(t, int64(70), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockPairQuery)).
			WithArgs("alice", "bob").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("alice").AddRow("bob"))
		mock.ExpectQuery(regexp.QuoteMeta(debitUserQuery)).
			WithArgs(int64(500), "alice").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		balance, err := repo.Transfer(ctx, "alice", "bob", 500)
		assert.Equal(t, int64(0), balance)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RecipientNotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockPairQuery)).
			WithArgs("alice", "ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("alice"))
		mock.ExpectRollback()

		_, err := repo.Transfer(ctx, "alice", "ghost", 10)
		assert.ErrorIs(t, err, pkgerrors.ErrRecipientNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SelfTransfer", func(t *testing.T) {
		_, err := repo.Transfer(ctx, "alice", "alice", 10)
		assert.ErrorIs(t, err, pkgerrors.ErrSelfTransfer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		_, err := repo.Transfer(ctx, "alice", "bob", 0)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
