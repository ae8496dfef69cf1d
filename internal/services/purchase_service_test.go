package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Ruyllex/rulo-web/internal/catalog"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPurchaseFixture(t *testing.T, checkout CheckoutProvider) (*purchaseService, *stubTransactionRepo) {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)

	repo := &stubTransactionRepo{
		createFn: func(ctx context.Context, nt models.NewTransaction) (*models.Transaction, error) {
			return &models.Transaction{
				ID:             "tx-1",
				UserID:         nt.UserID,
				Type:           nt.Type,
				Status:         models.StatusPending,
				Amount:         nt.Amount,
				SolcitosAmount: nt.SolcitosAmount,
				BonusAmount:    nt.BonusAmount,
				Provider:       nt.Provider,
			}, nil
		},
	}
	ledger := NewLedgerService(repo, &stubUserRepo{}, redis.NewMemoryClient(), 0, noWaitRetry)
	providers := map[models.Provider]CheckoutProvider{models.ProviderPayPal: checkout}
	return NewPurchaseService(ledger, cat, providers, "https://rulo.example/"), repo
}

func TestPurchaseService_CreateIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		var req payments.CheckoutRequest
		checkout := &stubCheckout{createFn: func(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
			req = in
			return &payments.Checkout{URL: "https://paypal/approve", ProviderRef: "ORDER-1"}, nil
		}}
		svc, repo := newPurchaseFixture(t, checkout)
		var attached string
		repo.attachFn = func(ctx context.Context, id, ref string) error {
			attached = ref
			return nil
		}

		intent, err := svc.CreateIntent(ctx, "user-1", "pack_510", "PayPal")
		require.NoError(t, err)
		assert.Equal(t, "tx-1", intent.TransactionID)
		assert.Equal(t, "https://paypal/approve", intent.CheckoutURL)
		assert.Equal(t, models.ProviderPayPal, intent.Provider)
		assert.Equal(t, "ORDER-1", attached)
		assert.Equal(t, "4.99", req.Price.StringFixed(2))
		assert.Equal(t, "https://rulo.example/payment-callback/paypal?transaction_id=tx-1", req.ReturnURL)
		assert.Equal(t, "https://rulo.example/webhooks/paypal", req.NotificationURL)
	})

	t.Run("UnknownPackage", func(t *testing.T) {
		svc, _ := newPurchaseFixture(t, &stubCheckout{})
		_, err := svc.CreateIntent(ctx, "user-1", "pack_0", "paypal")
		assert.ErrorIs(t, err, pkgerrors.ErrPackageNotFound)
	})

	t.Run("UnsupportedMethod", func(t *testing.T) {
		svc, _ := newPurchaseFixture(t, &stubCheckout{})
		_, err := svc.CreateIntent(ctx, "user-1", "pack_510", "bitcoin")
		assert.ErrorIs(t, err, pkgerrors.ErrUnsupportedPaymentMethod)

		_, err = svc.CreateIntent(ctx, "user-1", "pack_510", "stripe")
		assert.ErrorIs(t, err, pkgerrors.ErrUnsupportedPaymentMethod)
	})

	t.Run("CheckoutFailureFailsTransaction", func(t *testing.T) {
		checkout := &stubCheckout{createFn: func(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
			return nil, errors.New("connection refused")
		}}
		svc, repo := newPurchaseFixture(t, checkout)
		var failedReason string
		repo.failFn = func(ctx context.Context, id, reason string) (*models.Transaction, error) {
			failedReason = reason
			tx := &models.Transaction{ID: id, Status: models.StatusFailed, Provider: models.ProviderPayPal}
			return tx, nil
		}

		intent, err := svc.CreateIntent(ctx, "user-1", "pack_510", "paypal")
		assert.Nil(t, intent)
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)
		assert.True(t, strings.HasPrefix(failedReason, "checkout creation failed"))
	})
}

func TestPurchaseService_Status(t *testing.T) {
	ctx := context.Background()
	svc, repo := newPurchaseFixture(t, &stubCheckout{})

	t.Run("CompletedIncludesBalance", func(t *testing.T) {
		repo.getByIDFn = func(ctx context.Context, id string) (*models.Transaction, error) {
			return &models.Transaction{ID: id, UserID: "user-1", Status: models.StatusCompleted}, nil
		}
		svc.ledger.(*ledgerService).userRepo = &stubUserRepo{getBalanceFn: func(ctx context.Context, id string) (int64, error) {
			return 510, nil
		}}

		status, err := svc.Status(ctx, "user-1", "tx-1")
		require.NoError(t, err)
		require.NotNil(t, status.Balance)
		assert.Equal(t, int64(510), *status.Balance)
	})

	t.Run("OtherUsersCannotSee", func(t *testing.T) {
		repo.getByIDFn = func(ctx context.Context, id string) (*models.Transaction, error) {
			return &models.Transaction{ID: id, UserID: "user-1", Status: models.StatusPending}, nil
		}

		_, err := svc.Status(ctx, "user-2", "tx-1")
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
	})

	t.Run("MissingID", func(t *testing.T) {
		_, err := svc.Status(ctx, "user-1", "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}
