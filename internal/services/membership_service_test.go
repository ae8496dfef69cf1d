package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var membershipNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMembershipFixture(repo *stubMembershipRepo, checkout CheckoutProvider) *membershipService {
	svc := NewMembershipService(repo, checkout, "https://rulo.example/")
	svc.now = func() time.Time { return membershipNow }
	return svc
}

func TestMembershipService_Subscribe(t *testing.T) {
	ctx := context.Background()
	noMembership := func(ctx context.Context, userID string) (*models.PrimeMembership, error) {
		return nil, pkgerrors.ErrMembershipNotFound
	}

	t.Run("OpensPrimeCheckout", func(t *testing.T) {
		var got payments.CheckoutRequest
		checkout := &stubCheckout{createFn: func(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
			got = in
			return &payments.Checkout{URL: "https://mp/checkout", ProviderRef: "pref-1"}, nil
		}}
		svc := newMembershipFixture(&stubMembershipRepo{getFn: noMembership}, checkout)

		result, err := svc.Subscribe(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "https://mp/checkout", result.CheckoutURL)
		assert.Equal(t, models.ProviderMercadoPago, result.Provider)
		assert.Equal(t, models.ProductPrimeMembership, got.ProductType)
		assert.Equal(t, "user-1", got.UserID)
		assert.True(t, got.Price.Equal(PrimePriceUSD))
		assert.Equal(t, "https://rulo.example/webhooks/mercadopago", got.NotificationURL)
		assert.NotEmpty(t, got.TransactionID)
	})

	t.Run("AlreadyPrime", func(t *testing.T) {
		repo := &stubMembershipRepo{getFn: func(ctx context.Context, userID string) (*models.PrimeMembership, error) {
			return &models.PrimeMembership{Status: models.MembershipActive, EndDate: membershipNow.AddDate(0, 0, 10)}, nil
		}}
		svc := newMembershipFixture(repo, &stubCheckout{})

		_, err := svc.Subscribe(ctx, "user-1")
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyPrime)
	})

	t.Run("CanceledMembershipMayRenew", func(t *testing.T) {
		repo := &stubMembershipRepo{getFn: func(ctx context.Context, userID string) (*models.PrimeMembership, error) {
			return &models.PrimeMembership{Status: models.MembershipCanceled, EndDate: membershipNow.AddDate(0, 0, 10)}, nil
		}}
		checkout := &stubCheckout{createFn: func(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
			return &payments.Checkout{URL: "https://mp/checkout"}, nil
		}}

		_, err := newMembershipFixture(repo, checkout).Subscribe(ctx, "user-1")
		assert.NoError(t, err)
	})

	t.Run("CheckoutFailure", func(t *testing.T) {
		checkout := &stubCheckout{createFn: func(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
			return nil, errors.New("connection reset")
		}}

		_, err := newMembershipFixture(&stubMembershipRepo{getFn: noMembership}, checkout).Subscribe(ctx, "user-1")
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)
	})

	t.Run("ProviderNotConfigured", func(t *testing.T) {
		svc := NewMembershipService(&stubMembershipRepo{getFn: noMembership}, nil, "https://rulo.example")
		_, err := svc.Subscribe(ctx, "user-1")
		assert.ErrorIs(t, err, pkgerrors.ErrUnsupportedPaymentMethod)
	})
}

func TestMembershipService_Activate(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultsAmountAndTime", func(t *testing.T) {
		var got models.MembershipPayment
		repo := &stubMembershipRepo{activateFn: func(ctx context.Context, p models.MembershipPayment) (*models.PrimeMembership, error) {
			got = p
			return &models.PrimeMembership{UserID: p.UserID, Status: models.MembershipActive, EndDate: p.PaidAt.AddDate(0, 1, 0)}, nil
		}}

		m, err := newMembershipFixture(repo, nil).Activate(ctx, models.MembershipPayment{
			UserID:     "user-1",
			Provider:   models.ProviderMercadoPago,
			PaymentRef: "9001",
		})
		require.NoError(t, err)
		assert.Equal(t, membershipNow.AddDate(0, 1, 0), m.EndDate)
		assert.Equal(t, membershipNow, got.PaidAt)
		assert.True(t, got.Amount.Equal(PrimePriceUSD))
	})

	t.Run("Underpaid", func(t *testing.T) {
		_, err := newMembershipFixture(&stubMembershipRepo{}, nil).Activate(ctx, models.MembershipPayment{
			UserID:     "user-1",
			PaymentRef: "9001",
			Amount:     decimal.RequireFromString("1.00"),
		})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("MissingReference", func(t *testing.T) {
		_, err := newMembershipFixture(&stubMembershipRepo{}, nil).Activate(ctx, models.MembershipPayment{UserID: "user-1"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("ReplayPassesThrough", func(t *testing.T) {
		repo := &stubMembershipRepo{activateFn: func(ctx context.Context, p models.MembershipPayment) (*models.PrimeMembership, error) {
			return nil, pkgerrors.ErrRequestAlreadyProcessed
		}}
		_, err := newMembershipFixture(repo, nil).Activate(ctx, models.MembershipPayment{UserID: "user-1", PaymentRef: "9001"})
		assert.ErrorIs(t, err, pkgerrors.ErrRequestAlreadyProcessed)
	})
}

func TestMembershipService_Cancel(t *testing.T) {
	var gotNow time.Time
	repo := &stubMembershipRepo{cancelFn: func(ctx context.Context, userID string, now time.Time) (*models.PrimeMembership, error) {
		gotNow = now
		return &models.PrimeMembership{UserID: userID, Status: models.MembershipCanceled, EndDate: now.AddDate(0, 0, 5)}, nil
	}}

	m, err := newMembershipFixture(repo, nil).Cancel(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, membershipNow, gotNow)
	assert.Equal(t, models.MembershipCanceled, m.Status)
}
