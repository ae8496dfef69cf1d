package service

import (
	"context"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/cenkalti/backoff/v4"
)

type stubTransactionRepo struct {
	createFn           func(ctx context.Context, nt models.NewTransaction) (*models.Transaction, error)
	getByIDFn          func(ctx context.Context, id string) (*models.Transaction, error)
	getByProviderRefFn func(ctx context.Context, provider models.Provider, ref string) (*models.Transaction, error)
	listByUserFn       func(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	attachFn           func(ctx context.Context, id, ref string) error
	completeFn         func(ctx context.Context, id, ref string) (*models.Transaction, int64, error)
	failFn             func(ctx context.Context, id, reason string) (*models.Transaction, error)
	failStaleFn        func(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
}

func (s *stubTransactionRepo) Create(ctx context.Context, nt models.NewTransaction) (*models.Transaction, error) {
	return s.createFn(ctx, nt)
}

func (s *stubTransactionRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return s.getByIDFn(ctx, id)
}

func (s *stubTransactionRepo) GetByProviderRef(ctx context.Context, provider models.Provider, ref string) (*models.Transaction, error) {
	return s.getByProviderRefFn(ctx, provider, ref)
}

func (s *stubTransactionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	return s.listByUserFn(ctx, userID, limit)
}

func (s *stubTransactionRepo) AttachProviderRef(ctx context.Context, id, ref string) error {
	if s.attachFn == nil {
		return nil
	}
	return s.attachFn(ctx, id, ref)
}

func (s *stubTransactionRepo) Complete(ctx context.Context, id, ref string) (*models.Transaction, int64, error) {
	return s.completeFn(ctx, id, ref)
}

func (s *stubTransactionRepo) Fail(ctx context.Context, id, reason string) (*models.Transaction, error) {
	return s.failFn(ctx, id, reason)
}

func (s *stubTransactionRepo) FailStalePending(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	return s.failStaleFn(ctx, cutoff, reason)
}

type stubUserRepo struct {
	getByIDFn    func(ctx context.Context, id string) (*models.User, error)
	getBalanceFn func(ctx context.Context, id string) (int64, error)
	transferFn   func(ctx context.Context, sender, recipient string, amount int64) (int64, error)
}

func (s *stubUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if s.getByIDFn == nil {
		return &models.User{ID: id}, nil
	}
	return s.getByIDFn(ctx, id)
}

func (s *stubUserRepo) GetBalance(ctx context.Context, id string) (int64, error) {
	return s.getBalanceFn(ctx, id)
}

func (s *stubUserRepo) Transfer(ctx context.Context, sender, recipient string, amount int64) (int64, error) {
	return s.transferFn(ctx, sender, recipient, amount)
}

type stubMembershipRepo struct {
	getFn      func(ctx context.Context, userID string) (*models.PrimeMembership, error)
	activateFn func(ctx context.Context, p models.MembershipPayment) (*models.PrimeMembership, error)
	cancelFn   func(ctx context.Context, userID string, now time.Time) (*models.PrimeMembership, error)
	expireFn   func(ctx context.Context, now time.Time) (int, error)
}

func (s *stubMembershipRepo) GetByUser(ctx context.Context, userID string) (*models.PrimeMembership, error) {
	return s.getFn(ctx, userID)
}

func (s *stubMembershipRepo) Activate(ctx context.Context, p models.MembershipPayment) (*models.PrimeMembership, error) {
	return s.activateFn(ctx, p)
}

func (s *stubMembershipRepo) Cancel(ctx context.Context, userID string, now time.Time) (*models.PrimeMembership, error) {
	return s.cancelFn(ctx, userID, now)
}

func (s *stubMembershipRepo) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	return s.expireFn(ctx, now)
}

type stubCheckout struct {
	createFn func(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error)
}

func (s *stubCheckout) CreateCheckout(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error) {
	return s.createFn(ctx, in)
}

func noWaitRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}
