package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/Ruyllex/rulo-web/internal/repository"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PrimePriceUSD is the price of one membership month.
var PrimePriceUSD = decimal.RequireFromString("3.99")

type MembershipCheckout struct {
	CheckoutURL string          `json:"checkout_url"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	Provider    models.Provider `json:"provider"`
	Price       decimal.Decimal `json:"price"`
}

type MembershipService interface {
	Subscribe(ctx context.Context, userID string) (*MembershipCheckout, error)
	Activate(ctx context.Context, payment models.MembershipPayment) (*models.PrimeMembership, error)
	Cancel(ctx context.Context, userID string) (*models.PrimeMembership, error)
	Get(ctx context.Context, userID string) (*models.PrimeMembership, error)
}

// membershipService sells prime months through MercadoPago, whose webhook
// carries the product type back to the reconciler.
type membershipService struct {
	membershipRepo repository.MembershipRepository
	checkout       CheckoutProvider
	baseURL        string
	now            func() time.Time
}

func NewMembershipService(membershipRepo repository.MembershipRepository, checkout CheckoutProvider, baseURL string) *membershipService {
	return &membershipService{
		membershipRepo: membershipRepo,
		checkout:       checkout,
		baseURL:        strings.TrimRight(baseURL, "/"),
		now:            time.Now,
	}
}

func (s *membershipService) Subscribe(ctx context.Context, userID string) (*MembershipCheckout, error) {
	tracer := otel.Tracer("membership-service")
	ctx, span := tracer.Start(ctx, "Subscribe")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	if s.checkout == nil {
		span.SetStatus(codes.Error, "provider not configured")
		return nil, fmt.Errorf("%w: mercadopago is not configured", pkgerrors.ErrUnsupportedPaymentMethod)
	}

	current, err := s.membershipRepo.GetByUser(ctx, userID)
	switch {
	case err == nil && current.Status == models.MembershipActive && current.Grants(s.now()):
		span.SetStatus(codes.Error, "already prime")
		return nil, pkgerrors.ErrAlreadyPrime
	case err != nil && !errors.Is(err, pkgerrors.ErrMembershipNotFound):
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership lookup failed")
		return nil, err
	}

	result, err := s.checkout.CreateCheckout(ctx, payments.CheckoutRequest{
		TransactionID:   uuid.NewString(),
		UserID:          userID,
		PackageID:       models.ProductPrimeMembership,
		Title:           "Prime membership - 1 month",
		Description:     "One month of prime benefits",
		Price:           PrimePriceUSD,
		Currency:        "USD",
		SuccessURL:      s.baseURL + "/prime?success=true",
		FailureURL:      s.baseURL + "/prime?error=payment_failed",
		PendingURL:      s.baseURL + "/prime?pending=true",
		CancelURL:       s.baseURL + "/prime?cancelled=true",
		NotificationURL: s.baseURL + "/webhooks/mercadopago",
		ProductType:     models.ProductPrimeMembership,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		slog.Error("prime checkout creation failed", "user_id", userID, "error", err)
		if errors.Is(err, pkgerrors.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrProviderUnavailable, err)
	}

	slog.Info("prime checkout created", "user_id", userID, "provider_ref", result.ProviderRef)
	return &MembershipCheckout{
		CheckoutURL: result.URL,
		ProviderRef: result.ProviderRef,
		Provider:    models.ProviderMercadoPago,
		Price:       PrimePriceUSD,
	}, nil
}

// Activate grants the month a verified payment bought. Underpaid payments
// are refused.
func (s *membershipService) Activate(ctx context.Context, payment models.MembershipPayment) (*models.PrimeMembership, error) {
	tracer := otel.Tracer("membership-service")
	ctx, span := tracer.Start(ctx, "Activate")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", payment.UserID), attribute.String("payment_ref", payment.PaymentRef))

	if payment.UserID == "" || payment.PaymentRef == "" {
		span.SetStatus(codes.Error, "incomplete payment")
		return nil, fmt.Errorf("%w: membership payment needs a user and a payment reference", pkgerrors.ErrInvalidInput)
	}
	if payment.Amount.IsZero() {
		payment.Amount = PrimePriceUSD
	}
	if payment.Amount.LessThan(PrimePriceUSD) {
		span.SetStatus(codes.Error, "underpaid")
		slog.Error("prime payment below price", "user_id", payment.UserID, "payment_ref", payment.PaymentRef, "amount", payment.Amount)
		return nil, fmt.Errorf("%w: paid %s, prime costs %s", pkgerrors.ErrInvalidInput, payment.Amount, PrimePriceUSD)
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = s.now().UTC()
	}

	m, err := s.membershipRepo.Activate(ctx, payment)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "activate failed")
		}
		return nil, err
	}
	return m, nil
}

// Cancel stops the membership from being treated as running. Benefits last
// until its end date.
func (s *membershipService) Cancel(ctx context.Context, userID string) (*models.PrimeMembership, error) {
	return s.membershipRepo.Cancel(ctx, userID, s.now().UTC())
}

func (s *membershipService) Get(ctx context.Context, userID string) (*models.PrimeMembership, error) {
	return s.membershipRepo.GetByUser(ctx, userID)
}
