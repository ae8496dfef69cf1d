package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Ruyllex/rulo-web/internal/catalog"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CheckoutProvider opens a hosted checkout at a payment provider.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, in payments.CheckoutRequest) (*payments.Checkout, error)
}

type PurchaseIntent struct {
	TransactionID string          `json:"transaction_id"`
	CheckoutURL   string          `json:"checkout_url"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	Provider      models.Provider `json:"provider"`
	Package       models.Package  `json:"package"`
}

type PurchaseStatus struct {
	Transaction *models.Transaction `json:"transaction"`
	Balance     *int64              `json:"balance,omitempty"`
}

type PurchaseService interface {
	CreateIntent(ctx context.Context, userID, packageID, method string) (*PurchaseIntent, error)
	Status(ctx context.Context, userID, transactionID string) (*PurchaseStatus, error)
	Packages() []models.Package
}

type purchaseService struct {
	ledger    LedgerService
	catalog   *catalog.Catalog
	providers map[models.Provider]CheckoutProvider
	baseURL   string
}

func NewPurchaseService(ledger LedgerService, cat *catalog.Catalog, providers map[models.Provider]CheckoutProvider, baseURL string) *purchaseService {
	return &purchaseService{
		ledger:    ledger,
		catalog:   cat,
		providers: providers,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (s *purchaseService) Packages() []models.Package {
	return s.catalog.List()
}

// CreateIntent records a PENDING purchase and opens the provider checkout for it.
// A checkout that cannot be opened leaves the transaction FAILED.
func (s *purchaseService) CreateIntent(ctx context.Context, userID, packageID, method string) (*PurchaseIntent, error) {
	tracer := otel.Tracer("purchase-service")
	ctx, span := tracer.Start(ctx, "CreateIntent")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("package_id", packageID), attribute.String("method", method))

	provider, ok := models.ParseProvider(strings.ToLower(method))
	if !ok {
		span.SetStatus(codes.Error, "unsupported method")
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedPaymentMethod, method)
	}
	checkout, ok := s.providers[provider]
	if !ok {
		span.SetStatus(codes.Error, "provider not configured")
		return nil, fmt.Errorf("%w: %s is not configured", pkgerrors.ErrUnsupportedPaymentMethod, method)
	}
	pkg, err := s.catalog.Get(packageID)
	if err != nil {
		span.SetStatus(codes.Error, "unknown package")
		return nil, err
	}

	tx, err := s.ledger.CreateTransaction(ctx, models.NewTransaction{
		UserID:         userID,
		Type:           models.TypePurchase,
		Amount:         pkg.PriceUSD,
		SolcitosAmount: pkg.Amount,
		BonusAmount:    pkg.Bonus,
		Provider:       provider,
		Description:    fmt.Sprintf("Purchase of %d Solcitos", pkg.Solcitos),
		Metadata:       map[string]string{"package_id": pkg.ID, "package_name": pkg.Name},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create transaction failed")
		return nil, err
	}

	req := s.checkoutRequest(tx, pkg, provider)
	result, err := checkout.CreateCheckout(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		slog.Error("checkout creation failed", "transaction_id", tx.ID, "provider", provider, "error", err)
		if _, failErr := s.ledger.FailTransaction(ctx, tx.ID, "checkout creation failed: "+err.Error()); failErr != nil {
			slog.Error("failed to fail transaction after checkout error", "transaction_id", tx.ID, "error", failErr)
		}
		if errors.Is(err, pkgerrors.ErrProviderUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrProviderUnavailable, err)
	}

	if err := s.ledger.AttachProviderRef(ctx, tx.ID, result.ProviderRef); err != nil {
		slog.Warn("failed to attach checkout reference", "transaction_id", tx.ID, "provider_ref", result.ProviderRef, "error", err)
	}

	slog.Info("purchase intent created", "transaction_id", tx.ID, "user_id", userID, "package_id", pkg.ID, "provider", provider)
	return &PurchaseIntent{
		TransactionID: tx.ID,
		CheckoutURL:   result.URL,
		ProviderRef:   result.ProviderRef,
		Provider:      provider,
		Package:       pkg,
	}, nil
}

func (s *purchaseService) checkoutRequest(tx *models.Transaction, pkg models.Package, provider models.Provider) payments.CheckoutRequest {
	q := url.Values{"transaction_id": {tx.ID}}.Encode()
	description := ""
	if pkg.Bonus > 0 {
		description = fmt.Sprintf("Includes %d bonus Solcitos", pkg.Bonus)
	}
	return payments.CheckoutRequest{
		TransactionID:   tx.ID,
		UserID:          tx.UserID,
		PackageID:       pkg.ID,
		Title:           fmt.Sprintf("%d Solcitos", pkg.Solcitos),
		Description:     description,
		Price:           pkg.PriceUSD,
		Currency:        "USD",
		SuccessURL:      s.baseURL + "/payment/success?" + q,
		FailureURL:      s.baseURL + "/payment/failure?" + q,
		PendingURL:      s.baseURL + "/payment/pending?" + q,
		CancelURL:       s.baseURL + "/showcase?cancelled=true",
		ReturnURL:       s.baseURL + "/payment-callback/" + strings.ToLower(string(provider)) + "?" + q,
		NotificationURL: s.baseURL + "/webhooks/" + strings.ToLower(string(provider)),
	}
}

// Status returns a transaction to its owner. Other users get ErrTransactionNotFound.
func (s *purchaseService) Status(ctx context.Context, userID, transactionID string) (*PurchaseStatus, error) {
	tx, err := s.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, pkgerrors.ErrTransactionNotFound
	}

	status := &PurchaseStatus{Transaction: tx}
	if tx.Status == models.StatusCompleted {
		balance, err := s.ledger.GetBalance(ctx, userID)
		if err != nil {
			slog.Warn("failed to read balance for status", "user_id", userID, "error", err)
		} else {
			status.Balance = &balance
		}
	}
	return status, nil
}
