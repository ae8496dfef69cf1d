package repository

import (
	"context"
	"time"

	"github.com/Ruyllex/rulo-web/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, nt models.NewTransaction) (*models.Transaction, error)
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByProviderRef(ctx context.Context, provider models.Provider, ref string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	AttachProviderRef(ctx context.Context, id, ref string) error
	// Complete credits the owner and returns the updated row with the new balance.
	Complete(ctx context.Context, id, providerRef string) (*models.Transaction, int64, error)
	Fail(ctx context.Context, id, reason string) (*models.Transaction, error)
	FailStalePending(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
}
