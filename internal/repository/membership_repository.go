package repository

import (
	"context"
	"time"

	"github.com/Ruyllex/rulo-web/internal/models"
)

type MembershipRepository interface {
	GetByUser(ctx context.Context, userID string) (*models.PrimeMembership, error)
	// Activate records the payment and grants one month, extending a
	// membership that is still running. A payment seen before returns
	// errors.ErrRequestAlreadyProcessed.
	Activate(ctx context.Context, payment models.MembershipPayment) (*models.PrimeMembership, error)
	Cancel(ctx context.Context, userID string, now time.Time) (*models.PrimeMembership, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}
