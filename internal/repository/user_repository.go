package repository

import (
	"context"

	"github.com/Ruyllex/rulo-web/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	Transfer(ctx context.Context, senderID, recipientID string, amount int64) (newSenderBalance int64, err error)
}
