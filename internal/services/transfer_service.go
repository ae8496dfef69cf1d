package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/observability"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/Ruyllex/rulo-web/internal/repository"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type TransferService interface {
	Transfer(ctx context.Context, senderID, recipientID string, amount int64) (*models.TransferResult, error)
}

type transferService struct {
	userRepo    repository.UserRepository
	redisClient redis.RedisClient
	retry       RetryPolicy
}

func NewTransferService(userRepo repository.UserRepository, redisClient redis.RedisClient, retry RetryPolicy) *transferService {
	if retry == nil {
		retry = DefaultRetryPolicy
	}
	return &transferService{userRepo: userRepo, redisClient: redisClient, retry: retry}
}

func (s *transferService) Transfer(ctx context.Context, senderID, recipientID string, amount int64) (*models.TransferResult, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("recipient_id", recipientID),
		attribute.Int64("amount", amount),
	)

	recipientID = strings.TrimSpace(recipientID)
	switch {
	case amount <= 0:
		observability.Transfers.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	case recipientID == "":
		observability.Transfers.WithLabelValues("invalid").Inc()
		return nil, pkgerrors.ErrRecipientNotFound
	case senderID == recipientID:
		observability.Transfers.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, "self transfer")
		return nil, pkgerrors.ErrSelfTransfer
	}

	var newBalance int64
	err := withRetry(ctx, s.retry, "Transfer", func() error {
		var err error
		newBalance, err = s.userRepo.Transfer(ctx, senderID, recipientID, amount)
		return err
	})
	if err != nil {
		observability.Transfers.WithLabelValues(transferResult(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer failed")
		slog.Warn("transfer rejected", "sender_id", senderID, "recipient_id", recipientID, "amount", amount, "error", err)
		return nil, err
	}

	observability.Transfers.WithLabelValues("ok").Inc()
	if err := s.redisClient.Del(ctx, redis.BalanceKey(senderID), redis.BalanceKey(recipientID)); err != nil {
		slog.Warn("failed to invalidate balance cache", "sender_id", senderID, "recipient_id", recipientID, "error", err)
	}

	slog.Info("transfer completed", "sender_id", senderID, "recipient_id", recipientID, "amount", amount)
	return &models.TransferResult{
		SenderID:         senderID,
		RecipientID:      recipientID,
		Amount:           amount,
		NewSenderBalance: newBalance,
	}, nil
}

func transferResult(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, pkgerrors.ErrRecipientNotFound):
		return "recipient_not_found"
	case errors.Is(err, pkgerrors.ErrUserNotFound):
		return "sender_not_found"
	default:
		return "error"
	}
}
