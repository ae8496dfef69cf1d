package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/observability"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/Ruyllex/rulo-web/internal/repository"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultBalanceCacheTTL = 5 * time.Minute
	DefaultHistoryLimit    = 50
	MaxHistoryLimit        = 200
)

type LedgerService interface {
	CreateTransaction(ctx context.Context, nt models.NewTransaction) (*models.Transaction, error)
	CompleteTransaction(ctx context.Context, id, providerRef string) (*models.Transaction, error)
	FailTransaction(ctx context.Context, id, reason string) (*models.Transaction, error)
	AttachProviderRef(ctx context.Context, id, ref string) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetByProviderRef(ctx context.Context, provider models.Provider, ref string) (*models.Transaction, error)
	History(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

type ledgerService struct {
	transactionRepo repository.TransactionRepository
	userRepo        repository.UserRepository
	redisClient     redis.RedisClient
	cacheTTL        time.Duration
	retry           RetryPolicy
}

func NewLedgerService(
	transactionRepo repository.TransactionRepository,
	userRepo repository.UserRepository,
	redisClient redis.RedisClient,
	cacheTTL time.Duration,
	retry RetryPolicy,
) *ledgerService {
	if cacheTTL <= 0 {
		cacheTTL = DefaultBalanceCacheTTL
	}
	if retry == nil {
		retry = DefaultRetryPolicy
	}
	return &ledgerService{
		transactionRepo: transactionRepo,
		userRepo:        userRepo,
		redisClient:     redisClient,
		cacheTTL:        cacheTTL,
		retry:           retry,
	}
}

func (s *ledgerService) CreateTransaction(ctx context.Context, nt models.NewTransaction) (*models.Transaction, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", nt.UserID), attribute.String("provider", string(nt.Provider)))

	if !nt.Amount.IsPositive() || nt.SolcitosAmount <= 0 || nt.BonusAmount < 0 {
		span.SetStatus(codes.Error, "invalid amounts")
		return nil, pkgerrors.ErrInvalidAmount
	}
	if _, err := s.userRepo.GetByID(ctx, nt.UserID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, err
	}

	tx, err := s.transactionRepo.Create(ctx, nt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	observability.LedgerTransactions.WithLabelValues(string(tx.Provider), string(tx.Status)).Inc()
	return tx, nil
}

// CompleteTransaction credits the transaction owner exactly once.
func (s *ledgerService) CompleteTransaction(ctx context.Context, id, providerRef string) (*models.Transaction, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "CompleteTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", id))

	var (
		tx         *models.Transaction
		newBalance int64
	)
	err := withRetry(ctx, s.retry, "CompleteTransaction", func() error {
		var err error
		tx, newBalance, err = s.transactionRepo.Complete(ctx, id, providerRef)
		return err
	})
	if err != nil {
		if !pkgerrors.IsConflict(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "complete failed")
		}
		return tx, err
	}

	observability.LedgerTransactions.WithLabelValues(string(tx.Provider), string(models.StatusCompleted)).Inc()
	observability.CreditedSolcitos.Add(float64(tx.TotalSolcitos()))
	if err := s.redisClient.Del(ctx, redis.BalanceKey(tx.UserID)); err != nil {
		slog.Warn("failed to invalidate balance cache", "user_id", tx.UserID, "error", err)
	}

	slog.Info("solcitos credited",
		"transaction_id", tx.ID,
		"user_id", tx.UserID,
		"provider", tx.Provider,
		"credited", tx.TotalSolcitos(),
		"new_balance", newBalance)
	return tx, nil
}

func (s *ledgerService) FailTransaction(ctx context.Context, id, reason string) (*models.Transaction, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "FailTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", id))

	var tx *models.Transaction
	err := withRetry(ctx, s.retry, "FailTransaction", func() error {
		var err error
		tx, err = s.transactionRepo.Fail(ctx, id, reason)
		return err
	})
	if err != nil {
		if !pkgerrors.IsConflict(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fail failed")
		}
		return tx, err
	}

	observability.LedgerTransactions.WithLabelValues(string(tx.Provider), string(models.StatusFailed)).Inc()
	slog.Info("transaction marked failed", "transaction_id", tx.ID, "user_id", tx.UserID, "reason", reason)
	return tx, nil
}

func (s *ledgerService) AttachProviderRef(ctx context.Context, id, ref string) error {
	if ref == "" {
		return nil
	}
	return s.transactionRepo.AttachProviderRef(ctx, id, ref)
}

func (s *ledgerService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: transaction id is required", pkgerrors.ErrInvalidInput)
	}
	return s.transactionRepo.GetByID(ctx, id)
}

func (s *ledgerService) GetByProviderRef(ctx context.Context, provider models.Provider, ref string) (*models.Transaction, error) {
	return s.transactionRepo.GetByProviderRef(ctx, provider, ref)
}

func (s *ledgerService) History(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.transactionRepo.ListByUser(ctx, userID, limit)
}

// GetBalance reads through the Redis balance cache.
func (s *ledgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	key := redis.BalanceKey(userID)
	cached, err := s.redisClient.Get(ctx, key)
	if err == nil {
		if balance, convErr := strconv.ParseInt(cached, 10, 64); convErr == nil {
			return balance, nil
		}
	} else if !errors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("balance cache unavailable", "user_id", userID, "error", err)
	}

	balance, err := s.userRepo.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.redisClient.Set(ctx, key, balance, s.cacheTTL); err != nil {
		slog.Warn("failed to cache balance", "user_id", userID, "error", err)
	}
	return balance, nil
}
