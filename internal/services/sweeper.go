package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Ruyllex/rulo-web/internal/repository"
)

const StaleFailureReason = "expired: no provider confirmation"

type SweepResult struct {
	FailedTransactions int `json:"failed_transactions"`
	ExpiredMemberships int `json:"expired_memberships"`
}

// Sweeper closes out work no provider will ever finish: purchases that stayed
// PENDING too long and prime memberships past their end date.
type Sweeper struct {
	transactionRepo repository.TransactionRepository
	membershipRepo  repository.MembershipRepository
	staleAfter      time.Duration
	now             func() time.Time
}

func NewSweeper(transactionRepo repository.TransactionRepository, membershipRepo repository.MembershipRepository, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		transactionRepo: transactionRepo,
		membershipRepo:  membershipRepo,
		staleAfter:      staleAfter,
		now:             time.Now,
	}
}

func (s *Sweeper) FailStalePending(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	ids, err := s.transactionRepo.FailStalePending(ctx, cutoff, StaleFailureReason)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		slog.Warn("pending transaction expired", "transaction_id", id, "cutoff", cutoff)
	}
	return len(ids), nil
}

func (s *Sweeper) ExpireMemberships(ctx context.Context) (int, error) {
	return s.membershipRepo.ExpireDue(ctx, s.now().UTC())
}

// Run performs both sweeps. A failure in one does not skip the other.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	failed, txErr := s.FailStalePending(ctx)
	res.FailedTransactions = failed
	expired, memErr := s.ExpireMemberships(ctx)
	res.ExpiredMemberships = expired

	err := errors.Join(txErr, memErr)
	if err != nil {
		slog.Error("sweep finished with errors", "failed_transactions", failed, "expired_memberships", expired, "error", err)
		return res, err
	}
	slog.Info("sweep finished", "failed_transactions", failed, "expired_memberships", expired)
	return res, nil
}
