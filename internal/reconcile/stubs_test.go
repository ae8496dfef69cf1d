package reconcile

import (
	"context"

	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
)

type stubLedger struct {
	txs         map[string]*models.Transaction
	completed   []string
	failed      []string
	completeErr error
}

func newStubLedger(txs ...*models.Transaction) *stubLedger {
	l := &stubLedger{txs: make(map[string]*models.Transaction)}
	for _, tx := range txs {
		l.txs[tx.ID] = tx
	}
	return l
}

func (l *stubLedger) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	tx, ok := l.txs[id]
	if !ok {
		return nil, errNotFound
	}
	copied := *tx
	return &copied, nil
}

func (l *stubLedger) CompleteTransaction(_ context.Context, id, ref string) (*models.Transaction, error) {
	if l.completeErr != nil {
		return nil, l.completeErr
	}
	tx := l.txs[id]
	tx.Status = models.StatusCompleted
	tx.ProviderRef = &ref
	l.completed = append(l.completed, id)
	return tx, nil
}

func (l *stubLedger) FailTransaction(_ context.Context, id, reason string) (*models.Transaction, error) {
	tx := l.txs[id]
	tx.Status = models.StatusFailed
	tx.FailureReason = &reason
	l.failed = append(l.failed, id)
	return tx, nil
}

type stubMercadoPago struct {
	payments map[string]string
	err      error
}

func (s *stubMercadoPago) GetPayment(_ context.Context, id string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.payments[id]), nil
}

type stubPayPal struct {
	orders   map[string]string
	captures map[string]string
	captured map[string]string
	err      error
}

func (s *stubPayPal) GetOrder(_ context.Context, id string) ([]byte, error) {
	return []byte(s.orders[id]), s.err
}

func (s *stubPayPal) GetCapture(_ context.Context, id string) ([]byte, error) {
	return []byte(s.captures[id]), s.err
}

func (s *stubPayPal) CaptureOrder(_ context.Context, id string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.captured[id]), nil
}

type stubStripe struct {
	sessions map[string]string
}

func (s *stubStripe) GetSession(_ context.Context, id string) ([]byte, error) {
	return []byte(s.sessions[id]), nil
}

func pending(id string, provider models.Provider) *models.Transaction {
	return &models.Transaction{
		ID:             id,
		UserID:         "user-1",
		Status:         models.StatusPending,
		Provider:       provider,
		SolcitosAmount: 495,
		BonusAmount:    15,
	}
}

type stubMemberships struct {
	granted []models.MembershipPayment
	seen    map[string]bool
	err     error
}

func (s *stubMemberships) Activate(_ context.Context, p models.MembershipPayment) (*models.PrimeMembership, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[p.PaymentRef] {
		return nil, pkgerrors.ErrRequestAlreadyProcessed
	}
	s.seen[p.PaymentRef] = true
	s.granted = append(s.granted, p)
	return &models.PrimeMembership{UserID: p.UserID, Status: models.MembershipActive}, nil
}
