package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/observability"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/Ruyllex/rulo-web/internal/models"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultDedupeTTL = 24 * time.Hour

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeConflict is an event that contradicts the transaction's terminal
	// state, such as an approval arriving after the transaction failed.
	OutcomeConflict Outcome = "conflict"
)

// Ledger is the part of the ledger service the reconciler drives.
type Ledger interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	CompleteTransaction(ctx context.Context, id, providerRef string) (*models.Transaction, error)
	FailTransaction(ctx context.Context, id, reason string) (*models.Transaction, error)
}

// Memberships grants the prime month a verified payment bought.
type Memberships interface {
	Activate(ctx context.Context, payment models.MembershipPayment) (*models.PrimeMembership, error)
}

type Reconciler struct {
	ledger      Ledger
	memberships Memberships
	redisClient redis.RedisClient
	webhooks    map[models.Provider]WebhookAdapter
	callbacks   map[models.Provider]CallbackAdapter
	dedupeTTL   time.Duration
}

func NewReconciler(ledger Ledger, redisClient redis.RedisClient) *Reconciler {
	return &Reconciler{
		ledger:      ledger,
		redisClient: redisClient,
		webhooks:    make(map[models.Provider]WebhookAdapter),
		callbacks:   make(map[models.Provider]CallbackAdapter),
		dedupeTTL:   DefaultDedupeTTL,
	}
}

func (r *Reconciler) RegisterWebhook(a WebhookAdapter) {
	r.webhooks[a.Provider()] = a
}

func (r *Reconciler) RegisterCallback(a CallbackAdapter) {
	r.callbacks[a.Provider()] = a
}

// RegisterMemberships enables prime membership payments.
func (r *Reconciler) RegisterMemberships(m Memberships) {
	r.memberships = m
}

// HandleWebhook verifies a webhook delivery with its provider and applies it.
func (r *Reconciler) HandleWebhook(ctx context.Context, provider models.Provider, body []byte, query url.Values) (Outcome, error) {
	adapter, ok := r.webhooks[provider]
	if !ok {
		return "", fmt.Errorf("%w: no webhook adapter for %s", pkgerrors.ErrInvalidProvider, provider)
	}
	n, err := adapter.ParseWebhook(ctx, body, query)
	if errors.Is(err, ErrEventIgnored) {
		observability.ReconcileEvents.WithLabelValues(string(provider), string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}
	if err != nil {
		slog.Error("webhook verification failed", "provider", provider, "error", err)
		observability.ReconcileEvents.WithLabelValues(string(provider), "error").Inc()
		return "", err
	}
	return r.Apply(ctx, n)
}

// HandleCallback runs a redirect-style completion and reports the
// transaction it resolved to, when one was found.
func (r *Reconciler) HandleCallback(ctx context.Context, provider models.Provider, query url.Values) (Outcome, string, error) {
	adapter, ok := r.callbacks[provider]
	if !ok {
		return "", "", fmt.Errorf("%w: no callback adapter for %s", pkgerrors.ErrInvalidProvider, provider)
	}
	n, err := adapter.ParseCallback(ctx, query)
	if err != nil {
		slog.Error("payment callback failed", "provider", provider, "error", err)
		observability.ReconcileEvents.WithLabelValues(string(provider), "error").Inc()
		return "", query.Get("transaction_id"), err
	}
	outcome, err := r.Apply(ctx, n)
	return outcome, n.TransactionID, err
}

// Apply moves the notification's transaction to the state the provider
// reported. The delivery id is claimed in Redis first and released again if
// applying fails. A delivery whose claim already exists is only skipped once
// its transaction left PENDING; the ledger's own status guard keeps a repeat
// from crediting twice.
func (r *Reconciler) Apply(ctx context.Context, n *Notification) (outcome Outcome, err error) {
	tracer := otel.Tracer("reconciler")
	ctx, span := tracer.Start(ctx, "Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", string(n.Provider)),
		attribute.String("transaction_id", n.TransactionID),
		attribute.String("status", n.Status.String()),
	)
	defer func() {
		label := string(outcome)
		if err != nil {
			label = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "apply failed")
		}
		observability.ReconcileEvents.WithLabelValues(string(n.Provider), label).Inc()
	}()

	if n.ProductType == models.ProductPrimeMembership {
		return r.applyMembership(ctx, n)
	}
	if n.TransactionID == "" {
		slog.Warn("provider event without transaction reference", "provider", n.Provider, "provider_ref", n.ProviderRef, "custom_ref", n.CustomRef)
		return "", pkgerrors.ErrMissingTransactionReference
	}
	if n.Status != StatusApproved && n.Status != StatusRejected {
		slog.Info("provider event acknowledged without action",
			"provider", n.Provider,
			"transaction_id", n.TransactionID,
			"raw_status", n.RawStatus)
		return OutcomeIgnored, nil
	}

	claimed, release := r.claim(ctx, n)
	if !claimed {
		settled, err := r.settled(ctx, n)
		if err != nil {
			return "", err
		}
		if settled {
			slog.Info("duplicate provider delivery", "provider", n.Provider, "delivery_id", n.DeliveryID, "transaction_id", n.TransactionID)
			return OutcomeDuplicate, nil
		}
		slog.Warn("delivery seen before but transaction still pending, applying again",
			"provider", n.Provider,
			"delivery_id", n.DeliveryID,
			"transaction_id", n.TransactionID)
	}

	outcome, err = r.apply(ctx, n)
	if err != nil && !errors.Is(err, pkgerrors.ErrInvalidInput) {
		release()
	}
	return outcome, err
}

func (r *Reconciler) apply(ctx context.Context, n *Notification) (Outcome, error) {
	tx, err := r.ledger.GetTransaction(ctx, n.TransactionID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrTransactionNotFound) {
			slog.Error("provider event for unknown transaction", "provider", n.Provider, "transaction_id", n.TransactionID)
		}
		return "", err
	}
	if tx.Provider != n.Provider {
		slog.Error("provider event does not match transaction provider",
			"provider", n.Provider,
			"transaction_id", tx.ID,
			"transaction_provider", tx.Provider)
		return "", fmt.Errorf("%w: transaction %s belongs to %s", pkgerrors.ErrInvalidProvider, tx.ID, tx.Provider)
	}
	if n.ExpectedSolcitos != 0 && n.ExpectedSolcitos != tx.TotalSolcitos() {
		slog.Error("provider echoed a different solcitos total",
			"provider", n.Provider,
			"transaction_id", tx.ID,
			"expected", tx.TotalSolcitos(),
			"echoed", n.ExpectedSolcitos)
		return "", fmt.Errorf("%w: solcitos total mismatch for %s", pkgerrors.ErrInvalidInput, tx.ID)
	}

	if n.Status == StatusApproved {
		return r.complete(ctx, n, tx)
	}
	return r.fail(ctx, n, tx)
}

func (r *Reconciler) complete(ctx context.Context, n *Notification, tx *models.Transaction) (Outcome, error) {
	if tx.Status == models.StatusCompleted {
		slog.Info("transaction already completed", "provider", n.Provider, "transaction_id", tx.ID)
		return OutcomeDuplicate, nil
	}
	if _, err := r.ledger.CompleteTransaction(ctx, tx.ID, n.ProviderRef); err != nil {
		if errors.Is(err, pkgerrors.ErrTransactionAlreadyCompleted) {
			return OutcomeDuplicate, nil
		}
		if pkgerrors.IsConflict(err) {
			slog.Error("approval received for a transaction that is no longer pending, manual review required",
				"provider", n.Provider,
				"transaction_id", tx.ID,
				"provider_ref", n.ProviderRef,
				"status", tx.Status)
			return OutcomeConflict, nil
		}
		return "", err
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) fail(ctx context.Context, n *Notification, tx *models.Transaction) (Outcome, error) {
	switch tx.Status {
	case models.StatusFailed:
		return OutcomeDuplicate, nil
	case models.StatusCompleted:
		slog.Error("rejection received for a completed transaction, manual review required",
			"provider", n.Provider,
			"transaction_id", tx.ID,
			"raw_status", n.RawStatus)
		return OutcomeConflict, nil
	}
	reason := fmt.Sprintf("%s: payment %s", n.Provider, n.RawStatus)
	if _, err := r.ledger.FailTransaction(ctx, tx.ID, reason); err != nil {
		if pkgerrors.IsConflict(err) {
			return OutcomeConflict, nil
		}
		return "", err
	}
	return OutcomeRejected, nil
}

// applyMembership grants a prime month. The membership store records every
// payment reference, so a replay comes back as a duplicate without Redis.
func (r *Reconciler) applyMembership(ctx context.Context, n *Notification) (Outcome, error) {
	if r.memberships == nil {
		return "", fmt.Errorf("%w: prime memberships are not enabled", pkgerrors.ErrInvalidProvider)
	}
	if n.UserID == "" {
		slog.Warn("membership payment without user reference", "provider", n.Provider, "provider_ref", n.ProviderRef)
		return "", pkgerrors.ErrMissingTransactionReference
	}
	if n.Status != StatusApproved {
		slog.Info("membership payment acknowledged without action",
			"provider", n.Provider,
			"user_id", n.UserID,
			"raw_status", n.RawStatus)
		return OutcomeIgnored, nil
	}

	m, err := r.memberships.Activate(ctx, models.MembershipPayment{
		UserID:     n.UserID,
		Provider:   n.Provider,
		PaymentRef: n.ProviderRef,
		Amount:     n.PaidAmount,
	})
	if errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed) {
		slog.Info("duplicate membership payment", "provider", n.Provider, "provider_ref", n.ProviderRef, "user_id", n.UserID)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		slog.Error("membership activation failed", "provider", n.Provider, "user_id", n.UserID, "provider_ref", n.ProviderRef, "error", err)
		return "", err
	}
	slog.Info("prime membership granted", "provider", n.Provider, "user_id", m.UserID, "end_date", m.EndDate)
	return OutcomeApplied, nil
}

// settled reports whether a redelivered event's transaction already reached a
// terminal state.
func (r *Reconciler) settled(ctx context.Context, n *Notification) (bool, error) {
	tx, err := r.ledger.GetTransaction(ctx, n.TransactionID)
	if err != nil {
		return false, err
	}
	return tx.IsTerminal(), nil
}

// claim reserves the delivery id. Redis being unavailable does not block
// reconciliation since the ledger guards completion on its own.
func (r *Reconciler) claim(ctx context.Context, n *Notification) (bool, func()) {
	noop := func() {}
	if n.DeliveryID == "" {
		return true, noop
	}
	key := redis.WebhookKey(string(n.Provider), n.DeliveryID)
	ok, err := r.redisClient.SetNX(ctx, key, n.TransactionID, r.dedupeTTL)
	if err != nil {
		slog.Warn("delivery dedupe unavailable", "provider", n.Provider, "delivery_id", n.DeliveryID, "error", err)
		return true, noop
	}
	if !ok {
		return false, noop
	}
	return true, func() {
		if err := r.redisClient.Del(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("failed to release delivery key", "key", key, "error", err)
		}
	}
}
