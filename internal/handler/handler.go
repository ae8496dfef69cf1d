package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/auth"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/Ruyllex/rulo-web/internal/reconcile"
	service "github.com/Ruyllex/rulo-web/internal/services"
	pkgerrors "github.com/Ruyllex/rulo-web/pkg/errors"
	"github.com/gorilla/mux"
)

const maxWebhookBody = 1 << 20

type Reconciler interface {
	HandleWebhook(ctx context.Context, provider models.Provider, body []byte, query url.Values) (reconcile.Outcome, error)
	HandleCallback(ctx context.Context, provider models.Provider, query url.Values) (reconcile.Outcome, string, error)
}

type Sweeper interface {
	Run(ctx context.Context) (service.SweepResult, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	purchases   service.PurchaseService
	ledger      service.LedgerService
	transfers   service.TransferService
	memberships service.MembershipService
	reconciler  Reconciler
	sweeper     Sweeper
	cronSecret  string
	baseURL     string
	checks      map[string]HealthCheck
}

type Options struct {
	Purchases   service.PurchaseService
	Ledger      service.LedgerService
	Transfers   service.TransferService
	Memberships service.MembershipService
	Reconciler  Reconciler
	Sweeper     Sweeper
	CronSecret  string
	BaseURL     string
	Checks      map[string]HealthCheck
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		purchases:   opts.Purchases,
		ledger:      opts.Ledger,
		transfers:   opts.Transfers,
		memberships: opts.Memberships,
		reconciler:  opts.Reconciler,
		sweeper:     opts.Sweeper,
		cronSecret:  opts.CronSecret,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		checks:      opts.Checks,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// statusFor maps ledger errors to HTTP statuses for user-facing routes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrRecipientNotFound),
		errors.Is(err, pkgerrors.ErrMembershipNotFound):
		return http.StatusNotFound
	case pkgerrors.IsConflict(err),
		errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed),
		errors.Is(err, pkgerrors.ErrAlreadyPrime):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrSelfTransfer),
		errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrPackageNotFound),
		errors.Is(err, pkgerrors.ErrUnsupportedPaymentMethod),
		errors.Is(err, pkgerrors.ErrMissingTransactionReference),
		errors.Is(err, pkgerrors.ErrInvalidProvider):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			err = errors.New("internal error")
		}
	}
	h.writeError(w, status, err)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/packages", h.ListPackages).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{provider}", h.Webhook).Methods(http.MethodPost)
	r.HandleFunc("/payment-callback/{provider}", h.PaymentCallback).Methods(http.MethodGet)
	r.HandleFunc("/cron/check-expired", h.CheckExpired).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/purchase/intent", h.CreatePurchaseIntent).Methods(http.MethodPost)
	r.HandleFunc("/purchase/status", h.PurchaseStatus).Methods(http.MethodGet)
	r.HandleFunc("/balance", h.GetBalance).Methods(http.MethodGet)
	r.HandleFunc("/transactions", h.GetTransactionHistory).Methods(http.MethodGet)
	r.HandleFunc("/transfer", h.Transfer).Methods(http.MethodPost)
	r.HandleFunc("/prime", h.GetMembership).Methods(http.MethodGet)
	r.HandleFunc("/prime/subscribe", h.SubscribePrime).Methods(http.MethodPost)
	r.HandleFunc("/prime/cancel", h.CancelPrime).Methods(http.MethodPost)
}

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.Package{"packages": h.purchases.Packages()})
}

func (h *Handler) CreatePurchaseIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		PackageID     string `json:"packageId"`
		PaymentMethod string `json:"paymentMethod"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PackageID == "" || req.PaymentMethod == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("packageId and paymentMethod are required"))
		return
	}

	intent, err := h.purchases.CreateIntent(r.Context(), userID, req.PackageID, req.PaymentMethod)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"checkoutUrl":   intent.CheckoutURL,
		"transactionId": intent.TransactionID,
		"provider":      intent.Provider,
		"package":       intent.Package,
	})
}

func (h *Handler) PurchaseStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	txID := r.URL.Query().Get("transactionId")
	if txID == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("transactionId is required"))
		return
	}

	status, err := h.purchases.Status(r.Context(), userID, txID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	history, err := h.ledger.History(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string][]models.Transaction{"transactions": history})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		RecipientID string `json:"recipientId"`
		Amount      int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.transfers.Transfer(r.Context(), userID, req.RecipientID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"newSenderBalance": result.NewSenderBalance})
}

func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	m, err := h.memberships.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"membership": m,
		"isPrime":    m.Grants(time.Now()),
	})
}

func (h *Handler) SubscribePrime(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	checkout, err := h.memberships.Subscribe(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"checkoutUrl": checkout.CheckoutURL,
		"provider":    checkout.Provider,
		"price":       checkout.Price,
	})
}

// CancelPrime stops the membership. Prime stays until expiresAt.
func (h *Handler) CancelPrime(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	m, err := h.memberships.Cancel(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "expiresAt": m.EndDate})
}

// Webhook acknowledges every delivery the provider should stop retrying,
// including conflicts and unknown transactions, and answers 5xx only when a
// retry can succeed.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	provider, ok := models.ParseProvider(strings.ToLower(name))
	if !ok {
		h.writeError(w, http.StatusNotFound, pkgerrors.ErrInvalidProvider)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := h.reconciler.HandleWebhook(r.Context(), provider, body, r.URL.Query())
	if err != nil {
		status := webhookStatus(err)
		if status == http.StatusOK {
			slog.Warn("webhook acknowledged without action", "provider", provider, "error", err)
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": "noop"})
			return
		}
		slog.Error("webhook failed", "provider", provider, "status", status, "error", err)
		h.writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome})
}

func webhookStatus(err error) int {
	switch {
	case pkgerrors.IsConflict(err),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound):
		return http.StatusOK
	case errors.Is(err, pkgerrors.ErrMissingTransactionReference),
		errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidProvider):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PaymentCallback finishes a redirect-style checkout and sends the browser to
// the matching result page.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	provider, ok := models.ParseProvider(strings.ToLower(name))
	if !ok {
		h.writeError(w, http.StatusNotFound, pkgerrors.ErrInvalidProvider)
		return
	}

	outcome, txID, err := h.reconciler.HandleCallback(r.Context(), provider, r.URL.Query())
	page := "/payment/failure"
	switch {
	case err != nil:
		slog.Error("payment callback failed", "provider", provider, "transaction_id", txID, "error", err)
	case outcome == reconcile.OutcomeApplied || outcome == reconcile.OutcomeDuplicate:
		page = "/payment/success"
	case outcome == reconcile.OutcomeIgnored:
		page = "/payment/pending"
	}

	target := h.baseURL + page
	if txID != "" {
		target += "?" + url.Values{"transaction_id": {txID}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// CheckExpired runs the expiry sweep for an external scheduler.
func (h *Handler) CheckExpired(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthorized(r) {
		h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrUnauthorized)
		return
	}

	result, err := h.sweeper.Run(r.Context())
	if err != nil {
		slog.Error("expiry sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "sweep incomplete", "result": result})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) cronAuthorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	report := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			report[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "ok"
	}
	writeJSON(w, status, report)
}
