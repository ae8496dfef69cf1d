package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound                = errors.New("user not found")
	ErrRecipientNotFound           = errors.New("recipient not found")
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrSelfTransfer                = errors.New("cannot transfer to yourself")
	ErrInvalidAmount               = errors.New("amount must be positive")
	ErrInvalidTransactionType      = errors.New("invalid transaction type")
	ErrInvalidProvider             = errors.New("invalid payment provider")
	ErrTransactionNotFound         = errors.New("transaction not found")
	ErrTransactionAlreadyCompleted = errors.New("transaction already completed")
	ErrTransactionNotPending       = errors.New("transaction is not pending")
	ErrMissingProviderReference    = errors.New("provider reference is required to complete a transaction")
	ErrMissingTransactionReference = errors.New("provider payload carries no transaction reference")
	ErrPackageNotFound             = errors.New("package not found")
	ErrUnsupportedPaymentMethod    = errors.New("unsupported payment method")
	ErrProviderUnavailable         = errors.New("payment provider unavailable")
	ErrSerializationFailure        = errors.New("concurrent update, retry")
	ErrRequestAlreadyProcessed     = errors.New("request already processed")
	ErrMembershipNotFound          = errors.New("no active prime membership")
	ErrAlreadyPrime                = errors.New("prime membership already active")
	ErrInvalidInput                = fmt.Errorf("invalid input")
	ErrUnauthorized                = fmt.Errorf("unauthorized")
)

// IsConflict reports whether err means the transaction already left PENDING.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTransactionAlreadyCompleted) || errors.Is(err, ErrTransactionNotPending)
}

// ProviderError is a failed call to an external payment provider.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Provider, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProviderUnavailable}
	}
	return []error{ErrProviderUnavailable, e.Err}
}
