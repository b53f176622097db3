package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound              = errors.New("payment order not found")
	ErrInvalidTransition          = errors.New("invalid payment status transition")
	ErrGatewayReferenceAlreadySet = errors.New("gateway reference already set")
	ErrStatusConflict             = errors.New("payment status changed concurrently")
	ErrPaymentAfterFailure        = errors.New("gateway confirmed a payment for a failed order")
	ErrInvalidSignature           = errors.New("invalid notification signature")
	ErrGatewayPaymentNotFound     = errors.New("gateway has no payment for reference")
	ErrNotificationIgnored        = errors.New("notification does not concern a payment")
	ErrCacheDisabled              = errors.New("cache disabled")
)

// ValidationError rejects a payment request before any side effect
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required fields: " + strings.Join(e.Missing, ", ")
	}
	return "invalid payment request: " + e.Reason
}

// LedgerWriteError means the pending order could not be recorded, so the
// gateway was never contacted
type LedgerWriteError struct {
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write failed: %v", e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// GatewayError covers transport failures, timeouts, non-2xx answers and
// malformed bodies from the payment provider
type GatewayError struct {
	Gateway    string
	StatusCode int
	Detail     string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s gateway error", e.Gateway)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }
