// Package apierr defines the reason-coded error taxonomy surfaced to API
// callers: admission errors, invariant violations, settlement-indeterminate
// payment outcomes, and internal failures.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a machine-readable rejection reason.
type Code string

const (
	// Admission errors: nothing was mutated and no funds moved.
	CodeNoActiveSession Code = "NO_ACTIVE_SESSION"
	CodeEnemyMismatch   Code = "ENEMY_MISMATCH"
	CodeEnemyDefeated   Code = "ENEMY_DEFEATED"
	CodePaymentInvalid  Code = "PAYMENT_INVALID"
	CodeInvalidRequest  Code = "INVALID_REQUEST"
	CodeNotFound        Code = "NOT_FOUND"

	// Settlement-indeterminate: the payment may or may not have settled.
	// Callers must re-check the ledger by transaction reference before
	// retrying; a blind retry risks charging twice.
	CodePaymentUnknown Code = "PAYMENT_OUTCOME_UNKNOWN"

	// The ledger could not be reached before anything was submitted.
	// Unlike PAYMENT_OUTCOME_UNKNOWN no funds are in flight; the same
	// instruction can simply be retried.
	CodeLedgerUnavailable Code = "LEDGER_UNAVAILABLE"

	// Invariant violations on the session lifecycle.
	CodeSessionActive Code = "SESSION_ALREADY_ACTIVE"

	CodeRateLimited Code = "RATE_LIMITED"
	CodeInternal    Code = "INTERNAL"
)

// Error is a reason-coded service error with an HTTP mapping.
type Error struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a reason-coded error.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

// Wrap attaches a cause to a reason-coded error.
func Wrap(code Code, status int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// Convenience constructors for the common rejections.

func NoActiveSession() *Error {
	return New(CodeNoActiveSession, http.StatusConflict, "no active game session")
}

func EnemyMismatch(enemyID string) *Error {
	return New(CodeEnemyMismatch, http.StatusConflict, fmt.Sprintf("enemy %s is not part of the active session", enemyID))
}

func EnemyDefeated(enemyID string) *Error {
	return New(CodeEnemyDefeated, http.StatusConflict, fmt.Sprintf("enemy %s is already defeated", enemyID))
}

func PaymentInvalid(reason string) *Error {
	return New(CodePaymentInvalid, http.StatusPaymentRequired, reason)
}

// PaymentUnknown marks a settlement-indeterminate outcome. The transaction
// reference, when known, lets the caller re-query the ledger safely.
func PaymentUnknown(txRef string, cause error) *Error {
	msg := "payment outcome unknown; re-check ledger before retrying"
	if txRef != "" {
		msg = fmt.Sprintf("payment outcome unknown for %s; re-check ledger before retrying", txRef)
	}
	return Wrap(CodePaymentUnknown, http.StatusServiceUnavailable, msg, cause)
}

// LedgerUnavailable marks a pre-submission ledger failure. Nothing was
// broadcast, so retrying the same instruction is safe.
func LedgerUnavailable(cause error) *Error {
	return Wrap(CodeLedgerUnavailable, http.StatusServiceUnavailable, "ledger unavailable; retry the request", cause)
}

func SessionAlreadyActive(sessionID string) *Error {
	return New(CodeSessionActive, http.StatusConflict, fmt.Sprintf("session %s is already active", sessionID))
}

func InvalidRequest(reason string) *Error {
	return New(CodeInvalidRequest, http.StatusBadRequest, reason)
}

func NotFound(kind, id string) *Error {
	return New(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found: %s", kind, id))
}

func RateLimited() *Error {
	return New(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
}

func Internal(cause error) *Error {
	return Wrap(CodeInternal, http.StatusInternalServerError, "internal error", cause)
}

// From extracts a reason-coded error, wrapping unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
