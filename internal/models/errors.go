package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoRecord            = errors.New("models: no matching record found")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrNotBookingParty     = errors.New("user is not a party to this booking")
	ErrProofRequired       = errors.New("handover proof is required")
	ErrNoConsensus         = errors.New("return confirmations not acknowledged")
	ErrNoDamageAgreed      = errors.New("parties agreed there is no damage")
	ErrFeeProposalMissing  = errors.New("damage fee proposal missing")
	ErrConfirmationsClosed = errors.New("return confirmations are frozen")
)

// ValidationError covers malformed input and out-of-order transition
// requests. It is surfaced to the caller and mutates nothing.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError covers duplicate or out-of-turn calls: a confirmation for a
// frozen pair, settlement of an already-settled booking, a second settlement
// while one is in flight.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// ChainSendError means the transaction never reached the chain: wallet
// rejection, broadcast failure, gateway down. No funds moved; the call is
// fully retryable.
type ChainSendError struct {
	Op  string
	Err error
}

func (e *ChainSendError) Error() string {
	return fmt.Sprintf("chain send failed (%s): %v", e.Op, e.Err)
}

func (e *ChainSendError) Unwrap() error { return e.Err }

// ChainConfirmError means the transaction was broadcast but reverted or the
// receipt wait timed out. On-chain state must be re-checked before any
// retry.
type ChainConfirmError struct {
	TxRef  string
	TxHash string
	Err    error
}

func (e *ChainConfirmError) Error() string {
	return fmt.Sprintf("chain confirmation failed (tx %s): %v", e.TxRef, e.Err)
}

func (e *ChainConfirmError) Unwrap() error { return e.Err }

// ReconciliationError means the chain action succeeded but the booking
// record could not be updated. The funds have moved; only the local record
// is stale. Flagged for the reconciler, never reported as plain success or
// plain failure.
type ReconciliationError struct {
	BookingID int
	TxRef     string
	TxHash    string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("booking %d settled on chain (tx %s) but record update failed: %v", e.BookingID, e.TxRef, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
