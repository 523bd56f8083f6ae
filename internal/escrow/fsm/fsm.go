package fsm

import (
	"context"
	"database/sql"
	"errors"
)

// Status constants used by the booking state machine.
const (
	StatusPending              = "pending"
	StatusApproved             = "approved"
	StatusDeclined             = "declined"
	StatusPaid                 = "paid"
	StatusActive               = "active"
	StatusReturnInitiated      = "return_initiated"
	StatusAwaitingConfirmation = "awaiting_confirmation"
	StatusSettling             = "settling"
	StatusSettled              = "settled"
)

var transitions = map[string]map[string]struct{}{
	StatusPending: {
		StatusApproved: {},
		StatusDeclined: {},
	},
	StatusApproved: {
		StatusPaid: {},
	},
	StatusPaid: {
		StatusActive: {},
	},
	StatusActive: {
		StatusReturnInitiated: {},
	},
	StatusReturnInitiated: {
		StatusAwaitingConfirmation: {},
	},
	StatusAwaitingConfirmation: {
		StatusSettling: {},
	},
	StatusSettling: {
		StatusSettled: {},
		// rollback when the chain action was not confirmed
		StatusAwaitingConfirmation: {},
	},
	StatusDeclined: {},
	StatusSettled:  {},
}

// ErrInvalidTransition is returned when a requested status change is not in
// the transition table. The machine never coerces an illegal request.
var ErrInvalidTransition = errors.New("invalid booking status transition")

// CanTransition returns whether a booking can move from the current status
// to the target status.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	return len(transitions[status]) == 0
}

// Apply updates a booking status using optimistic validation: the UPDATE is
// conditional on the current status still being fromStatus, so concurrent
// writers cannot both win the same transition.
func Apply(ctx context.Context, tx *sql.Tx, bookingID int, fromStatus, toStatus string) error {
	if !CanTransition(fromStatus, toStatus) {
		return ErrInvalidTransition
	}
	res, err := tx.ExecContext(ctx, `UPDATE bookings SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`, toStatus, bookingID, fromStatus)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
