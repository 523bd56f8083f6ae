package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party roles within a booking.
const (
	PartyLessor = "lessor"
	PartyLessee = "lessee"
)

// Settlement outcomes persisted on a settled booking.
const (
	OutcomeNoDamage = "no_damage"
	OutcomeDamaged  = "damaged"
)

type Booking struct {
	ID       int `json:"id"`
	ItemID   int `json:"item_id"`
	LessorID int `json:"lessor_id"`
	LesseeID int `json:"lessee_id"`

	RentalFee       decimal.Decimal `json:"rental_fee"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	TotalAmount     decimal.Decimal `json:"total_amount"`

	Status  string             `json:"status"`
	Outcome *SettlementOutcome `json:"outcome,omitempty"`

	HandoverProofURL *string `json:"handover_proof_url,omitempty"`
	PaymentTxRef     *string `json:"payment_tx_ref,omitempty"`
	SettlementTxRef  *string `json:"settlement_tx_ref,omitempty"`

	ReconcileNeeded bool `json:"reconcile_needed,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type SettlementOutcome struct {
	Kind      string          `json:"kind"` // no_damage | damaged
	DamageFee decimal.Decimal `json:"damage_fee"`
}

// PartyOf resolves which side of the booking the given user is on.
// Returns an empty string when the user is not a party.
func (b *Booking) PartyOf(userID int) string {
	switch userID {
	case b.LessorID:
		return PartyLessor
	case b.LesseeID:
		return PartyLessee
	}
	return ""
}

// Counterparty returns the user id on the other side of the booking.
func (b *Booking) Counterparty(userID int) int {
	if userID == b.LessorID {
		return b.LesseeID
	}
	return b.LessorID
}

type CreateBookingRequest struct {
	ItemID          int    `json:"item_id"`
	LessorID        int    `json:"lessor_id"`
	RentalFee       string `json:"rental_fee"`
	SecurityDeposit string `json:"security_deposit"`
	PlatformFee     string `json:"platform_fee"`
	TotalAmount     string `json:"total_amount"`
}

type BookingView struct {
	Booking       Booking              `json:"booking"`
	Confirmations []ReturnConfirmation `json:"confirmations,omitempty"`
	FeeProposal   *DamageFeeProposal   `json:"fee_proposal,omitempty"`
}
