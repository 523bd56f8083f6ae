package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Chain actions the escrow contract exposes.
const (
	ActionReleasePayment = "release_payment"
	ActionCollectFunds   = "collect_all_funds"
)

// SettlementReceipt records the single confirmed chain action that closed
// a booking.
type SettlementReceipt struct {
	BookingID    int             `json:"booking_id"`
	TxRef        string          `json:"tx_ref"`
	TxHash       string          `json:"tx_hash"`
	Action       string          `json:"action"`
	LessorAmount decimal.Decimal `json:"lessor_amount"`
	LesseeAmount decimal.Decimal `json:"lessee_amount"`
	ConfirmedAt  time.Time       `json:"confirmed_at"`
}

// BookingEvent is pushed over the websocket feed so clients can render
// settlement progress without polling.
type BookingEvent struct {
	// Recipients limits delivery to the booking's parties; never serialized.
	Recipients []int `json:"-"`

	BookingID int    `json:"booking_id"`
	Status    string `json:"status"`
	Phase     string `json:"phase,omitempty"` // submitted | confirmed | failed | reconciling
	Party     string `json:"party,omitempty"`
	HasDamage *bool  `json:"has_damage,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	At        int64  `json:"at"`
}
