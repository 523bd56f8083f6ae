package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DamageFeeProposal is the lessor's proposed damage fee once both parties
// agreed that the item came back damaged. Differential is fee minus the
// security deposit: positive means the lessee owes more than the deposit,
// negative means part of the deposit is refunded.
type DamageFeeProposal struct {
	ID           int             `json:"id"`
	BookingID    int             `json:"booking_id"`
	Fee          decimal.Decimal `json:"fee"`
	Differential decimal.Decimal `json:"differential"`
	CreatedAt    time.Time       `json:"created_at"`
}
