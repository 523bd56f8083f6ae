package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
)

// maxFeeFractionDigits bounds damage fee precision; everything beyond is
// truncated, never rounded.
const maxFeeFractionDigits = 10

// FeeProposalStore persists the single outstanding proposal per booking.
type FeeProposalStore interface {
	Upsert(ctx context.Context, p models.DamageFeeProposal) (models.DamageFeeProposal, error)
	GetByBooking(ctx context.Context, bookingID int) (models.DamageFeeProposal, error)
}

// DamageFeeService validates and normalizes a proposed damage fee and
// computes the differential against the held security deposit. It mutates no
// booking state: the proposal only becomes effective when the settlement
// executor consumes it.
type DamageFeeService struct {
	Bookings      BookingReader
	Confirmations ConfirmationStore
	Proposals     FeeProposalStore
}

// NormalizeFee parses a raw user-entered amount. The decimal separator may
// be a comma or a dot; the value is truncated to at most ten fractional
// digits before validation.
func NormalizeFee(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if cleaned == "" {
		return decimal.Decimal{}, models.NewValidationError("damage fee is required")
	}
	fee, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, models.NewValidationError("damage fee %q is not a number", raw)
	}
	fee = fee.Truncate(maxFeeFractionDigits)
	if fee.IsNegative() {
		return decimal.Decimal{}, models.NewValidationError("damage fee must not be negative")
	}
	return fee, nil
}

// ProposeFee records the lessor's proposed fee for an
// acknowledged-with-damage booking. A later call supersedes the previous
// proposal while the booking remains unsettled.
func (s *DamageFeeService) ProposeFee(ctx context.Context, bookingID, userID int, rawAmount string) (models.DamageFeeProposal, error) {
	booking, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return models.DamageFeeProposal{}, err
	}
	if booking.PartyOf(userID) != models.PartyLessor {
		return models.DamageFeeProposal{}, models.ErrNotBookingParty
	}
	switch booking.Status {
	case fsm.StatusAwaitingConfirmation:
	case fsm.StatusSettling, fsm.StatusSettled:
		return models.DamageFeeProposal{}, models.NewConflictError("booking %d settlement already %s", bookingID, booking.Status)
	default:
		return models.DamageFeeProposal{}, models.NewValidationError("booking %d is %s, a damage fee requires %s", bookingID, booking.Status, fsm.StatusAwaitingConfirmation)
	}

	agreed, hasDamage, err := s.consensus(ctx, bookingID)
	if err != nil {
		return models.DamageFeeProposal{}, err
	}
	if !agreed {
		return models.DamageFeeProposal{}, models.ErrNoConsensus
	}
	if !hasDamage {
		return models.DamageFeeProposal{}, models.ErrNoDamageAgreed
	}

	fee, err := NormalizeFee(rawAmount)
	if err != nil {
		return models.DamageFeeProposal{}, err
	}

	proposal := models.DamageFeeProposal{
		BookingID:    bookingID,
		Fee:          fee,
		Differential: fee.Sub(booking.SecurityDeposit),
	}
	return s.Proposals.Upsert(ctx, proposal)
}

// consensus reports whether both parties hold frozen, matching claims, and
// what the agreed claim is.
func (s *DamageFeeService) consensus(ctx context.Context, bookingID int) (agreed, hasDamage bool, err error) {
	current, err := s.Confirmations.Current(ctx, bookingID)
	if err != nil {
		return false, false, err
	}
	if len(current) != 2 {
		return false, false, nil
	}
	if current[0].HasDamage != current[1].HasDamage {
		return false, false, nil
	}
	if !current[0].Frozen || !current[1].Frozen {
		return false, false, nil
	}
	return true, current[0].HasDamage, nil
}
