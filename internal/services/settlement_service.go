package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
)

// BookingStore is the write side of the booking store used by settlement.
type BookingStore interface {
	BookingReader
	ClaimSettlement(ctx context.Context, bookingID int, txRef string) error
	RollbackSettlement(ctx context.Context, bookingID int) error
	FinalizeSettlement(ctx context.Context, bookingID int, outcome models.SettlementOutcome, txRef string) error
	FlagReconcile(ctx context.Context, bookingID int, txRef string) error
}

// ChainClient is the escrow gateway surface the executor needs.
type ChainClient interface {
	ReleasePayment(ctx context.Context, req SettlementRequest) (*PendingTx, error)
	CollectAllFunds(ctx context.Context, req SettlementRequest) (*PendingTx, error)
	AwaitReceipt(ctx context.Context, txRef string) (*TxReceipt, error)
	GetReceipt(ctx context.Context, txRef string) (*TxReceipt, error)
}

// SettlementGuard is the per-booking claim taken before broadcasting.
type SettlementGuard interface {
	Acquire(ctx context.Context, bookingID int, token string) (bool, error)
	Release(ctx context.Context, bookingID int, token string) error
}

// SettlementService drives the single terminal chain action for a booking
// and reconciles the booking record afterward. It is the only component
// permitted to move escrowed funds, and it moves them at most once per
// booking.
type SettlementService struct {
	Bookings      BookingStore
	Confirmations ConfirmationStore
	Proposals     FeeProposalStore
	Chain         ChainClient
	Guard         SettlementGuard
	Events        EventPublisher
	Push          PushSender
	ErrorLog      *log.Logger
}

// payout is the terminal fund split for a booking.
type payout struct {
	hasDamage bool
	damageFee decimal.Decimal
	lessor    decimal.Decimal
	lessee    decimal.Decimal
}

// computePayout determines the split. No damage: rental fee to the lessor,
// full deposit back to the lessee. Damage: rental fee plus the agreed fee to
// the lessor with the fee capped at the held deposit, remainder of the
// deposit to the lessee; any excess over the deposit is collected from the
// lessee by the chain action itself.
func computePayout(b models.Booking, hasDamage bool, fee decimal.Decimal) payout {
	if !hasDamage {
		return payout{
			lessor: b.RentalFee,
			lessee: b.SecurityDeposit,
		}
	}
	capped := fee
	if capped.GreaterThan(b.SecurityDeposit) {
		capped = b.SecurityDeposit
	}
	return payout{
		hasDamage: true,
		damageFee: fee,
		lessor:    b.RentalFee.Add(capped),
		lessee:    b.SecurityDeposit.Sub(capped),
	}
}

// Settle executes the terminal settlement for a booking. Preconditions: the
// booking is awaiting_confirmation, consensus is acknowledged, and if damage
// was agreed a fee proposal exists. The booking record only transitions to
// settled on a confirmed receipt, never on broadcast alone.
func (s *SettlementService) Settle(ctx context.Context, bookingID, userID int) (models.SettlementReceipt, error) {
	booking, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return models.SettlementReceipt{}, err
	}
	if booking.PartyOf(userID) == "" {
		return models.SettlementReceipt{}, models.ErrNotBookingParty
	}
	switch booking.Status {
	case fsm.StatusSettled:
		return models.SettlementReceipt{}, models.NewConflictError("booking %d is already settled", bookingID)
	case fsm.StatusSettling:
		return models.SettlementReceipt{}, models.NewConflictError("settlement for booking %d is already in flight", bookingID)
	case fsm.StatusAwaitingConfirmation:
	default:
		return models.SettlementReceipt{}, models.NewValidationError("booking %d is %s, settlement requires %s", bookingID, booking.Status, fsm.StatusAwaitingConfirmation)
	}

	// claim the booking before reading the agreement: redis slot plus the
	// conditional status flip, so no two broadcasts can be in flight — and
	// once the booking is settling, confirmations and fee proposals are
	// locked out, so the values read below cannot change under the broadcast
	txRef := uuid.NewString()
	ok, err := s.Guard.Acquire(ctx, bookingID, txRef)
	if err != nil {
		return models.SettlementReceipt{}, err
	}
	if !ok {
		return models.SettlementReceipt{}, models.NewConflictError("settlement for booking %d is already in flight", bookingID)
	}
	if err := s.Bookings.ClaimSettlement(ctx, bookingID, txRef); err != nil {
		s.releaseGuard(bookingID, txRef)
		if errors.Is(err, sql.ErrNoRows) {
			return models.SettlementReceipt{}, models.NewConflictError("booking %d was claimed by a concurrent settlement", bookingID)
		}
		return models.SettlementReceipt{}, err
	}

	hasDamage, err := s.agreedClaim(ctx, bookingID)
	if err != nil {
		s.rollback(bookingID, txRef)
		return models.SettlementReceipt{}, err
	}

	fee := decimal.Zero
	if hasDamage {
		proposal, err := s.Proposals.GetByBooking(ctx, bookingID)
		if err != nil {
			s.rollback(bookingID, txRef)
			return models.SettlementReceipt{}, err
		}
		fee = proposal.Fee
	}
	split := computePayout(booking, hasDamage, fee)

	req := SettlementRequest{
		BookingRef:   strconv.Itoa(bookingID),
		TxRef:        txRef,
		LessorAmount: split.lessor,
		LesseeAmount: split.lessee,
	}

	action := models.ActionReleasePayment
	var pending *PendingTx
	if split.hasDamage {
		action = models.ActionCollectFunds
		pending, err = s.Chain.CollectAllFunds(ctx, req)
	} else {
		pending, err = s.Chain.ReleasePayment(ctx, req)
	}
	if err != nil {
		// nothing reached the chain: roll back and let the caller retry
		s.rollback(bookingID, txRef)
		return models.SettlementReceipt{}, &models.ChainSendError{Op: action, Err: err}
	}

	s.publish(booking, "submitted", pending.TxHash)

	receipt, err := s.Chain.AwaitReceipt(ctx, txRef)
	if err != nil {
		// broadcast but unresolved: keep the claim so nobody double-spends;
		// the reconciler will settle or roll back once the outcome is known
		s.publish(booking, "failed", pending.TxHash)
		return models.SettlementReceipt{}, &models.ChainConfirmError{TxRef: txRef, TxHash: pending.TxHash, Err: err}
	}
	if receipt.Status == TxStatusReverted {
		s.rollback(bookingID, txRef)
		s.publish(booking, "failed", receipt.TxHash)
		return models.SettlementReceipt{}, &models.ChainConfirmError{TxRef: txRef, TxHash: receipt.TxHash, Err: fmt.Errorf("transaction reverted: %s", receipt.Reason)}
	}

	outcome := outcomeOf(split)
	if err := s.Bookings.FinalizeSettlement(ctx, bookingID, outcome, txRef); err != nil {
		// funds moved but the record did not: the one split-phase hazard we
		// cannot recover locally; flag it and say so distinctly
		if flagErr := s.Bookings.FlagReconcile(context.WithoutCancel(ctx), bookingID, txRef); flagErr != nil && s.ErrorLog != nil {
			s.ErrorLog.Printf("settlement: failed to flag booking %d for reconciliation: %v", bookingID, flagErr)
		}
		s.publish(booking, "reconciling", receipt.TxHash)
		return models.SettlementReceipt{}, &models.ReconciliationError{BookingID: bookingID, TxRef: txRef, TxHash: receipt.TxHash, Err: err}
	}
	s.releaseGuard(bookingID, txRef)

	result := models.SettlementReceipt{
		BookingID:    bookingID,
		TxRef:        txRef,
		TxHash:       receipt.TxHash,
		Action:       action,
		LessorAmount: split.lessor,
		LesseeAmount: split.lessee,
		ConfirmedAt:  receiptTime(receipt),
	}
	s.publish(booking, "confirmed", receipt.TxHash)
	s.notifyParties(ctx, booking, outcome)
	return result, nil
}

// Reconcile resolves a booking left in settling or flagged after a
// confirmed chain action whose record update failed. Called by the
// background reconciler.
func (s *SettlementService) Reconcile(ctx context.Context, booking models.Booking) error {
	// a terminal booking needs no chain resolution even if a stale
	// reconcile flag survived a finalize race
	if fsm.Terminal(booking.Status) {
		return nil
	}
	if booking.Status != fsm.StatusSettling && !booking.ReconcileNeeded {
		return nil
	}
	if booking.SettlementTxRef == nil || *booking.SettlementTxRef == "" {
		// claimed but never broadcast; safe to reopen
		return s.Bookings.RollbackSettlement(ctx, booking.ID)
	}
	txRef := *booking.SettlementTxRef

	receipt, err := s.Chain.GetReceipt(ctx, txRef)
	if err != nil {
		var gwErr *ChainGatewayError
		if errors.As(err, &gwErr) && gwErr.StatusCode == 404 {
			// the gateway never saw the transaction, so no funds moved
			return s.Bookings.RollbackSettlement(ctx, booking.ID)
		}
		return err
	}

	switch receipt.Status {
	case TxStatusConfirmed:
		hasDamage, err := s.agreedClaim(ctx, booking.ID)
		if err != nil {
			return err
		}
		fee := decimal.Zero
		if hasDamage {
			proposal, err := s.Proposals.GetByBooking(ctx, booking.ID)
			if err != nil {
				return err
			}
			fee = proposal.Fee
		}
		outcome := outcomeOf(computePayout(booking, hasDamage, fee))
		if err := s.Bookings.FinalizeSettlement(ctx, booking.ID, outcome, txRef); err != nil {
			return err
		}
		s.releaseGuard(booking.ID, txRef)
		s.publish(booking, "confirmed", receipt.TxHash)
		return nil
	case TxStatusReverted:
		if err := s.Bookings.RollbackSettlement(ctx, booking.ID); err != nil {
			return err
		}
		s.releaseGuard(booking.ID, txRef)
		s.publish(booking, "failed", receipt.TxHash)
		return nil
	default:
		// still pending; next sweep will pick it up
		return nil
	}
}

// agreedClaim returns the acknowledged damage claim for the booking, or
// ErrNoConsensus when the pair is not frozen-and-matching.
func (s *SettlementService) agreedClaim(ctx context.Context, bookingID int) (bool, error) {
	current, err := s.Confirmations.Current(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if len(current) != 2 || current[0].HasDamage != current[1].HasDamage || !current[0].Frozen || !current[1].Frozen {
		return false, models.ErrNoConsensus
	}
	return current[0].HasDamage, nil
}

func outcomeOf(split payout) models.SettlementOutcome {
	if split.hasDamage {
		return models.SettlementOutcome{Kind: models.OutcomeDamaged, DamageFee: split.damageFee}
	}
	return models.SettlementOutcome{Kind: models.OutcomeNoDamage}
}

func (s *SettlementService) rollback(bookingID int, txRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Bookings.RollbackSettlement(ctx, bookingID); err != nil && s.ErrorLog != nil {
		s.ErrorLog.Printf("settlement: rollback of booking %d failed: %v", bookingID, err)
	}
	s.releaseGuard(bookingID, txRef)
}

func (s *SettlementService) releaseGuard(bookingID int, txRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Guard.Release(ctx, bookingID, txRef); err != nil && s.ErrorLog != nil {
		s.ErrorLog.Printf("settlement: releasing guard for booking %d failed: %v", bookingID, err)
	}
}

func (s *SettlementService) publish(booking models.Booking, phase, txHash string) {
	if s.Events == nil {
		return
	}
	status := booking.Status
	switch phase {
	case "confirmed":
		status = fsm.StatusSettled
	case "submitted", "reconciling":
		status = fsm.StatusSettling
	}
	s.Events.Publish(models.BookingEvent{
		Recipients: []int{booking.LessorID, booking.LesseeID},
		BookingID:  booking.ID,
		Status:     status,
		Phase:      phase,
		TxHash:     txHash,
		At:         time.Now().Unix(),
	})
}

func (s *SettlementService) notifyParties(ctx context.Context, booking models.Booking, outcome models.SettlementOutcome) {
	if s.Push == nil {
		return
	}
	body := "The deposit was refunded in full."
	if outcome.Kind == models.OutcomeDamaged {
		body = fmt.Sprintf("A damage fee of %s was settled against the deposit.", outcome.DamageFee.String())
	}
	data := map[string]string{
		"booking_id": strconv.Itoa(booking.ID),
		"event":      "settlement",
	}
	s.Push.Notify(ctx, booking.LessorID, "Booking settled", body, data)
	s.Push.Notify(ctx, booking.LesseeID, "Booking settled", body, data)
}

func receiptTime(r *TxReceipt) time.Time {
	if !r.ConfirmedAt.IsZero() {
		return r.ConfirmedAt
	}
	return time.Now()
}
