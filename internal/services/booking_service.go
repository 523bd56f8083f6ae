package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
	"arendoBack/internal/repositories"
)

// ProofUploader stores the handover proof artifact and returns its URL.
type ProofUploader interface {
	Upload(file []byte, fileName, folder string) (string, error)
}

// ReceiptChecker verifies that a payment transaction confirmed on chain.
type ReceiptChecker interface {
	GetReceipt(ctx context.Context, txRef string) (*TxReceipt, error)
}

// BookingService owns the booking lifecycle up to the settlement workflow:
// creation, lessor approval, escrow payment, activation, and return
// initiation with the handover proof.
type BookingService struct {
	BookingRepo      *repositories.BookingRepository
	ConfirmationRepo *repositories.ReturnConfirmationRepository
	FeeRepo          *repositories.DamageFeeRepository
	Chain            ReceiptChecker
	Uploader         ProofUploader
	Events           EventPublisher
}

func (s *BookingService) CreateBooking(ctx context.Context, lesseeID int, req models.CreateBookingRequest) (models.Booking, error) {
	if req.LessorID <= 0 || req.ItemID <= 0 {
		return models.Booking{}, models.NewValidationError("item_id and lessor_id are required")
	}
	if req.LessorID == lesseeID {
		return models.Booking{}, models.NewValidationError("lessor and lessee must be different users")
	}

	rentalFee, err := parseAmount("rental_fee", req.RentalFee)
	if err != nil {
		return models.Booking{}, err
	}
	deposit, err := parseAmount("security_deposit", req.SecurityDeposit)
	if err != nil {
		return models.Booking{}, err
	}
	platformFee, err := parseAmount("platform_fee", req.PlatformFee)
	if err != nil {
		return models.Booking{}, err
	}
	total, err := parseAmount("total_amount", req.TotalAmount)
	if err != nil {
		return models.Booking{}, err
	}
	if !total.Equal(rentalFee.Add(deposit).Add(platformFee)) {
		return models.Booking{}, models.NewValidationError("total_amount must equal rental_fee + security_deposit + platform_fee")
	}

	return s.BookingRepo.Create(ctx, models.Booking{
		ItemID:          req.ItemID,
		LessorID:        req.LessorID,
		LesseeID:        lesseeID,
		RentalFee:       rentalFee,
		SecurityDeposit: deposit,
		PlatformFee:     platformFee,
		TotalAmount:     total,
	})
}

// ApproveBooking is a lessor-only action with no financial side effect.
func (s *BookingService) ApproveBooking(ctx context.Context, bookingID, userID int) error {
	return s.lessorDecision(ctx, bookingID, userID, fsm.StatusApproved)
}

// DeclineBooking terminates the booking before any funds move.
func (s *BookingService) DeclineBooking(ctx context.Context, bookingID, userID int) error {
	return s.lessorDecision(ctx, bookingID, userID, fsm.StatusDeclined)
}

func (s *BookingService) lessorDecision(ctx context.Context, bookingID, userID int, to string) error {
	booking, err := s.BookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.PartyOf(userID) != models.PartyLessor {
		return models.ErrNotBookingParty
	}
	err = s.BookingRepo.Transition(ctx, bookingID, fsm.StatusPending, to)
	if err := mapTransitionErr(err, booking.Status, to); err != nil {
		return err
	}
	s.publishStatus(booking, to)
	return nil
}

// MarkPaid moves the booking to paid once the lessee's escrow payment
// transaction has a confirmed receipt. Submission alone is not enough: a
// pending transaction leaves the booking approved.
func (s *BookingService) MarkPaid(ctx context.Context, bookingID, userID int, txHash string) error {
	booking, err := s.BookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.PartyOf(userID) != models.PartyLessee {
		return models.ErrNotBookingParty
	}
	if booking.Status != fsm.StatusApproved {
		return models.NewValidationError("booking %d is %s, payment requires %s", bookingID, booking.Status, fsm.StatusApproved)
	}
	if strings.TrimSpace(txHash) == "" {
		return models.NewValidationError("tx_hash is required")
	}

	receipt, err := s.Chain.GetReceipt(ctx, txHash)
	if err != nil {
		return &models.ChainSendError{Op: "verify payment", Err: err}
	}
	switch receipt.Status {
	case TxStatusConfirmed:
	case TxStatusPending:
		return models.NewConflictError("payment transaction %s is not confirmed yet", txHash)
	default:
		return models.NewValidationError("payment transaction %s was reverted", txHash)
	}

	err = s.BookingRepo.MarkPaid(ctx, bookingID, txHash)
	if err := mapTransitionErr(err, booking.Status, fsm.StatusPaid); err != nil {
		return err
	}
	s.publishStatus(booking, fsm.StatusPaid)
	return nil
}

// ActivateBooking marks the start of the rental period.
func (s *BookingService) ActivateBooking(ctx context.Context, bookingID, userID int) error {
	booking, err := s.BookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.PartyOf(userID) == "" {
		return models.ErrNotBookingParty
	}
	err = s.BookingRepo.Transition(ctx, bookingID, fsm.StatusPaid, fsm.StatusActive)
	if err := mapTransitionErr(err, booking.Status, fsm.StatusActive); err != nil {
		return err
	}
	s.publishStatus(booking, fsm.StatusActive)
	return nil
}

// InitiateReturn uploads the handover proof and opens the confirmation
// window. The proof artifact is mandatory: without it the booking stays
// active.
func (s *BookingService) InitiateReturn(ctx context.Context, bookingID, userID int, file []byte, fileName string) (string, error) {
	booking, err := s.BookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return "", err
	}
	if booking.PartyOf(userID) != models.PartyLessee {
		return "", models.ErrNotBookingParty
	}
	if booking.Status != fsm.StatusActive {
		return "", models.NewValidationError("booking %d is %s, return can only be initiated while %s", bookingID, booking.Status, fsm.StatusActive)
	}
	if len(file) == 0 {
		return "", models.ErrProofRequired
	}

	proofURL, err := s.Uploader.Upload(file, fmt.Sprintf("booking_%d_%d_%s", bookingID, time.Now().Unix(), fileName), "handover_proofs")
	if err != nil {
		return "", fmt.Errorf("upload handover proof: %w", err)
	}

	err = s.BookingRepo.AttachHandoverProof(ctx, bookingID, proofURL)
	if err := mapTransitionErr(err, booking.Status, fsm.StatusAwaitingConfirmation); err != nil {
		return "", err
	}
	s.publishStatus(booking, fsm.StatusAwaitingConfirmation)
	return proofURL, nil
}

// GetBooking returns the booking with its current confirmations and the
// outstanding fee proposal, visible only to the two parties.
func (s *BookingService) GetBooking(ctx context.Context, bookingID, userID int) (models.BookingView, error) {
	booking, err := s.BookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return models.BookingView{}, err
	}
	if booking.PartyOf(userID) == "" {
		return models.BookingView{}, models.ErrNotBookingParty
	}
	view := models.BookingView{Booking: booking}

	view.Confirmations, err = s.ConfirmationRepo.Current(ctx, bookingID)
	if err != nil {
		return models.BookingView{}, err
	}
	proposal, err := s.FeeRepo.GetByBooking(ctx, bookingID)
	switch {
	case err == nil:
		view.FeeProposal = &proposal
	case errors.Is(err, models.ErrFeeProposalMissing):
	default:
		return models.BookingView{}, err
	}
	return view, nil
}

func (s *BookingService) ListBookings(ctx context.Context, userID int) ([]models.Booking, error) {
	return s.BookingRepo.ListByUser(ctx, userID)
}

func (s *BookingService) publishStatus(booking models.Booking, status string) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(models.BookingEvent{
		Recipients: []int{booking.LessorID, booking.LesseeID},
		BookingID:  booking.ID,
		Status:     status,
		At:         time.Now().Unix(),
	})
}

// mapTransitionErr converts the conditional-update miss into the
// invalid-transition rejection the state machine promises.
func mapTransitionErr(err error, from, to string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, fsm.ErrInvalidTransition) {
		return models.NewValidationError("cannot transition booking from %s to %s", from, to)
	}
	return err
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if cleaned == "" {
		return decimal.Decimal{}, models.NewValidationError("%s is required", field)
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, models.NewValidationError("%s %q is not a number", field, raw)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, models.NewValidationError("%s must not be negative", field)
	}
	return amount, nil
}
