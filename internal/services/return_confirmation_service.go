package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
)

// BookingReader is the read side of the booking store needed by the
// settlement workflow services.
type BookingReader interface {
	GetByID(ctx context.Context, id int) (models.Booking, error)
}

// ConfirmationStore persists per-party return claims. Submit is atomic: the
// supersede, the match decision, and the freeze happen in one step, so the
// pair can only freeze on values that were current together. It returns the
// pair as it stands after the write and whether anything changed; a frozen
// pair yields models.ErrConfirmationsClosed.
type ConfirmationStore interface {
	Current(ctx context.Context, bookingID int) ([]models.ReturnConfirmation, error)
	Submit(ctx context.Context, bookingID int, party string, hasDamage bool) ([]models.ReturnConfirmation, bool, error)
}

// EventPublisher pushes booking events to connected clients. Implementations
// must not block.
type EventPublisher interface {
	Publish(event models.BookingEvent)
}

// PushSender delivers a push notification to all devices of a user.
// Delivery failures must never fail the triggering operation.
type PushSender interface {
	Notify(ctx context.Context, userID int, title, body string, data map[string]string)
}

// ReturnConfirmationService collects each party's damage claim and decides
// when consensus is reached. Consensus is value equality of the two current
// claims, independent of submission order: whichever party submits last
// holds the current value for its side, and the pair freezes the moment both
// sides hold the same value.
type ReturnConfirmationService struct {
	Bookings      BookingReader
	Confirmations ConfirmationStore
	Events        EventPublisher
	Push          PushSender
}

// SubmitConfirmation records userID's claim for the booking and returns the
// resulting confirmation state. Identical resubmission is an idempotent
// no-op. A party may revise its claim freely until the pair is frozen.
func (s *ReturnConfirmationService) SubmitConfirmation(ctx context.Context, bookingID, userID int, hasDamage bool) (models.ConfirmationStatus, error) {
	booking, err := s.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return models.ConfirmationStatus{}, err
	}
	party := booking.PartyOf(userID)
	if party == "" {
		return models.ConfirmationStatus{}, models.ErrNotBookingParty
	}
	if booking.Status != fsm.StatusAwaitingConfirmation {
		return models.ConfirmationStatus{}, models.NewValidationError("booking %d is %s, confirmations are only accepted in %s", bookingID, booking.Status, fsm.StatusAwaitingConfirmation)
	}

	current, changed, err := s.Confirmations.Submit(ctx, bookingID, party, hasDamage)
	if err != nil {
		if errors.Is(err, models.ErrConfirmationsClosed) {
			return models.ConfirmationStatus{}, models.NewConflictError("confirmations for booking %d are acknowledged and frozen", bookingID)
		}
		return models.ConfirmationStatus{}, err
	}

	// acknowledgement is whatever the store decided in the same step as the
	// write; the service never promotes a matched read on its own
	status := statusFor(current, hasDamage)
	if !changed {
		return status, nil
	}

	s.notify(ctx, booking, userID, party, hasDamage, status)
	return status, nil
}

// statusFor derives the confirmation state from the currently held rows.
// The count is the number of parties holding a current claim, never an
// ad hoc counter: it is 1 after the first party speaks and 2 from the moment
// the counterpart first speaks, whether or not the values match.
func statusFor(current []models.ReturnConfirmation, hasDamage bool) models.ConfirmationStatus {
	status := models.ConfirmationStatus{Count: len(current), HasDamage: hasDamage}
	if len(current) == 2 {
		status.Matched = current[0].HasDamage == current[1].HasDamage
		status.Acknowledged = status.Matched && current[0].Frozen && current[1].Frozen
	}
	return status
}

func (s *ReturnConfirmationService) notify(ctx context.Context, booking models.Booking, userID int, party string, hasDamage bool, status models.ConfirmationStatus) {
	phase := "submitted"
	if status.Acknowledged {
		phase = "confirmed"
	}
	if s.Events != nil {
		hd := hasDamage
		s.Events.Publish(models.BookingEvent{
			Recipients: []int{booking.LessorID, booking.LesseeID},
			BookingID:  booking.ID,
			Status:     booking.Status,
			Phase:      phase,
			Party:      party,
			HasDamage:  &hd,
			At:         time.Now().Unix(),
		})
	}
	if s.Push != nil {
		title := "Return condition update"
		body := fmt.Sprintf("The other party reported the item as %s.", damageWord(hasDamage))
		if status.Acknowledged {
			title = "Return confirmed"
			body = fmt.Sprintf("Both parties agree: %s. Settlement can proceed.", damageWord(hasDamage))
		}
		s.Push.Notify(ctx, booking.Counterparty(userID), title, body, map[string]string{
			"booking_id": fmt.Sprintf("%d", booking.ID),
			"event":      "return_confirmation",
		})
	}
}

func damageWord(hasDamage bool) string {
	if hasDamage {
		return "damaged"
	}
	return "undamaged"
}
