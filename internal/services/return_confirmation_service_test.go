package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
)

type stubBookings struct {
	booking models.Booking
}

func (s *stubBookings) GetByID(ctx context.Context, id int) (models.Booking, error) {
	if id != s.booking.ID {
		return models.Booking{}, models.ErrBookingNotFound
	}
	return s.booking, nil
}

// memConfirmations keeps one current row per party and mirrors the store
// contract: supersede on revision, refuse frozen rows, no-op on identical
// resubmission, and freeze in the same step that makes the pair match.
type memConfirmations struct {
	rows    map[string]*models.ReturnConfirmation
	seq     int
	submits int
	freezes int
}

func newMemConfirmations() *memConfirmations {
	return &memConfirmations{rows: make(map[string]*models.ReturnConfirmation)}
}

func (m *memConfirmations) Current(ctx context.Context, bookingID int) ([]models.ReturnConfirmation, error) {
	var out []models.ReturnConfirmation
	for _, row := range m.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Party < out[j].Party })
	return out, nil
}

func (m *memConfirmations) Submit(ctx context.Context, bookingID int, party string, hasDamage bool) ([]models.ReturnConfirmation, bool, error) {
	mine := m.rows[party]
	if mine != nil && mine.Frozen {
		return nil, false, models.ErrConfirmationsClosed
	}
	if mine != nil && mine.HasDamage == hasDamage {
		cur, _ := m.Current(ctx, bookingID)
		return cur, false, nil
	}

	m.seq++
	m.submits++
	row := models.ReturnConfirmation{
		ID:        m.seq,
		BookingID: bookingID,
		Party:     party,
		HasDamage: hasDamage,
		Seq:       m.seq,
		CreatedAt: time.Now(),
	}
	m.rows[party] = &row

	if len(m.rows) == 2 {
		match := true
		for _, r := range m.rows {
			if r.HasDamage != hasDamage {
				match = false
			}
		}
		if match {
			m.freezes++
			for _, r := range m.rows {
				r.Frozen = true
			}
		}
	}

	cur, _ := m.Current(ctx, bookingID)
	return cur, true, nil
}

type eventSink struct {
	events []models.BookingEvent
}

func (e *eventSink) Publish(ev models.BookingEvent) { e.events = append(e.events, ev) }

func awaitingBooking() models.Booking {
	return models.Booking{
		ID:              7,
		ItemID:          3,
		LessorID:        11,
		LesseeID:        22,
		RentalFee:       decimal.NewFromInt(100),
		SecurityDeposit: decimal.NewFromInt(50),
		Status:          fsm.StatusAwaitingConfirmation,
	}
}

func newConfirmationService(b models.Booking, store ConfirmationStore) *ReturnConfirmationService {
	return &ReturnConfirmationService{
		Bookings:      &stubBookings{booking: b},
		Confirmations: store,
	}
}

func TestSubmitConfirmation_FirstClaimCountsOne(t *testing.T) {
	booking := awaitingBooking()
	svc := newConfirmationService(booking, newMemConfirmations())

	status, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Count != 1 {
		t.Errorf("count = %d, want 1", status.Count)
	}
	if status.Matched || status.Acknowledged {
		t.Errorf("single claim must not match: %+v", status)
	}
}

func TestSubmitConfirmation_MatchingPairFreezes(t *testing.T) {
	booking := awaitingBooking()
	store := newMemConfirmations()
	svc := newConfirmationService(booking, store)

	if _, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true); err != nil {
		t.Fatalf("lessor claim: %v", err)
	}
	status, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LesseeID, true)
	if err != nil {
		t.Fatalf("lessee claim: %v", err)
	}
	if status.Count != 2 || !status.Matched || !status.Acknowledged {
		t.Errorf("status = %+v, want count 2 matched acknowledged", status)
	}
	if store.freezes != 1 {
		t.Errorf("freezes = %d, want 1", store.freezes)
	}
}

func TestSubmitConfirmation_MismatchStaysOpen(t *testing.T) {
	booking := awaitingBooking()
	store := newMemConfirmations()
	svc := newConfirmationService(booking, store)

	if _, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true); err != nil {
		t.Fatalf("lessor claim: %v", err)
	}
	status, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LesseeID, false)
	if err != nil {
		t.Fatalf("lessee claim: %v", err)
	}
	if status.Count != 2 {
		t.Errorf("count = %d, want 2", status.Count)
	}
	if status.Matched || status.Acknowledged {
		t.Errorf("conflicting claims must not match: %+v", status)
	}
	if store.freezes != 0 {
		t.Errorf("freezes = %d, want 0", store.freezes)
	}
}

func TestSubmitConfirmation_SoloRevisionOverwrites(t *testing.T) {
	booking := awaitingBooking()
	store := newMemConfirmations()
	svc := newConfirmationService(booking, store)

	if _, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// the revision before the counterpart speaks replaces the held value
	status, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, false)
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if status.Count != 1 {
		t.Errorf("count = %d, want 1", status.Count)
	}
	if status.HasDamage {
		t.Error("effective claim must be the revised value")
	}
	if held := store.rows[models.PartyLessor]; held == nil || held.HasDamage {
		t.Errorf("held row = %+v, want current claim false", held)
	}
	if store.submits != 2 {
		t.Errorf("submits = %d, want 2 (revision supersedes, not appends)", store.submits)
	}
}

func TestSubmitConfirmation_RevisionResolvesMismatch(t *testing.T) {
	booking := awaitingBooking()
	store := newMemConfirmations()
	svc := newConfirmationService(booking, store)

	svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true)
	svc.SubmitConfirmation(context.Background(), booking.ID, booking.LesseeID, false)

	// lessee changes their mind; the revision supersedes, not appends
	status, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LesseeID, true)
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if status.Count != 2 || !status.Matched || !status.Acknowledged {
		t.Errorf("status = %+v, want count 2 matched acknowledged", status)
	}
}

func TestSubmitConfirmation_IdenticalResubmitIsNoop(t *testing.T) {
	booking := awaitingBooking()
	store := newMemConfirmations()
	events := &eventSink{}
	svc := newConfirmationService(booking, store)
	svc.Events = events

	svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true)
	before := store.submits
	published := len(events.events)

	status, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if store.submits != before {
		t.Errorf("submits = %d, want %d (no new row on identical resubmit)", store.submits, before)
	}
	if len(events.events) != published {
		t.Error("no-op resubmit must not publish an event")
	}
	if status.Count != 1 {
		t.Errorf("count = %d, want 1", status.Count)
	}
}

func TestSubmitConfirmation_FrozenPairRejectsRevision(t *testing.T) {
	booking := awaitingBooking()
	store := newMemConfirmations()
	svc := newConfirmationService(booking, store)

	svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, false)
	svc.SubmitConfirmation(context.Background(), booking.ID, booking.LesseeID, false)

	_, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true)
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

// scriptedConfirmations returns a fixed pair, standing in for a store where
// a concurrent revision landed during the submission.
type scriptedConfirmations struct {
	pair []models.ReturnConfirmation
}

func (s *scriptedConfirmations) Current(ctx context.Context, bookingID int) ([]models.ReturnConfirmation, error) {
	return s.pair, nil
}

func (s *scriptedConfirmations) Submit(ctx context.Context, bookingID int, party string, hasDamage bool) ([]models.ReturnConfirmation, bool, error) {
	return s.pair, true, nil
}

// The store alone decides acknowledgement, in the same atomic step as the
// write. If it hands back a matched pair it did not freeze — the
// counterpart revised while this submission was in flight — the service
// must not report acknowledgement or announce consensus.
func TestSubmitConfirmation_UnfrozenMatchIsNotAcknowledged(t *testing.T) {
	booking := awaitingBooking()
	store := &scriptedConfirmations{pair: []models.ReturnConfirmation{
		{BookingID: booking.ID, Party: models.PartyLessee, HasDamage: false, Frozen: false},
		{BookingID: booking.ID, Party: models.PartyLessor, HasDamage: false, Frozen: false},
	}}
	events := &eventSink{}
	svc := newConfirmationService(booking, store)
	svc.Events = events

	status, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Matched {
		t.Errorf("status = %+v, want matched", status)
	}
	if status.Acknowledged {
		t.Error("acknowledged without the store freezing the pair")
	}
	if len(events.events) != 1 || events.events[0].Phase != "submitted" {
		t.Errorf("events = %+v, want a single submitted-phase event", events.events)
	}
}

func TestSubmitConfirmation_RejectsNonParty(t *testing.T) {
	booking := awaitingBooking()
	svc := newConfirmationService(booking, newMemConfirmations())

	_, err := svc.SubmitConfirmation(context.Background(), booking.ID, 999, true)
	if !errors.Is(err, models.ErrNotBookingParty) {
		t.Fatalf("err = %v, want ErrNotBookingParty", err)
	}
}

func TestSubmitConfirmation_RejectsWrongStatus(t *testing.T) {
	booking := awaitingBooking()
	booking.Status = fsm.StatusActive
	svc := newConfirmationService(booking, newMemConfirmations())

	_, err := svc.SubmitConfirmation(context.Background(), booking.ID, booking.LessorID, true)
	var invalid *models.ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}
