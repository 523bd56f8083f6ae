package services

import (
	"context"
	"errors"
	"testing"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
)

type memProposals struct {
	saved *models.DamageFeeProposal
}

func (m *memProposals) Upsert(ctx context.Context, p models.DamageFeeProposal) (models.DamageFeeProposal, error) {
	p.ID = 1
	m.saved = &p
	return p, nil
}

func (m *memProposals) GetByBooking(ctx context.Context, bookingID int) (models.DamageFeeProposal, error) {
	if m.saved == nil {
		return models.DamageFeeProposal{}, models.ErrFeeProposalMissing
	}
	return *m.saved, nil
}

// frozenPair returns a confirmation store where both parties already hold
// frozen, matching claims. The second matching submission freezes the pair.
func frozenPair(bookingID int, hasDamage bool) *memConfirmations {
	store := newMemConfirmations()
	store.Submit(context.Background(), bookingID, models.PartyLessor, hasDamage)
	store.Submit(context.Background(), bookingID, models.PartyLessee, hasDamage)
	return store
}

func TestNormalizeFee(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "25.50", want: "25.5"},
		{raw: " 10 ", want: "10"},
		{raw: "3,75", want: "3.75"},
		{raw: "0.123456789012345", want: "0.123456789"},
		{raw: "0", want: "0"},
		{raw: "-1", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		fee, err := NormalizeFee(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeFee(%q) = %s, want error", tt.raw, fee)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeFee(%q): %v", tt.raw, err)
			continue
		}
		if fee.String() != tt.want {
			t.Errorf("NormalizeFee(%q) = %s, want %s", tt.raw, fee, tt.want)
		}
	}
}

func TestNormalizeFee_TruncatesNotRounds(t *testing.T) {
	fee, err := NormalizeFee("0.99999999999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee.String() != "0.9999999999" {
		t.Errorf("fee = %s, want 0.9999999999", fee)
	}
}

func TestProposeFee_ComputesDifferential(t *testing.T) {
	booking := awaitingBooking() // deposit 50
	proposals := &memProposals{}
	svc := &DamageFeeService{
		Bookings:      &stubBookings{booking: booking},
		Confirmations: frozenPair(booking.ID, true),
		Proposals:     proposals,
	}

	proposal, err := svc.ProposeFee(context.Background(), booking.ID, booking.LessorID, "65")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proposal.Fee.String() != "65" {
		t.Errorf("fee = %s, want 65", proposal.Fee)
	}
	if proposal.Differential.String() != "15" {
		t.Errorf("differential = %s, want 15", proposal.Differential)
	}

	// a second proposal supersedes the first
	proposal, err = svc.ProposeFee(context.Background(), booking.ID, booking.LessorID, "30")
	if err != nil {
		t.Fatalf("second proposal: %v", err)
	}
	if proposal.Differential.String() != "-20" {
		t.Errorf("differential = %s, want -20", proposal.Differential)
	}
	if proposals.saved.Fee.String() != "30" {
		t.Errorf("stored fee = %s, want 30", proposals.saved.Fee)
	}
}

func TestProposeFee_LessorOnly(t *testing.T) {
	booking := awaitingBooking()
	svc := &DamageFeeService{
		Bookings:      &stubBookings{booking: booking},
		Confirmations: frozenPair(booking.ID, true),
		Proposals:     &memProposals{},
	}

	_, err := svc.ProposeFee(context.Background(), booking.ID, booking.LesseeID, "10")
	if !errors.Is(err, models.ErrNotBookingParty) {
		t.Fatalf("err = %v, want ErrNotBookingParty", err)
	}
}

func TestProposeFee_RequiresConsensus(t *testing.T) {
	booking := awaitingBooking()
	store := newMemConfirmations()
	store.Submit(context.Background(), booking.ID, models.PartyLessor, true)
	svc := &DamageFeeService{
		Bookings:      &stubBookings{booking: booking},
		Confirmations: store,
		Proposals:     &memProposals{},
	}

	_, err := svc.ProposeFee(context.Background(), booking.ID, booking.LessorID, "10")
	if !errors.Is(err, models.ErrNoConsensus) {
		t.Fatalf("err = %v, want ErrNoConsensus", err)
	}
}

func TestProposeFee_RejectsWhenNoDamageAgreed(t *testing.T) {
	booking := awaitingBooking()
	svc := &DamageFeeService{
		Bookings:      &stubBookings{booking: booking},
		Confirmations: frozenPair(booking.ID, false),
		Proposals:     &memProposals{},
	}

	_, err := svc.ProposeFee(context.Background(), booking.ID, booking.LessorID, "10")
	if !errors.Is(err, models.ErrNoDamageAgreed) {
		t.Fatalf("err = %v, want ErrNoDamageAgreed", err)
	}
}

func TestProposeFee_SettledConflict(t *testing.T) {
	booking := awaitingBooking()
	booking.Status = fsm.StatusSettled
	svc := &DamageFeeService{
		Bookings:      &stubBookings{booking: booking},
		Confirmations: frozenPair(booking.ID, true),
		Proposals:     &memProposals{},
	}

	_, err := svc.ProposeFee(context.Background(), booking.ID, booking.LessorID, "10")
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}
