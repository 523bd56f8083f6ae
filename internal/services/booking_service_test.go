package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"arendoBack/internal/escrow/fsm"
	"arendoBack/internal/models"
)

func TestParseAmount(t *testing.T) {
	amount, err := parseAmount("rental_fee", " 120,50 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.String() != "120.5" {
		t.Errorf("amount = %s, want 120.5", amount)
	}

	for _, raw := range []string{"", "  ", "-5", "twelve"} {
		if _, err := parseAmount("rental_fee", raw); err == nil {
			t.Errorf("parseAmount(%q) accepted", raw)
		}
		var invalid *models.ValidationError
		if _, err := parseAmount("rental_fee", raw); !errors.As(err, &invalid) {
			t.Errorf("parseAmount(%q) err = %v, want ValidationError", raw, err)
		}
	}
}

func TestCreateBooking_ValidatesRequest(t *testing.T) {
	svc := &BookingService{}
	valid := models.CreateBookingRequest{
		ItemID:          3,
		LessorID:        11,
		RentalFee:       "100",
		SecurityDeposit: "50",
		PlatformFee:     "5",
		TotalAmount:     "155",
	}

	tests := []struct {
		name   string
		mutate func(*models.CreateBookingRequest)
	}{
		{"missing lessor", func(r *models.CreateBookingRequest) { r.LessorID = 0 }},
		{"lessor books own item", func(r *models.CreateBookingRequest) { r.LessorID = 22 }},
		{"negative deposit", func(r *models.CreateBookingRequest) { r.SecurityDeposit = "-50" }},
		{"total mismatch", func(r *models.CreateBookingRequest) { r.TotalAmount = "150" }},
	}
	for _, tt := range tests {
		req := valid
		tt.mutate(&req)
		_, err := svc.CreateBooking(context.Background(), 22, req)
		var invalid *models.ValidationError
		if !errors.As(err, &invalid) {
			t.Errorf("%s: err = %v, want ValidationError", tt.name, err)
		}
	}
}

func TestMapTransitionErr(t *testing.T) {
	if err := mapTransitionErr(nil, "pending", "approved"); err != nil {
		t.Errorf("nil mapped to %v", err)
	}

	var invalid *models.ValidationError
	if err := mapTransitionErr(sql.ErrNoRows, "pending", "approved"); !errors.As(err, &invalid) {
		t.Errorf("conditional-update miss mapped to %v, want ValidationError", err)
	}
	if err := mapTransitionErr(fsm.ErrInvalidTransition, "settled", "active"); !errors.As(err, &invalid) {
		t.Errorf("invalid transition mapped to %v, want ValidationError", err)
	}
	if err := mapTransitionErr(errors.New("connection reset"), "pending", "approved"); errors.As(err, &invalid) {
		t.Error("infrastructure error mapped to ValidationError")
	}
}
