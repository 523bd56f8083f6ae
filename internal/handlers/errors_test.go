package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"arendoBack/internal/models"
)

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantPhase string
	}{
		{"validation", models.NewValidationError("bad amount"), http.StatusBadRequest, ""},
		{"proof required", models.ErrProofRequired, http.StatusBadRequest, ""},
		{"not a party", models.ErrNotBookingParty, http.StatusForbidden, ""},
		{"not found", models.ErrBookingNotFound, http.StatusNotFound, ""},
		{"conflict", models.NewConflictError("already settled"), http.StatusConflict, ""},
		{"no consensus", models.ErrNoConsensus, http.StatusConflict, ""},
		{"fee missing", models.ErrFeeProposalMissing, http.StatusConflict, ""},
		{"send failed", &models.ChainSendError{Op: "release_payment", Err: errors.New("down")}, http.StatusBadGateway, "failed"},
		{"unconfirmed", &models.ChainConfirmError{TxRef: "ref-1", Err: errors.New("timeout")}, http.StatusGatewayTimeout, "pending_confirmation"},
		{"reconciling", &models.ReconciliationError{BookingID: 7, TxRef: "ref-1", Err: errors.New("db down")}, http.StatusInternalServerError, "reconciling"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err)

		if rec.Code != tt.wantCode {
			t.Errorf("%s: code = %d, want %d", tt.name, rec.Code, tt.wantCode)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Errorf("%s: decode body: %v", tt.name, err)
			continue
		}
		if body.Phase != tt.wantPhase {
			t.Errorf("%s: phase = %q, want %q", tt.name, body.Phase, tt.wantPhase)
		}
		if body.Error == "" {
			t.Errorf("%s: empty error message", tt.name)
		}
	}
}

func TestWriteError_WrappedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.Join(errors.New("context"), models.ErrNotBookingParty))
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrapped sentinel: code = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
