package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"arendoBack/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
	Phase string `json:"phase,omitempty"`
}

// writeError maps the settlement error taxonomy onto HTTP statuses. Chain
// errors carry a phase so the client can tell "nothing happened, retry"
// (502) apart from "broadcast but unresolved, do not retry" (504) and
// "funds moved, record reconciling" (500).
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *models.ValidationError
		conflictErr   *models.ConflictError
		sendErr       *models.ChainSendError
		confirmErr    *models.ChainConfirmError
		reconcileErr  *models.ReconciliationError
	)
	switch {
	case errors.As(err, &validationErr):
		writeJSONError(w, http.StatusBadRequest, errorResponse{Error: validationErr.Reason})
	case errors.Is(err, models.ErrProofRequired):
		writeJSONError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrNotBookingParty):
		writeJSONError(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrBookingNotFound), errors.Is(err, models.ErrNoRecord):
		writeJSONError(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &conflictErr):
		writeJSONError(w, http.StatusConflict, errorResponse{Error: conflictErr.Reason})
	case errors.Is(err, models.ErrNoConsensus),
		errors.Is(err, models.ErrNoDamageAgreed),
		errors.Is(err, models.ErrFeeProposalMissing),
		errors.Is(err, models.ErrConfirmationsClosed):
		writeJSONError(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &sendErr):
		writeJSONError(w, http.StatusBadGateway, errorResponse{Error: sendErr.Error(), Phase: "failed"})
	case errors.As(err, &confirmErr):
		writeJSONError(w, http.StatusGatewayTimeout, errorResponse{Error: confirmErr.Error(), Phase: "pending_confirmation"})
	case errors.As(err, &reconcileErr):
		writeJSONError(w, http.StatusInternalServerError, errorResponse{Error: reconcileErr.Error(), Phase: "reconciling"})
	default:
		writeJSONError(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSONError(w http.ResponseWriter, code int, body errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
