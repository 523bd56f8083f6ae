package handlers

import (
	"encoding/json"
	"net/http"

	"arendoBack/internal/services"
)

type DamageFeeHandler struct {
	Service *services.DamageFeeService
}

// ProposeFee records the lessor's damage fee proposal. The amount comes in
// as a string so client-side float formatting never corrupts it.
func (h *DamageFeeHandler) ProposeFee(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	proposal, err := h.Service.ProposeFee(r.Context(), bookingID, userID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(proposal)
}
