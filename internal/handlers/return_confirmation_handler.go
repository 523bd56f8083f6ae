package handlers

import (
	"encoding/json"
	"net/http"

	"arendoBack/internal/services"
)

type ReturnConfirmationHandler struct {
	Service *services.ReturnConfirmationService
}

// SubmitConfirmation records the caller's claim about the condition of the
// returned item.
func (h *ReturnConfirmationHandler) SubmitConfirmation(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	var req struct {
		HasDamage bool `json:"has_damage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	status, err := h.Service.SubmitConfirmation(r.Context(), bookingID, userID, req.HasDamage)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
