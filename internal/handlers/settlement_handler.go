package handlers

import (
	"encoding/json"
	"net/http"

	"arendoBack/internal/services"
)

type SettlementHandler struct {
	Service *services.SettlementService
}

// Settle triggers the terminal on-chain fund movement for a booking. The
// call blocks until the transaction receipt resolves; the response never
// claims success before the chain confirmed.
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	receipt, err := h.Service.Settle(r.Context(), bookingID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}
