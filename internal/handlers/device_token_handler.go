package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"arendoBack/internal/repositories"
)

type DeviceTokenHandler struct {
	Repo *repositories.DeviceTokenRepository
}

// RegisterToken stores an FCM device token for the authenticated user so
// settlement notifications can reach them.
func (h *DeviceTokenHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		http.Error(w, "Token is required", http.StatusBadRequest)
		return
	}
	if err := h.Repo.Save(r.Context(), userID, req.Token); err != nil {
		http.Error(w, "Could not save device token", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
