package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"arendoBack/internal/models"
	"arendoBack/internal/services"
)

// maxProofSize bounds the handover proof upload.
const maxProofSize = 10 << 20 // 10 MB

type BookingHandler struct {
	Service *services.BookingService
}

func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req models.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	booking, err := h.Service.CreateBooking(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(booking)
}

func (h *BookingHandler) GetBookingByID(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	view, err := h.Service.GetBooking(r.Context(), bookingID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (h *BookingHandler) GetBookingsByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	bookings, err := h.Service.ListBookings(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bookings)
}

func (h *BookingHandler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	if err := h.Service.ApproveBooking(r.Context(), bookingID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *BookingHandler) DeclineBooking(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeclineBooking(r.Context(), bookingID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *BookingHandler) PayBooking(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	var req struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.Service.MarkPaid(r.Context(), bookingID, userID, req.TxHash); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *BookingHandler) ActivateBooking(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	if err := h.Service.ActivateBooking(r.Context(), bookingID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// InitiateReturn accepts a multipart form with the handover proof image and
// opens the confirmation window.
func (h *BookingHandler) InitiateReturn(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := authedBookingID(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxProofSize); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("proof")
	if err != nil {
		http.Error(w, "Handover proof file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxProofSize))
	if err != nil {
		http.Error(w, "Failed to read proof file", http.StatusBadRequest)
		return
	}

	proofURL, err := h.Service.InitiateReturn(r.Context(), bookingID, userID, data, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"handover_proof_url": proofURL})
}

// authedBookingID pulls the authenticated user and the :id path parameter.
func authedBookingID(w http.ResponseWriter, r *http.Request) (userID, bookingID int, ok bool) {
	userID, okUser := r.Context().Value("user_id").(int)
	if !okUser {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, 0, false
	}
	idStr := getParam(r, "id")
	if idStr == "" {
		http.Error(w, "Missing booking ID", http.StatusBadRequest)
		return 0, 0, false
	}
	bookingID, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "Invalid booking ID", http.StatusBadRequest)
		return 0, 0, false
	}
	return userID, bookingID, true
}
