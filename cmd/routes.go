package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	authMiddleware := standardMiddleware.Append(app.jwtAuth)

	mux := pat.New()

	// Bookings
	mux.Post("/booking", authMiddleware.ThenFunc(app.bookingHandler.CreateBooking))
	mux.Get("/booking/user", authMiddleware.ThenFunc(app.bookingHandler.GetBookingsByUser))
	mux.Get("/booking/:id", authMiddleware.ThenFunc(app.bookingHandler.GetBookingByID))
	mux.Post("/booking/:id/approve", authMiddleware.ThenFunc(app.bookingHandler.ApproveBooking))
	mux.Post("/booking/:id/decline", authMiddleware.ThenFunc(app.bookingHandler.DeclineBooking))
	mux.Post("/booking/:id/pay", authMiddleware.ThenFunc(app.bookingHandler.PayBooking))
	mux.Post("/booking/:id/activate", authMiddleware.ThenFunc(app.bookingHandler.ActivateBooking))
	mux.Post("/booking/:id/return", authMiddleware.ThenFunc(app.bookingHandler.InitiateReturn))

	// Return settlement
	mux.Post("/booking/:id/confirmation", authMiddleware.ThenFunc(app.confirmationHandler.SubmitConfirmation))
	mux.Post("/booking/:id/damage_fee", authMiddleware.ThenFunc(app.damageFeeHandler.ProposeFee))
	mux.Post("/booking/:id/settle", authMiddleware.ThenFunc(app.settlementHandler.Settle))

	// Notifications
	mux.Post("/device_token", authMiddleware.ThenFunc(app.deviceTokenHandler.RegisterToken))

	// Live booking events
	mux.Get("/ws/bookings", authMiddleware.ThenFunc(app.WebSocketHandler))

	return mux
}
