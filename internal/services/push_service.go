package services

import (
	"context"
	"log"

	"firebase.google.com/go/messaging"

	"arendoBack/internal/repositories"
)

// PushService delivers FCM notifications to a user's registered devices.
// Notification delivery is best effort: failures are logged and swallowed so
// they can never fail a booking operation.
type PushService struct {
	Client   *messaging.Client
	Tokens   *repositories.DeviceTokenRepository
	ErrorLog *log.Logger
}

func (s *PushService) Notify(ctx context.Context, userID int, title, body string, data map[string]string) {
	if s == nil || s.Client == nil {
		return
	}
	tokens, err := s.Tokens.TokensByUser(ctx, userID)
	if err != nil {
		if s.ErrorLog != nil {
			s.ErrorLog.Printf("push: loading tokens for user %d: %v", userID, err)
		}
		return
	}
	for _, token := range tokens {
		msg := &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Data: data,
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		}
		if _, err := s.Client.Send(ctx, msg); err != nil && s.ErrorLog != nil {
			s.ErrorLog.Printf("push: sending to user %d: %v", userID, err)
		}
	}
}
