// Package notify fans booking events out to users and partners.
// Delivery is best effort: channel errors are logged and counted, never
// propagated to the booking flow.
package notify

import (
	"context"

	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Recipient is a resolved notification target
type Recipient struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	PushToken string `json:"push_token,omitempty"`
}

// Message is what a channel delivers
type Message struct {
	Type      string                 `json:"type"`
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	BookingID int64                  `json:"booking_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notifier is one delivery channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, to Recipient, msg Message) error
}

// LogNotifier writes notifications to the service log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, to Recipient, msg Message) error {
	n.logger.Info("Notification",
		zap.Int64("user_id", to.UserID),
		zap.String("type", msg.Type),
		zap.Int64("booking_id", msg.BookingID),
		zap.String("subject", msg.Subject))
	return nil
}
