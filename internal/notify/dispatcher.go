package notify

import (
	"context"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Resolver looks up the people behind a booking
type Resolver interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetPartnerByID(ctx context.Context, id int64) (*models.Partner, error)
}

// Dispatcher resolves recipients of a booking event and sends through every channel
type Dispatcher struct {
	resolver Resolver
	channels []Notifier
	logger   *zap.Logger
}

func NewDispatcher(resolver Resolver, channels ...Notifier) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		channels: channels,
		logger:   util.GetLogger(),
	}
}

type audience int

const (
	toUser audience = iota
	toPartner
)

// Dispatch notifies the booking's user and partner owner about event.
// Only recipient lookup errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.BookingEvent) error {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Dispatch")
	defer span.End()

	targets := map[audience]Recipient{}

	user, err := d.resolver.GetUserByID(ctx, event.UserID)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to resolve user %d: %w", event.UserID, err)
	}
	targets[toUser] = recipientOf(user)

	if event.EventType != models.EventTypePaymentNeedsRefund {
		owner, err := d.partnerOwner(ctx, event.PartnerID)
		if err != nil {
			// the user still hears about their booking
			d.logger.Warn("Failed to resolve partner owner",
				zap.Int64("partner_id", event.PartnerID), zap.Error(err))
		} else {
			targets[toPartner] = recipientOf(owner)
		}
	}

	for who, to := range targets {
		msg, ok := compose(event, who)
		if !ok {
			continue
		}
		d.send(ctx, to, msg)
	}
	return nil
}

func (d *Dispatcher) partnerOwner(ctx context.Context, partnerID int64) (*models.User, error) {
	partner, err := d.resolver.GetPartnerByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	return d.resolver.GetUserByID(ctx, partner.UserID)
}

func (d *Dispatcher) send(ctx context.Context, to Recipient, msg Message) {
	for _, ch := range d.channels {
		if err := ch.Notify(ctx, to, msg); err != nil {
			util.NotificationsSentTotal.WithLabelValues(ch.Name(), "error").Inc()
			d.logger.Warn("Notification failed",
				zap.String("channel", ch.Name()),
				zap.Int64("user_id", to.UserID),
				zap.Int64("booking_id", msg.BookingID),
				zap.Error(err))
			continue
		}
		util.NotificationsSentTotal.WithLabelValues(ch.Name(), "ok").Inc()
	}
}

func recipientOf(u *models.User) Recipient {
	return Recipient{
		UserID:    u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		PushToken: u.PushToken,
	}
}

func compose(e *models.BookingEvent, who audience) (Message, bool) {
	amount := fmt.Sprintf("%s %s", e.Amount.StringFixed(2), e.Currency)
	dates := fmt.Sprintf("%s to %s", e.DateFrom, e.DateTo)

	var subject, body string
	switch e.EventType {
	case models.EventTypeBookingCreated:
		if who == toUser {
			subject = "Booking received"
			body = fmt.Sprintf("Your booking #%d for %s is awaiting payment of %s.", e.BookingID, dates, amount)
		} else {
			subject = "New booking request"
			body = fmt.Sprintf("Booking #%d for %s was requested and is awaiting payment.", e.BookingID, dates)
		}
	case models.EventTypeBookingConfirmed:
		if who == toUser {
			subject = "Booking confirmed"
			body = fmt.Sprintf("Payment of %s received. Booking #%d for %s is confirmed.", amount, e.BookingID, dates)
		} else {
			subject = "New confirmed booking"
			body = fmt.Sprintf("Booking #%d for %s is confirmed and paid.", e.BookingID, dates)
		}
	case models.EventTypeBookingCancelled:
		subject = "Booking cancelled"
		body = fmt.Sprintf("Booking #%d for %s was cancelled because the payment failed.", e.BookingID, dates)
	case models.EventTypeBookingExpired:
		subject = "Booking expired"
		body = fmt.Sprintf("Booking #%d for %s expired before payment was completed.", e.BookingID, dates)
	case models.EventTypeBookingCompleted:
		if who == toUser {
			subject = "Thanks for staying with us"
			body = fmt.Sprintf("Booking #%d is complete. We hope you enjoyed it.", e.BookingID)
		} else {
			subject = "Booking completed"
			body = fmt.Sprintf("Booking #%d for %s is complete.", e.BookingID, dates)
		}
	case models.EventTypePaymentNeedsRefund:
		subject = "Refund on the way"
		body = fmt.Sprintf("We received %s for booking #%d after it was closed. The payment will be refunded.", amount, e.BookingID)
	default:
		return Message{}, false
	}

	return Message{
		Type:      e.EventType,
		Subject:   subject,
		Body:      body,
		BookingID: e.BookingID,
		Data: map[string]interface{}{
			"booking_id": e.BookingID,
			"status":     e.Status,
			"tx_ref":     e.TxRef,
		},
	}, true
}
