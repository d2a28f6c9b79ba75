package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher sends raw keyed events
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
	timeout  time.Duration
}

// NewEventPublisher creates a new event publisher. Each publish is bounded
// by timeout; zero means no bound beyond the caller's context.
func NewEventPublisher(producer Publisher, timeout time.Duration) *EventPublisher {
	return &EventPublisher{producer: producer, timeout: timeout}
}

// PublishBookingEvent publishes a booking lifecycle event keyed by booking,
// so all events of one booking land on the same partition in order.
// The publish outlives a cancelled request but not the timeout.
func (ep *EventPublisher) PublishBookingEvent(ctx context.Context, event *models.BookingEvent) error {
	if ep.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), ep.timeout)
		defer cancel()
	}
	key := fmt.Sprintf("booking-%d", event.BookingID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onBookingEvent func(context.Context, *models.BookingEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnBookingEvent registers a handler for booking lifecycle events
func (eh *EventHandler) OnBookingEvent(handler func(context.Context, *models.BookingEvent) error) {
	eh.onBookingEvent = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeBookingCreated,
		models.EventTypeBookingConfirmed,
		models.EventTypeBookingCancelled,
		models.EventTypeBookingExpired,
		models.EventTypeBookingCompleted,
		models.EventTypePaymentNeedsRefund:
		if eh.onBookingEvent != nil {
			var event models.BookingEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal booking event: %w", err)
			}
			return eh.onBookingEvent(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
