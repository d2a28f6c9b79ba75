package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeBookingCreated     = "BOOKING_CREATED"
	EventTypeBookingConfirmed   = "BOOKING_CONFIRMED"
	EventTypeBookingCancelled   = "BOOKING_CANCELLED"
	EventTypeBookingExpired     = "BOOKING_EXPIRED"
	EventTypeBookingCompleted   = "BOOKING_COMPLETED"
	EventTypePaymentNeedsRefund = "PAYMENT_NEEDS_REFUND"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingEvent is published on every booking state change
type BookingEvent struct {
	BaseEvent
	BookingID  int64           `json:"booking_id"`
	ResourceID int64           `json:"resource_id"`
	UserID     int64           `json:"user_id"`
	PartnerID  int64           `json:"partner_id"`
	TxRef      string          `json:"tx_ref"`
	Status     BookingStatus   `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	DateFrom   string          `json:"date_from"`
	DateTo     string          `json:"date_to"`
	Reason     string          `json:"reason,omitempty"`
}
