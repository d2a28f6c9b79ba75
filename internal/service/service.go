package service

import (
	"context"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence the services need. *store.Store implements it.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetPartnerByID(ctx context.Context, id int64) (*models.Partner, error)
	GetPartnerByUserID(ctx context.Context, userID int64) (*models.Partner, error)
	SetPartnerSubaccount(ctx context.Context, partnerID int64, subaccountID string) error

	GetResourceByID(ctx context.Context, id int64) (*models.Resource, error)
	ListResources(ctx context.Context, kind models.ResourceKind, limit, offset int) ([]models.Resource, error)
	CreateResource(ctx context.Context, r *models.Resource) error

	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	CreatePromoCode(ctx context.Context, p *models.PromoCode) error
	ListPromoCodes(ctx context.Context) ([]models.PromoCode, error)
	ExpirePromoCodes(ctx context.Context, now time.Time) (int64, error)

	CountOverlapping(ctx context.Context, resourceID int64, from, to time.Time) (int, error)
	CreateBookingTx(ctx context.Context, booking *models.Booking, payment *models.Payment) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error)

	GetPaymentByTxRef(ctx context.Context, txRef string) (*models.Payment, error)
	GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error)
	UpdatePaymentLink(ctx context.Context, paymentID int64, link string) error
	ConfirmPaymentTx(ctx context.Context, txRef, providerTxID string, payoutRatio decimal.Decimal) (*models.Reconciliation, error)
	FailPaymentTx(ctx context.Context, txRef, providerTxID string) (*models.Reconciliation, error)

	ExpirePendingBookings(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
	CompleteFinishedBookings(ctx context.Context, today time.Time) ([]models.Booking, error)
	ListPayoutsByPartner(ctx context.Context, partnerID int64) ([]models.Payout, error)
}

// Gateway is the payment provider. *payment.Client implements it.
type Gateway interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Link, error)
	Verify(ctx context.Context, transactionID string) (*payment.Transaction, error)
	CreateSubaccount(ctx context.Context, req payment.SubaccountRequest) (string, error)
	VerifySignature(body []byte, signature string) bool
}

// Events publishes booking lifecycle events. *broker.EventPublisher implements it.
type Events interface {
	PublishBookingEvent(ctx context.Context, event *models.BookingEvent) error
}

// KeyStore holds idempotency keys and short locks. *redisclient.Client implements it.
type KeyStore interface {
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	OverwriteIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteIdempotencyKey(ctx context.Context, key string) error
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Options are the business settings shared by the services
type Options struct {
	DefaultCurrency string
	PendingGrace    time.Duration
	PayoutRatio     decimal.Decimal
	RedirectURL     string
	IdempotencyTTL  time.Duration
	WebhookLockTTL  time.Duration
	VoucherSecret   string
	Now             func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// Actor is the authenticated caller
type Actor struct {
	UserID int64
	Role   models.Role
}

// today returns the UTC calendar day of t
func today(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func bookingEvent(eventType string, b *models.Booking, reason string) *models.BookingEvent {
	return &models.BookingEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		BookingID:  b.ID,
		ResourceID: b.ResourceID,
		UserID:     b.UserID,
		PartnerID:  b.PartnerID,
		TxRef:      b.TxRef,
		Status:     b.Status,
		Amount:     b.TotalPrice,
		Currency:   b.Currency,
		DateFrom:   b.DateFrom.Format(models.DateLayout),
		DateTo:     b.DateTo.Format(models.DateLayout),
		Reason:     reason,
	}
}

func pageOf(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
