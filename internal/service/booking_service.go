package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/pricing"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const idempotencyPending = "pending"

// BookingService handles booking business logic
type BookingService struct {
	store        Store
	availability *AvailabilityChecker
	gateway      Gateway
	keys         KeyStore
	events       Events
	opts         Options
	logger       *zap.Logger
}

// NewBookingService creates a new booking service. keys may be nil.
func NewBookingService(
	store Store,
	availability *AvailabilityChecker,
	gateway Gateway,
	keys KeyStore,
	events Events,
	opts Options,
) *BookingService {
	return &BookingService{
		store:        store,
		availability: availability,
		gateway:      gateway,
		keys:         keys,
		events:       events,
		opts:         opts,
		logger:       util.GetLogger(),
	}
}

// CreateBookingRequest represents a request to book a resource
type CreateBookingRequest struct {
	From      string `json:"from" binding:"required"`
	To        string `json:"to" binding:"required"`
	PromoCode string `json:"promo_code,omitempty"`
}

// BookingResponse is a booking with its payment and checkout link
type BookingResponse struct {
	Booking     *models.Booking `json:"booking"`
	Payment     *models.Payment `json:"payment"`
	PaymentLink string          `json:"payment_link,omitempty"`
	Quote       *pricing.Quote  `json:"quote,omitempty"`
}

// CreateBooking reserves a resource in PENDING state and starts the payment.
// If the gateway call fails the booking stays PENDING and can be paid later.
func (s *BookingService) CreateBooking(ctx context.Context, actor Actor, resourceID int64, req *CreateBookingRequest, idempotencyKey string) (*BookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateBooking",
		attribute.Int64("resource_id", resourceID),
		attribute.Int64("user_id", actor.UserID))
	defer span.End()

	key := ""
	if idempotencyKey != "" && s.keys != nil {
		key = fmt.Sprintf("booking:%d:%s", actor.UserID, idempotencyKey)
		if existing, err := s.replay(ctx, actor, key); existing != nil || err != nil {
			return existing, err
		}
	}

	resp, err := s.createBooking(ctx, actor, resourceID, req, key)
	if err != nil {
		util.RecordError(span, err)
		if key != "" && (resp == nil || resp.Booking == nil) {
			if derr := s.keys.DeleteIdempotencyKey(ctx, key); derr != nil {
				s.logger.Warn("Failed to clear idempotency key", zap.String("key", key), zap.Error(derr))
			}
		}
		return nil, err
	}
	return resp, nil
}

// replay returns the booking already created under key, if any
func (s *BookingService) replay(ctx context.Context, actor Actor, key string) (*BookingResponse, error) {
	val, err := s.keys.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, continuing without it", zap.Error(err))
		return nil, nil
	}
	if val == "" {
		set, err := s.keys.SetIdempotencyKey(ctx, key, idempotencyPending, s.opts.IdempotencyTTL)
		if err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.Error(err))
			return nil, nil
		}
		if !set {
			return nil, apperror.ErrRequestInProgress
		}
		return nil, nil
	}
	if val == idempotencyPending {
		return nil, apperror.ErrRequestInProgress
	}

	bookingID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
	}
	s.logger.Info("Duplicate booking request detected",
		zap.String("idempotency_key", key),
		zap.Int64("booking_id", bookingID))
	return s.details(ctx, actor, bookingID)
}

func (s *BookingService) createBooking(ctx context.Context, actor Actor, resourceID int64, req *CreateBookingRequest, key string) (*BookingResponse, error) {
	from, to, err := ParseRange(req.From, req.To)
	if err != nil {
		return nil, err
	}
	if err := s.availability.ValidateRange(from, to); err != nil {
		util.BookingsFailedTotal.WithLabelValues("invalid_dates").Inc()
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	resource, err := s.store.GetResourceByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !resource.Available {
		util.BookingsFailedTotal.WithLabelValues("unavailable").Inc()
		return nil, apperror.ErrResourceUnavailable
	}

	var promo *models.PromoCode
	var promoCode *string
	if code := strings.ToUpper(strings.TrimSpace(req.PromoCode)); code != "" {
		promo, err = s.store.GetPromoCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to load promo code: %w", err)
		}
		if promo == nil {
			util.BookingsFailedTotal.WithLabelValues("promo").Inc()
			return nil, apperror.ErrPromoNotFoundOrExpired
		}
		promoCode = &code
	}

	quote, err := pricing.Calculate(pricing.Input{
		BasePrice:       resource.BasePrice,
		Units:           models.DaysBetween(from, to),
		DiscountPercent: resource.DiscountPercent,
		Promo:           promo,
		VATPercent:      resource.VATPercent,
		Now:             s.opts.now(),
	})
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("pricing").Inc()
		return nil, err
	}

	currency := resource.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	booking := &models.Booking{
		ResourceID: resource.ID,
		UserID:     user.ID,
		PartnerID:  resource.PartnerID,
		DateFrom:   from,
		DateTo:     to,
		PromoCode:  promoCode,
		TotalPrice: quote.Total,
		Currency:   currency,
		Status:     models.BookingPending,
		TxRef:      "bk-" + uuid.New().String(),
	}
	pay := &models.Payment{
		Amount:   quote.Total,
		Currency: currency,
		Provider: models.ProviderFlutterwave,
		TxRef:    booking.TxRef,
		Status:   models.PaymentPending,
	}

	start := time.Now()
	err = s.store.CreateBookingTx(ctx, booking, pay)
	util.BookingCreateLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, apperror.ErrResourceUnavailable) {
			util.BookingsFailedTotal.WithLabelValues("unavailable").Inc()
		} else {
			util.BookingsFailedTotal.WithLabelValues("db_error").Inc()
		}
		return nil, err
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("resource_id", booking.ResourceID),
		zap.String("tx_ref", booking.TxRef),
		zap.String("total", booking.TotalPrice.StringFixed(2)))

	s.publish(ctx, bookingEvent(models.EventTypeBookingCreated, booking, ""))

	if key != "" {
		if err := s.keys.OverwriteIdempotencyKey(ctx, key, booking.ID, s.opts.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.Error(err))
		}
	}

	resp := &BookingResponse{Booking: booking, Payment: pay, Quote: quote}
	if err := s.startPayment(ctx, user, booking, pay); err != nil {
		return resp, err
	}
	resp.PaymentLink = pay.PaymentLink
	return resp, nil
}

// startPayment asks the gateway for a checkout link and stores it on the payment
func (s *BookingService) startPayment(ctx context.Context, user *models.User, booking *models.Booking, pay *models.Payment) error {
	req := payment.InitiateRequest{
		TxRef:       pay.TxRef,
		Amount:      pay.Amount,
		Currency:    pay.Currency,
		RedirectURL: s.opts.RedirectURL,
		Customer: payment.Customer{
			Email: user.Email,
			Name:  user.Name,
			Phone: user.Phone,
		},
	}
	if partner, err := s.store.GetPartnerByID(ctx, booking.PartnerID); err == nil && partner.SubaccountID != "" {
		req.SubaccountID = partner.SubaccountID
		req.SplitRatio = s.opts.PayoutRatio
	}

	link, err := s.gateway.Initiate(ctx, req)
	if err != nil {
		s.logger.Warn("Payment initiation failed, booking stays pending",
			zap.Int64("booking_id", booking.ID), zap.Error(err))
		return apperror.From(err).WithMessage(
			"payment gateway unavailable, retry payment for booking %d", booking.ID)
	}

	if err := s.store.UpdatePaymentLink(ctx, pay.ID, link.URL); err != nil {
		s.logger.Error("Failed to store payment link", zap.Int64("payment_id", pay.ID), zap.Error(err))
	}
	pay.PaymentLink = link.URL
	return nil
}

// RetryPayment re-initiates the checkout of a PENDING booking
func (s *BookingService) RetryPayment(ctx context.Context, actor Actor, bookingID int64) (*BookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.RetryPayment", attribute.Int64("booking_id", bookingID))
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != actor.UserID && !actor.Role.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if booking.Status != models.BookingPending {
		return nil, apperror.ErrBookingNotPayable
	}

	pay, err := s.store.GetPaymentByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, booking.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.startPayment(ctx, user, booking, pay); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return &BookingResponse{Booking: booking, Payment: pay, PaymentLink: pay.PaymentLink}, nil
}

// GetBooking returns a booking visible to actor: its user, the owning partner or an admin
func (s *BookingService) GetBooking(ctx context.Context, actor Actor, bookingID int64) (*BookingResponse, error) {
	return s.details(ctx, actor, bookingID)
}

func (s *BookingService) details(ctx context.Context, actor Actor, bookingID int64) (*BookingResponse, error) {
	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, booking); err != nil {
		return nil, err
	}

	pay, err := s.store.GetPaymentByBookingID(ctx, booking.ID)
	if err != nil && !errors.Is(err, apperror.ErrPaymentNotFound) {
		return nil, err
	}
	resp := &BookingResponse{Booking: booking, Payment: pay}
	if pay != nil && booking.Status == models.BookingPending {
		resp.PaymentLink = pay.PaymentLink
	}
	return resp, nil
}

func (s *BookingService) authorize(ctx context.Context, actor Actor, booking *models.Booking) error {
	if booking.UserID == actor.UserID || actor.Role.IsAdmin() {
		return nil
	}
	if actor.Role == models.RolePartner {
		partner, err := s.store.GetPartnerByUserID(ctx, actor.UserID)
		if err == nil && partner.ID == booking.PartnerID {
			return nil
		}
	}
	return apperror.ErrForbidden
}

// ListMyBookings lists the caller's bookings
func (s *BookingService) ListMyBookings(ctx context.Context, actor Actor, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	return s.list(ctx, models.BookingFilter{UserID: actor.UserID, Status: status, Limit: limit, Offset: offset})
}

// ListPartnerBookings lists bookings of the caller's partner business
func (s *BookingService) ListPartnerBookings(ctx context.Context, actor Actor, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	partner, err := s.store.GetPartnerByUserID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrPartnerNotFound) {
			return nil, apperror.ErrForbidden
		}
		return nil, err
	}
	return s.list(ctx, models.BookingFilter{PartnerID: partner.ID, Status: status, Limit: limit, Offset: offset})
}

// ListAllBookings lists every booking, for back-office use
func (s *BookingService) ListAllBookings(ctx context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	return s.list(ctx, models.BookingFilter{Status: status, Limit: limit, Offset: offset})
}

func (s *BookingService) list(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown booking status %q", f.Status))
	}
	f.Limit, f.Offset = pageOf(f.Limit, f.Offset)
	return s.store.ListBookings(ctx, f)
}

func (s *BookingService) publish(ctx context.Context, event *models.BookingEvent) {
	publishEvent(ctx, s.events, s.logger, event)
}

// publishEvent never fails the caller; notifications are best effort
func publishEvent(ctx context.Context, events Events, logger *zap.Logger, event *models.BookingEvent) {
	if events == nil {
		return
	}
	if err := events.PublishBookingEvent(ctx, event); err != nil {
		logger.Error("Failed to publish booking event",
			zap.String("event_type", event.EventType),
			zap.Int64("booking_id", event.BookingID),
			zap.Error(err))
	}
}
