package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService reconciles gateway results with bookings
type PaymentService struct {
	store   Store
	gateway Gateway
	keys    KeyStore
	events  Events
	opts    Options
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service. keys may be nil.
func NewPaymentService(store Store, gateway Gateway, keys KeyStore, events Events, opts Options) *PaymentService {
	return &PaymentService{
		store:   store,
		gateway: gateway,
		keys:    keys,
		events:  events,
		opts:    opts,
		logger:  util.GetLogger(),
	}
}

// Result is the outcome of one webhook or callback
type Result struct {
	Outcome string `json:"outcome"`
	*models.Reconciliation
}

// GatewayResult is a gateway report about one transaction
type GatewayResult struct {
	TxRef        string
	Outcome      payment.Outcome
	ProviderTxID string
	Amount       decimal.NullDecimal
	Currency     string
}

// HandleWebhook authenticates and applies a webhook delivery.
// Nothing is read or written before the signature checks out.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if !s.gateway.VerifySignature(body, signature) {
		util.WebhooksReceivedTotal.WithLabelValues("invalid_signature").Inc()
		s.logger.Warn("Rejected webhook with invalid signature")
		return nil, apperror.ErrInvalidWebhookSignature
	}

	var payload payment.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		util.WebhooksReceivedTotal.WithLabelValues("malformed").Inc()
		return nil, apperror.Validation("malformed webhook payload")
	}
	if payload.Data.TxRef == "" {
		util.WebhooksReceivedTotal.WithLabelValues("malformed").Inc()
		return nil, apperror.Validation("webhook payload has no tx_ref")
	}

	span.SetAttributes(attribute.String("tx_ref", payload.Data.TxRef))
	s.logger.Info("Webhook received",
		zap.String("event", payload.Event),
		zap.String("tx_ref", payload.Data.TxRef),
		zap.String("status", payload.Data.Status))

	result := GatewayResult{
		TxRef:    payload.Data.TxRef,
		Outcome:  payment.MapStatus(payload.Data.Status),
		Amount:   payload.Data.Amount,
		Currency: payload.Data.Currency,
	}
	if payload.Data.ID != 0 {
		result.ProviderTxID = strconv.FormatInt(payload.Data.ID, 10)
	}

	res, err := s.Reconcile(ctx, result)
	if err != nil {
		util.RecordError(span, err)
	}
	return res, err
}

// HandleCallback applies the redirect a customer lands on after checkout.
// Only a gateway-verified transaction changes state.
func (s *PaymentService) HandleCallback(ctx context.Context, status, txRef, transactionID string) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback", attribute.String("tx_ref", txRef))
	defer span.End()

	if txRef == "" {
		return nil, apperror.Validation("tx_ref is required")
	}
	if payment.MapStatus(status) != payment.OutcomeSuccess {
		util.WebhooksReceivedTotal.WithLabelValues("callback_not_successful").Inc()
		return s.current(ctx, txRef, payment.MapStatus(status))
	}
	if transactionID == "" {
		return nil, apperror.Validation("transaction_id is required")
	}

	tx, err := s.gateway.Verify(ctx, transactionID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if tx.TxRef != txRef {
		s.logger.Warn("Callback transaction does not match tx_ref",
			zap.String("tx_ref", txRef), zap.String("verified_tx_ref", tx.TxRef))
		return nil, apperror.ErrPaymentVerification
	}

	return s.Reconcile(ctx, GatewayResult{
		TxRef:        txRef,
		Outcome:      payment.MapStatus(tx.Status),
		ProviderTxID: strconv.FormatInt(tx.ID, 10),
		Amount:       tx.Amount,
		Currency:     tx.Currency,
	})
}

// current reports the stored state of a payment without changing it
func (s *PaymentService) current(ctx context.Context, txRef string, outcome payment.Outcome) (*Result, error) {
	pay, err := s.store.GetPaymentByTxRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	booking, err := s.store.GetBookingByID(ctx, pay.BookingID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Outcome:        outcome.String(),
		Reconciliation: &models.Reconciliation{Booking: booking, Payment: pay},
	}, nil
}

func processedKey(txRef string) string {
	return "webhook:processed:" + txRef
}

// Reconcile applies a gateway result to the payment with the given tx_ref.
// Repeated results for a payment already in SUCCESS are no-ops.
func (s *PaymentService) Reconcile(ctx context.Context, in GatewayResult) (*Result, error) {
	if in.Outcome == payment.OutcomePending {
		util.WebhooksReceivedTotal.WithLabelValues("pending").Inc()
		return s.current(ctx, in.TxRef, in.Outcome)
	}

	if s.keys != nil {
		if done, err := s.keys.CheckIdempotencyKey(ctx, processedKey(in.TxRef)); err == nil && done {
			util.WebhooksReceivedTotal.WithLabelValues("duplicate").Inc()
			res, err := s.current(ctx, in.TxRef, in.Outcome)
			if res != nil {
				res.AlreadyProcessed = true
			}
			return res, err
		}

		token, err := s.keys.AcquireLock(ctx, "webhook:"+in.TxRef, s.opts.WebhookLockTTL)
		switch {
		case err != nil:
			// the payment row lock still serializes reconciliation
			s.logger.Warn("Webhook lock unavailable", zap.String("tx_ref", in.TxRef), zap.Error(err))
		case token == "":
			util.WebhooksReceivedTotal.WithLabelValues("in_progress").Inc()
			return nil, apperror.ErrWebhookInProgress
		default:
			defer func() {
				if err := s.keys.ReleaseLock(context.Background(), "webhook:"+in.TxRef, token); err != nil {
					s.logger.Warn("Failed to release webhook lock", zap.String("tx_ref", in.TxRef), zap.Error(err))
				}
			}()
		}
	}

	if in.Outcome != payment.OutcomeSuccess {
		return s.fail(ctx, in)
	}
	if reason := s.mismatch(ctx, in); reason != "" {
		return s.rejectCharge(ctx, in, reason)
	}
	return s.confirm(ctx, in)
}

// rejectCharge fails a payment whose captured charge does not match the
// booking. The gateway holds the customer's money, so a refund is raised.
func (s *PaymentService) rejectCharge(ctx context.Context, in GatewayResult, reason string) (*Result, error) {
	s.logger.Error("Payment amount mismatch, treating as failure",
		zap.String("tx_ref", in.TxRef), zap.String("reason", reason))
	util.BookingsFailedTotal.WithLabelValues("amount_mismatch").Inc()

	res, err := s.fail(ctx, in)
	if err != nil || res.AlreadyProcessed {
		return res, err
	}
	res.NeedsRefund = true
	util.PaymentsNeedingRefundTotal.Inc()
	publishEvent(ctx, s.events, s.logger,
		bookingEvent(models.EventTypePaymentNeedsRefund, res.Booking, "captured "+reason))
	return res, nil
}

// mismatch compares what the gateway charged with what the booking costs
func (s *PaymentService) mismatch(ctx context.Context, in GatewayResult) string {
	pay, err := s.store.GetPaymentByTxRef(ctx, in.TxRef)
	if err != nil {
		// the transaction below reports it
		return ""
	}
	// deliveries that omit the amount are not checked against it
	if in.Amount.Valid && !in.Amount.Decimal.Equal(pay.Amount) {
		return fmt.Sprintf("amount %s, expected %s", in.Amount.Decimal.String(), pay.Amount.StringFixed(2))
	}
	if in.Currency != "" && !strings.EqualFold(in.Currency, pay.Currency) {
		return fmt.Sprintf("currency %s, expected %s", in.Currency, pay.Currency)
	}
	return ""
}

func (s *PaymentService) confirm(ctx context.Context, in GatewayResult) (*Result, error) {
	rec, err := s.store.ConfirmPaymentTx(ctx, in.TxRef, in.ProviderTxID, s.opts.PayoutRatio)
	if err != nil {
		return nil, err
	}
	res := &Result{Outcome: payment.OutcomeSuccess.String(), Reconciliation: rec}

	switch {
	case rec.AlreadyProcessed:
		util.WebhooksReceivedTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Payment already processed", zap.String("tx_ref", in.TxRef))

	case rec.NeedsRefund:
		util.WebhooksReceivedTotal.WithLabelValues("needs_refund").Inc()
		util.PaymentsNeedingRefundTotal.Inc()
		s.logger.Error("Payment succeeded for a booking that is no longer pending",
			zap.String("tx_ref", in.TxRef),
			zap.Int64("booking_id", rec.Booking.ID),
			zap.String("booking_status", string(rec.Booking.Status)))
		publishEvent(ctx, s.events, s.logger,
			bookingEvent(models.EventTypePaymentNeedsRefund, rec.Booking, "payment arrived after booking closed"))

	default:
		util.WebhooksReceivedTotal.WithLabelValues("confirmed").Inc()
		util.BookingsConfirmedTotal.Inc()
		s.logger.Info("Booking confirmed",
			zap.Int64("booking_id", rec.Booking.ID),
			zap.String("tx_ref", in.TxRef))
		publishEvent(ctx, s.events, s.logger, bookingEvent(models.EventTypeBookingConfirmed, rec.Booking, ""))
		if rec.PromoOverLimit {
			s.logger.Warn("Promo code usage limit already reached at confirmation",
				zap.Int64("booking_id", rec.Booking.ID),
				zap.Stringp("promo_code", rec.Booking.PromoCode))
		}
	}

	if s.keys != nil {
		if _, err := s.keys.SetIdempotencyKey(ctx, processedKey(in.TxRef), rec.Payment.ID, s.opts.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to mark webhook processed", zap.String("tx_ref", in.TxRef), zap.Error(err))
		}
	}
	return res, nil
}

func (s *PaymentService) fail(ctx context.Context, in GatewayResult) (*Result, error) {
	rec, err := s.store.FailPaymentTx(ctx, in.TxRef, in.ProviderTxID)
	if err != nil {
		return nil, err
	}
	res := &Result{Outcome: payment.OutcomeFailure.String(), Reconciliation: rec}

	if rec.AlreadyProcessed {
		util.WebhooksReceivedTotal.WithLabelValues("duplicate").Inc()
		return res, nil
	}

	util.WebhooksReceivedTotal.WithLabelValues("failed").Inc()
	util.BookingsFailedTotal.WithLabelValues("payment_failed").Inc()
	s.logger.Warn("Payment failed",
		zap.Int64("booking_id", rec.Booking.ID),
		zap.String("tx_ref", in.TxRef))

	if rec.Booking.Status == models.BookingCancelled {
		publishEvent(ctx, s.events, s.logger, bookingEvent(models.EventTypeBookingCancelled, rec.Booking, "payment failed"))
	}
	return res, nil
}
