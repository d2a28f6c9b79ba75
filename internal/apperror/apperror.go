package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport translation
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindForbidden
	KindConflict
	KindUnauthorized
	KindUpstream
)

// HTTPStatus returns the HTTP status code for the kind
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error carrying a stable code and a client-facing message
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New creates a new domain error
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so wrapped copies of a sentinel still compare equal
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e with err attached as the cause
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage returns a copy of e with a different client-facing message
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Status returns the HTTP status code for the error
func (e *Error) Status() int {
	return e.Kind.HTTPStatus()
}

// From extracts a domain error from err, falling back to an internal error
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.Wrap(err)
}

// Validation builds an ad-hoc validation error
func Validation(message string) *Error {
	return ErrValidation.WithMessage("%s", message)
}

var (
	ErrInternal   = New(KindInternal, "INTERNAL_ERROR", "internal server error")
	ErrValidation = New(KindValidation, "VALIDATION_ERROR", "invalid request")

	ErrUnauthorized = New(KindUnauthorized, "UNAUTHORIZED", "authentication required")
	ErrForbidden    = New(KindForbidden, "FORBIDDEN", "you are not allowed to perform this action")

	ErrUserNotFound     = New(KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrResourceNotFound = New(KindNotFound, "RESOURCE_NOT_FOUND", "resource not found")
	ErrPartnerNotFound  = New(KindNotFound, "PARTNER_NOT_FOUND", "partner not found")
	ErrBookingNotFound  = New(KindNotFound, "BOOKING_NOT_FOUND", "booking not found")
	ErrPaymentNotFound  = New(KindNotFound, "PAYMENT_NOT_FOUND", "payment not found")

	ErrPastDateBooking     = New(KindValidation, "PAST_DATE_BOOKING", "booking start date cannot be in the past")
	ErrInvalidDateRange    = New(KindValidation, "INVALID_DATE_RANGE", "booking end date must be after start date")
	ErrResourceUnavailable = New(KindConflict, "RESOURCE_UNAVAILABLE", "resource is not available for the requested dates")
	ErrInvalidTransition   = New(KindConflict, "INVALID_TRANSITION", "booking status transition is not allowed")
	ErrBookingNotPayable   = New(KindConflict, "BOOKING_NOT_PAYABLE", "only pending bookings can be paid")
	ErrDocumentNotReady    = New(KindConflict, "BOOKING_NOT_CONFIRMED", "documents are available only for confirmed bookings")
	ErrRequestInProgress   = New(KindConflict, "REQUEST_IN_PROGRESS", "a request with this idempotency key is still being processed")
	ErrInvalidVoucher      = New(KindValidation, "INVALID_VOUCHER", "voucher is not valid")

	ErrPromoNotFoundOrExpired = New(KindValidation, "PROMO_NOT_FOUND_OR_EXPIRED", "promo code not found or expired")
	ErrPromoMinimumNotMet     = New(KindValidation, "PROMO_MINIMUM_NOT_MET", "order amount is below the promo code minimum")
	ErrPromoCodeExists        = New(KindConflict, "PROMO_CODE_EXISTS", "promo code already exists")

	ErrInvalidWebhookSignature = New(KindUnauthorized, "INVALID_WEBHOOK_SIGNATURE", "invalid webhook signature")
	ErrWebhookInProgress       = New(KindConflict, "WEBHOOK_IN_PROGRESS", "payment is being processed")
	ErrPaymentGateway          = New(KindUpstream, "PAYMENT_GATEWAY_ERROR", "payment gateway request failed")
	ErrPaymentVerification     = New(KindValidation, "PAYMENT_VERIFICATION_FAILED", "payment could not be verified")
)
