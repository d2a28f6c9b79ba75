package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedCopies(t *testing.T) {
	err := fmt.Errorf("create booking: %w", ErrResourceUnavailable.Wrap(errors.New("overlap")))

	assert.True(t, errors.Is(err, ErrResourceUnavailable))
	assert.False(t, errors.Is(err, ErrPastDateBooking))
}

func TestFromFallsBackToInternal(t *testing.T) {
	appErr := From(errors.New("connection reset"))

	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status())
}

func TestKindStatus(t *testing.T) {
	cases := map[*Error]int{
		ErrBookingNotFound:         http.StatusNotFound,
		ErrPastDateBooking:         http.StatusBadRequest,
		ErrForbidden:               http.StatusForbidden,
		ErrPromoCodeExists:         http.StatusConflict,
		ErrInvalidWebhookSignature: http.StatusUnauthorized,
		ErrPaymentGateway:          http.StatusBadGateway,
	}
	for e, status := range cases {
		assert.Equal(t, status, e.Status(), e.Code)
	}
}

func TestWithMessageKeepsCode(t *testing.T) {
	e := ErrPaymentGateway.WithMessage("retry booking %d", 42)

	assert.Equal(t, "retry booking 42", e.Message)
	assert.True(t, errors.Is(e, ErrPaymentGateway))
	assert.Equal(t, "payment gateway request failed", ErrPaymentGateway.Message)
}
