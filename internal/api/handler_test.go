package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func token(t *testing.T, userID int64, role models.Role, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Role:  string(role),
		Email: "someone@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

type fakeBookings struct {
	createErr error
	lastActor service.Actor
	lastKey   string
	lastReq   *service.CreateBookingRequest
	lastID    int64
	status    models.BookingStatus
	listed    string
}

func (f *fakeBookings) CreateBooking(ctx context.Context, actor service.Actor, resourceID int64, req *service.CreateBookingRequest, key string) (*service.BookingResponse, error) {
	f.lastActor, f.lastID, f.lastReq, f.lastKey = actor, resourceID, req, key
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &service.BookingResponse{
		Booking:     &models.Booking{ID: 42, ResourceID: resourceID, Status: models.BookingPending},
		PaymentLink: "https://checkout.test/bk-1",
	}, nil
}

func (f *fakeBookings) RetryPayment(ctx context.Context, actor service.Actor, id int64) (*service.BookingResponse, error) {
	return nil, apperror.ErrBookingNotPayable
}

func (f *fakeBookings) GetBooking(ctx context.Context, actor service.Actor, id int64) (*service.BookingResponse, error) {
	f.lastActor, f.lastID = actor, id
	if actor.UserID != 1 {
		return nil, apperror.ErrForbidden
	}
	return &service.BookingResponse{Booking: &models.Booking{ID: id}}, nil
}

func (f *fakeBookings) ListMyBookings(ctx context.Context, actor service.Actor, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	f.listed, f.status = "mine", status
	return []models.Booking{{ID: 1}, {ID: 2}}, nil
}

func (f *fakeBookings) ListPartnerBookings(ctx context.Context, actor service.Actor, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	f.listed = "partner"
	return []models.Booking{}, nil
}

func (f *fakeBookings) ListAllBookings(ctx context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	f.listed = "all"
	return []models.Booking{}, nil
}

type fakePayments struct {
	body      []byte
	signature string
}

func (f *fakePayments) HandleWebhook(ctx context.Context, body []byte, signature string) (*service.Result, error) {
	f.body, f.signature = body, signature
	if signature != "good" {
		return nil, apperror.ErrInvalidWebhookSignature
	}
	return &service.Result{
		Outcome:        "success",
		Reconciliation: &models.Reconciliation{AlreadyProcessed: true},
	}, nil
}

func (f *fakePayments) HandleCallback(ctx context.Context, status, txRef, transactionID string) (*service.Result, error) {
	return &service.Result{Outcome: status}, nil
}

type fakeDocuments struct{}

func (fakeDocuments) Voucher(ctx context.Context, actor service.Actor, id int64) ([]byte, error) {
	return nil, apperror.ErrDocumentNotReady
}

func (fakeDocuments) Receipt(ctx context.Context, actor service.Actor, id int64) ([]byte, error) {
	return []byte("%PDF-1.3"), nil
}

func (fakeDocuments) VerifyVoucher(ctx context.Context, actor service.Actor, payload string) (*models.Booking, error) {
	return nil, apperror.ErrInvalidVoucher
}

type fakePromos struct{}

func (fakePromos) CreatePromoCode(ctx context.Context, req *service.CreatePromoRequest) (*models.PromoCode, error) {
	return nil, apperror.ErrPromoCodeExists
}

func (fakePromos) ListPromoCodes(ctx context.Context) ([]models.PromoCode, error) {
	return []models.PromoCode{{Code: "SAVE5"}}, nil
}

type testServer struct {
	router   *gin.Engine
	bookings *fakeBookings
	payments *fakePayments
}

func newTestServer(opts Options) *testServer {
	ts := &testServer{bookings: &fakeBookings{}, payments: &fakePayments{}}
	opts.JWTSecret = testSecret
	h := NewHandler(Services{
		Bookings:  ts.bookings,
		Payments:  ts.payments,
		Documents: fakeDocuments{},
		Promos:    fakePromos{},
	}, opts)
	ts.router = gin.New()
	h.SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, tok string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(Options{Checks: map[string]func(context.Context) error{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})

	w := ts.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/ready", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
	assert.NotContains(t, w.Body.String(), "database")
}

func TestCreateBookingRequiresAuth(t *testing.T) {
	ts := newTestServer(Options{})
	body := []byte(`{"from":"2025-08-12","to":"2025-08-14"}`)

	w := ts.do(http.MethodPost, "/api/v1/bookings/100", "", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeError(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "UNAUTHORIZED", resp.Error)

	expired := token(t, 1, models.RoleUser, -time.Minute)
	w = ts.do(http.MethodPost, "/api/v1/bookings/100", expired, body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/bookings/100", token(t, 3, models.RolePartner, time.Hour), body, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Error)
}

func TestCreateBooking(t *testing.T) {
	ts := newTestServer(Options{})
	body := []byte(`{"from":"2025-08-12","to":"2025-08-14","promo_code":"save5"}`)

	w := ts.do(http.MethodPost, "/api/v1/bookings/100", token(t, 1, models.RoleUser, time.Hour), body,
		map[string]string{"Idempotency-Key": "abc"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Success bool                    `json:"success"`
		Data    service.BookingResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(42), resp.Data.Booking.ID)
	assert.Equal(t, "https://checkout.test/bk-1", resp.Data.PaymentLink)

	assert.Equal(t, service.Actor{UserID: 1, Role: models.RoleUser}, ts.bookings.lastActor)
	assert.Equal(t, int64(100), ts.bookings.lastID)
	assert.Equal(t, "abc", ts.bookings.lastKey)
	assert.Equal(t, "save5", ts.bookings.lastReq.PromoCode)
}

func TestCreateBookingErrors(t *testing.T) {
	tok := token(t, 1, models.RoleUser, time.Hour)
	tests := []struct {
		name     string
		path     string
		body     string
		err      error
		status   int
		wantCode string
	}{
		{"bad id", "/api/v1/bookings/abc", `{"from":"2025-08-12","to":"2025-08-14"}`, nil, 400, "VALIDATION_ERROR"},
		{"missing dates", "/api/v1/bookings/100", `{}`, nil, 400, "VALIDATION_ERROR"},
		{"past date", "/api/v1/bookings/100", `{"from":"2025-08-09","to":"2025-08-14"}`, apperror.ErrPastDateBooking, 400, "PAST_DATE_BOOKING"},
		{"overlap", "/api/v1/bookings/100", `{"from":"2025-08-12","to":"2025-08-14"}`, apperror.ErrResourceUnavailable, 409, "RESOURCE_UNAVAILABLE"},
		{"gateway down", "/api/v1/bookings/100", `{"from":"2025-08-12","to":"2025-08-14"}`, apperror.ErrPaymentGateway.Wrap(errors.New("timeout")), 502, "PAYMENT_GATEWAY_ERROR"},
		{"unexpected", "/api/v1/bookings/100", `{"from":"2025-08-12","to":"2025-08-14"}`, errors.New("boom"), 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(Options{})
			ts.bookings.createErr = tt.err

			w := ts.do(http.MethodPost, tt.path, tok, []byte(tt.body), nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error)
		})
	}
}

func TestBookingReadRoutes(t *testing.T) {
	ts := newTestServer(Options{})
	tok := token(t, 1, models.RoleUser, time.Hour)

	w := ts.do(http.MethodGet, "/api/v1/bookings/my-bookings?status=CONFIRMED", tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mine", ts.bookings.listed)
	assert.Equal(t, models.BookingConfirmed, ts.bookings.status)

	w = ts.do(http.MethodGet, "/api/v1/bookings/my-bookings?limit=-1", tok, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/bookings/7", tok, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), ts.bookings.lastID)

	w = ts.do(http.MethodGet, "/api/v1/bookings/7", token(t, 2, models.RoleUser, time.Hour), nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/bookings/7/pay", tok, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "BOOKING_NOT_PAYABLE", decodeError(t, w).Error)
}

func TestDocumentRoutes(t *testing.T) {
	ts := newTestServer(Options{})
	tok := token(t, 1, models.RoleUser, time.Hour)

	w := ts.do(http.MethodGet, "/api/v1/bookings/7/receipt", tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "receipt-7.pdf")

	w = ts.do(http.MethodGet, "/api/v1/bookings/7/voucher", tok, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "BOOKING_NOT_CONFIRMED", decodeError(t, w).Error)

	w = ts.do(http.MethodPost, "/api/v1/partner/vouchers/verify", token(t, 3, models.RolePartner, time.Hour),
		[]byte(`{"payload":"7|bk|x|y|sig"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_VOUCHER", decodeError(t, w).Error)
}

func TestWebhookPassesRawBodyAndSignature(t *testing.T) {
	ts := newTestServer(Options{SignatureHeader: "verif-hash"})
	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"bk-1","status":"successful"}}`)

	w := ts.do(http.MethodPost, "/api/v1/payments/webhook", "", body, map[string]string{"verif-hash": "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_WEBHOOK_SIGNATURE", decodeError(t, w).Error)

	w = ts.do(http.MethodPost, "/api/v1/payments/webhook", "", body, map[string]string{"verif-hash": "good"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, ts.payments.body)
	assert.Contains(t, w.Body.String(), "payment already processed")
}

func TestPaymentCallback(t *testing.T) {
	ts := newTestServer(Options{})

	w := ts.do(http.MethodGet, "/api/v1/payments/callback?status=cancelled&tx_ref=bk-1", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "payment cancelled")
}

func TestCreateBookingRateLimited(t *testing.T) {
	ts := newTestServer(Options{RateLimit: rate.Every(time.Hour), RateBurst: 1})
	body := []byte(`{"from":"2025-08-12","to":"2025-08-14"}`)
	user := token(t, 1, models.RoleUser, time.Hour)

	w := ts.do(http.MethodPost, "/api/v1/bookings/100", user, body, nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/bookings/100", user, body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Error)
}

func TestWebhookBurstNotRateLimited(t *testing.T) {
	ts := newTestServer(Options{RateLimit: rate.Every(time.Hour), RateBurst: 1})
	headers := map[string]string{"verif-hash": "good"}

	for i := 0; i < 5; i++ {
		w := ts.do(http.MethodPost, "/api/v1/payments/webhook", "", []byte(`{}`), headers)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := newTestServer(Options{})

	w := ts.do(http.MethodGet, "/api/v1/admin/promo-codes", token(t, 1, models.RoleUser, time.Hour), nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/admin/promo-codes", token(t, 4, models.RoleSuperAdmin, time.Hour), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SAVE5")

	body := []byte(`{"code":"SAVE5","discount_type":"FLAT","discount_value":5,
		"valid_from":"2025-08-01T00:00:00Z","valid_to":"2025-09-01T00:00:00Z"}`)
	w = ts.do(http.MethodPost, "/api/v1/admin/promo-codes", token(t, 4, models.RoleAdmin, time.Hour), body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PROMO_CODE_EXISTS", decodeError(t, w).Error)

	w = ts.do(http.MethodGet, "/api/v1/admin/bookings", token(t, 4, models.RoleAdmin, time.Hour), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "all", ts.bookings.listed)
}

func TestTokenInQueryString(t *testing.T) {
	ts := newTestServer(Options{})
	tok := token(t, 1, models.RoleUser, time.Hour)

	w := ts.do(http.MethodGet, "/api/v1/bookings/my-bookings?token="+tok, "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenWithWrongSecret(t *testing.T) {
	ts := newTestServer(Options{})
	claims := Claims{Role: "USER", RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	require.NoError(t, err)

	w := ts.do(http.MethodGet, "/api/v1/bookings/my-bookings", forged, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
