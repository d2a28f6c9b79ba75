package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/payment"

	"github.com/shopspring/decimal"
)

// memStore mirrors the SQL store's semantics in memory.
// One mutex stands in for the row locks of the real transactions.
type memStore struct {
	mu          sync.Mutex
	clock       *fakeClock
	nextID      int64
	users       map[int64]*models.User
	partners    map[int64]*models.Partner
	resources   map[int64]*models.Resource
	promos      map[string]*models.PromoCode
	bookings    map[int64]*models.Booking
	payments    map[int64]*models.Payment
	payouts     []models.Payout
	commissions []models.PlatformCommission
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:     clock,
		nextID:    1000,
		users:     map[int64]*models.User{},
		partners:  map[int64]*models.Partner{},
		resources: map[int64]*models.Resource{},
		promos:    map[string]*models.PromoCode{},
		bookings:  map[int64]*models.Booking{},
		payments:  map[int64]*models.Payment{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, apperror.ErrUserNotFound
}

func (m *memStore) GetPartnerByID(ctx context.Context, id int64) (*models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.partners[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, apperror.ErrPartnerNotFound
}

func (m *memStore) GetPartnerByUserID(ctx context.Context, userID int64) (*models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.partners {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.ErrPartnerNotFound
}

func (m *memStore) SetPartnerSubaccount(ctx context.Context, partnerID int64, subaccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[partnerID]
	if !ok {
		return apperror.ErrPartnerNotFound
	}
	p.SubaccountID = subaccountID
	return nil
}

func (m *memStore) GetResourceByID(ctx context.Context, id int64) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, apperror.ErrResourceNotFound
}

func (m *memStore) ListResources(ctx context.Context, kind models.ResourceKind, limit, offset int) ([]models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Resource{}
	for _, r := range m.resources {
		if kind == "" || r.Kind == kind {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), nil
}

func (m *memStore) CreateResource(ctx context.Context, r *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.CreatedAt = m.clock.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.resources[r.ID] = &cp
	return nil
}

func (m *memStore) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.promos[code]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) CreatePromoCode(ctx context.Context, p *models.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.promos[p.Code]; ok {
		return apperror.ErrPromoCodeExists
	}
	p.ID = m.id()
	p.CreatedAt = m.clock.Now()
	cp := *p
	m.promos[p.Code] = &cp
	return nil
}

func (m *memStore) ListPromoCodes(ctx context.Context) ([]models.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PromoCode{}
	for _, p := range m.promos {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) ExpirePromoCodes(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.promos {
		if p.Status == models.PromoActive && p.ValidTo.Before(now) {
			p.Status = models.PromoExpired
			n++
		}
	}
	return n, nil
}

func (m *memStore) countOverlapping(resourceID int64, from, to time.Time) int {
	n := 0
	for _, b := range m.bookings {
		if b.ResourceID == resourceID && b.Status.HoldsResource() &&
			!b.DateFrom.After(to) && !b.DateTo.Before(from) {
			n++
		}
	}
	return n
}

func (m *memStore) CountOverlapping(ctx context.Context, resourceID int64, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countOverlapping(resourceID, from, to), nil
}

func (m *memStore) CreateBookingTx(ctx context.Context, booking *models.Booking, pay *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.resources[booking.ResourceID]
	if !ok {
		return apperror.ErrResourceNotFound
	}
	if !r.Available || m.countOverlapping(booking.ResourceID, booking.DateFrom, booking.DateTo) > 0 {
		return apperror.ErrResourceUnavailable
	}

	now := m.clock.Now()
	booking.ID = m.id()
	booking.CreatedAt, booking.UpdatedAt = now, now
	b := *booking
	m.bookings[booking.ID] = &b

	pay.ID = m.id()
	pay.BookingID = booking.ID
	pay.CreatedAt, pay.UpdatedAt = now, now
	p := *pay
	m.payments[pay.ID] = &p
	return nil
}

func (m *memStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bookings[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, apperror.ErrBookingNotFound
}

func (m *memStore) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Booking{}
	for _, b := range m.bookings {
		if (f.UserID == 0 || b.UserID == f.UserID) &&
			(f.PartnerID == 0 || b.PartnerID == f.PartnerID) &&
			(f.Status == "" || b.Status == f.Status) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), nil
}

func (m *memStore) paymentByTxRef(txRef string) *models.Payment {
	for _, p := range m.payments {
		if p.TxRef == txRef {
			return p
		}
	}
	return nil
}

func (m *memStore) GetPaymentByTxRef(ctx context.Context, txRef string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.paymentByTxRef(txRef); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, apperror.ErrPaymentNotFound
}

func (m *memStore) GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.ErrPaymentNotFound
}

func (m *memStore) UpdatePaymentLink(ctx context.Context, paymentID int64, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[paymentID]; ok {
		p.PaymentLink = link
	}
	return nil
}

func (m *memStore) snapshot(p *models.Payment, b *models.Booking) *models.Reconciliation {
	pc, bc := *p, *b
	return &models.Reconciliation{Payment: &pc, Booking: &bc}
}

func (m *memStore) ConfirmPaymentTx(ctx context.Context, txRef, providerTxID string, ratio decimal.Decimal) (*models.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.paymentByTxRef(txRef)
	if p == nil {
		return nil, apperror.ErrPaymentNotFound
	}
	b := m.bookings[p.BookingID]
	if p.Status == models.PaymentSuccess {
		rec := m.snapshot(p, b)
		rec.AlreadyProcessed = true
		return rec, nil
	}

	p.Status = models.PaymentSuccess
	if providerTxID != "" {
		p.ProviderTxID = providerTxID
	}
	if b.Status != models.BookingPending {
		rec := m.snapshot(p, b)
		rec.NeedsRefund = true
		return rec, nil
	}

	var overLimit bool
	b.Status = models.BookingConfirmed
	m.resources[b.ResourceID].Available = false
	if b.PromoCode != nil {
		if promo, ok := m.promos[*b.PromoCode]; ok {
			if promo.UsageLimit == 0 || promo.UsedCount < promo.UsageLimit {
				promo.UsedCount++
			} else {
				overLimit = true
			}
		}
	}

	payoutAmount, commissionAmount := models.SplitAmount(p.Amount, ratio)
	payout := models.Payout{ID: m.id(), PaymentID: p.ID, BookingID: b.ID, PartnerID: b.PartnerID,
		Amount: payoutAmount, Currency: p.Currency, Status: models.PayoutPending}
	commission := models.PlatformCommission{ID: m.id(), PaymentID: p.ID, BookingID: b.ID,
		Amount: commissionAmount, Currency: p.Currency}
	m.payouts = append(m.payouts, payout)
	m.commissions = append(m.commissions, commission)

	rec := m.snapshot(p, b)
	rec.Payout = &payout
	rec.Commission = &commission
	rec.PromoOverLimit = overLimit
	return rec, nil
}

func (m *memStore) FailPaymentTx(ctx context.Context, txRef, providerTxID string) (*models.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.paymentByTxRef(txRef)
	if p == nil {
		return nil, apperror.ErrPaymentNotFound
	}
	b := m.bookings[p.BookingID]
	if p.Status != models.PaymentPending {
		rec := m.snapshot(p, b)
		rec.AlreadyProcessed = true
		return rec, nil
	}
	p.Status = models.PaymentFailed
	if b.Status == models.BookingPending {
		b.Status = models.BookingCancelled
	}
	return m.snapshot(p, b), nil
}

func (m *memStore) ExpirePendingBookings(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Booking{}
	for _, b := range m.bookings {
		if b.Status == models.BookingPending && b.CreatedAt.Before(cutoff) {
			b.Status = models.BookingExpired
			out = append(out, *b)
			for _, p := range m.payments {
				if p.BookingID == b.ID && p.Status == models.PaymentPending {
					p.Status = models.PaymentFailed
				}
			}
		}
	}
	return out, nil
}

func (m *memStore) CompleteFinishedBookings(ctx context.Context, today time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Booking{}
	for _, b := range m.bookings {
		if b.Status == models.BookingConfirmed && b.DateTo.Before(today) {
			b.Status = models.BookingCompleted
			out = append(out, *b)
		}
	}
	for _, done := range out {
		stillHeld := false
		for _, b := range m.bookings {
			if b.ResourceID == done.ResourceID && b.Status == models.BookingConfirmed {
				stillHeld = true
			}
		}
		if !stillHeld {
			m.resources[done.ResourceID].Available = true
		}
	}
	return out, nil
}

func (m *memStore) ListPayoutsByPartner(ctx context.Context, partnerID int64) ([]models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Payout{}
	for _, p := range m.payouts {
		if p.PartnerID == partnerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGateway struct {
	mu         sync.Mutex
	secret     string
	down       bool
	initiated  []payment.InitiateRequest
	verified   *payment.Transaction
	subaccount payment.SubaccountRequest
}

func (g *fakeGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return nil, apperror.ErrPaymentGateway.Wrap(errors.New("connection refused"))
	}
	g.initiated = append(g.initiated, req)
	return &payment.Link{URL: "https://checkout.test/" + req.TxRef}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, transactionID string) (*payment.Transaction, error) {
	if g.verified == nil {
		return nil, apperror.ErrPaymentGateway.Wrap(fmt.Errorf("transaction %s not found", transactionID))
	}
	return g.verified, nil
}

func (g *fakeGateway) CreateSubaccount(ctx context.Context, req payment.SubaccountRequest) (string, error) {
	g.subaccount = req
	return "RS_TEST", nil
}

func (g *fakeGateway) VerifySignature(body []byte, signature string) bool {
	return payment.VerifySignature(g.secret, body, signature)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*models.BookingEvent
}

func (f *fakeEvents) PublishBookingEvent(ctx context.Context, e *models.BookingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.EventType
	}
	return out
}

type fakeKeys struct {
	mu    sync.Mutex
	vals  map[string]string
	locks map[string]string
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{vals: map[string]string{}, locks: map[string]string{}}
}

func (k *fakeKeys) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.vals[key]; ok {
		return false, nil
	}
	k.vals[key] = fmt.Sprint(value)
	return true, nil
}

func (k *fakeKeys) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.vals[key], nil
}

func (k *fakeKeys) OverwriteIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.vals[key] = fmt.Sprint(value)
	return nil
}

func (k *fakeKeys) DeleteIdempotencyKey(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.vals, key)
	return nil
}

func (k *fakeKeys) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.vals[key]
	return ok, nil
}

func (k *fakeKeys) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, held := k.locks[lockKey]; held {
		return "", nil
	}
	token := fmt.Sprintf("tok-%d", len(k.locks)+1)
	k.locks[lockKey] = token
	return token, nil
}

func (k *fakeKeys) ReleaseLock(ctx context.Context, lockKey, token string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks[lockKey] == token {
		delete(k.locks, lockKey)
	}
	return nil
}

// fixture is a small marketplace: one partner with one room at 100/day
type fixture struct {
	clock    *fakeClock
	store    *memStore
	gateway  *fakeGateway
	events   *fakeEvents
	keys     *fakeKeys
	opts     Options
	bookings *BookingService
	payments *PaymentService
	expiry   *ExpiryService
	promos   *PromoService
	partners *PartnerService
	docs     *DocumentService

	guest, other, owner, admin Actor
	room                       *models.Resource
}

const webhookSecret = "whsec_test"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC)}
	st := newMemStore(clock)

	st.users[1] = &models.User{ID: 1, Name: "Ann Guest", Email: "ann@example.com", Role: models.RoleUser}
	st.users[2] = &models.User{ID: 2, Name: "Bob Other", Email: "bob@example.com", Role: models.RoleUser}
	st.users[3] = &models.User{ID: 3, Name: "Olu Owner", Email: "olu@example.com", Role: models.RolePartner}
	st.users[4] = &models.User{ID: 4, Name: "Ada Admin", Email: "ada@example.com", Role: models.RoleAdmin}
	st.partners[10] = &models.Partner{ID: 10, UserID: 3, BusinessName: "Lagoon Hotel"}
	room := &models.Resource{
		ID:        100,
		PartnerID: 10,
		Kind:      models.ResourceRoom,
		Name:      "Deluxe 101",
		BasePrice: decimal.NewFromInt(100),
		Currency:  "USD",
		Available: true,
	}
	st.resources[room.ID] = room

	opts := Options{
		DefaultCurrency: "USD",
		PendingGrace:    10 * time.Minute,
		PayoutRatio:     decimal.RequireFromString("0.8"),
		RedirectURL:     "http://localhost/api/v1/payments/callback",
		IdempotencyTTL:  24 * time.Hour,
		WebhookLockTTL:  30 * time.Second,
		VoucherSecret:   "voucher-secret",
		Now:             clock.Now,
	}

	f := &fixture{
		clock:   clock,
		store:   st,
		gateway: &fakeGateway{secret: webhookSecret},
		events:  &fakeEvents{},
		keys:    newFakeKeys(),
		opts:    opts,
		guest:   Actor{UserID: 1, Role: models.RoleUser},
		other:   Actor{UserID: 2, Role: models.RoleUser},
		owner:   Actor{UserID: 3, Role: models.RolePartner},
		admin:   Actor{UserID: 4, Role: models.RoleAdmin},
		room:    room,
	}
	f.bookings = NewBookingService(st, NewAvailabilityChecker(st, opts), f.gateway, f.keys, f.events, opts)
	f.payments = NewPaymentService(st, f.gateway, f.keys, f.events, opts)
	f.expiry = NewExpiryService(st, f.events, opts)
	f.promos = NewPromoService(st)
	f.partners = NewPartnerService(st, f.gateway, opts)
	f.docs = NewDocumentService(f.bookings, st, opts)
	return f
}

func (f *fixture) book(t *testing.T, from, to string) *BookingResponse {
	t.Helper()
	resp, err := f.bookings.CreateBooking(context.Background(), f.guest, f.room.ID,
		&CreateBookingRequest{From: from, To: to}, "")
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return resp
}

func (f *fixture) webhook(txRef, status string, amount string) ([]byte, string) {
	body := []byte(fmt.Sprintf(
		`{"event":"charge.completed","data":{"id":5550001,"tx_ref":%q,"status":%q,"amount":%s,"currency":"USD"}}`,
		txRef, status, amount))
	return body, payment.Sign(webhookSecret, body)
}
