package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Bookings in these states no longer hold their dates.
const overlapQuery = `
	SELECT COUNT(*) FROM bookings
	WHERE resource_id = $1
	  AND status NOT IN ('CANCELLED', 'EXPIRED')
	  AND date_from <= $3
	  AND date_to >= $2`

// CountOverlapping counts bookings holding any day of [from, to] for a resource
func (s *Store) CountOverlapping(ctx context.Context, resourceID int64, from, to time.Time) (int, error) {
	return countOverlapping(ctx, s.db, resourceID, from, to)
}

func countOverlapping(ctx context.Context, q sqlx.QueryerContext, resourceID int64, from, to time.Time) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, overlapQuery, resourceID, from, to); err != nil {
		return 0, fmt.Errorf("failed to count overlapping bookings: %w", err)
	}
	return n, nil
}

// CreateBookingTx inserts a PENDING booking and its payment.
// The resource row is locked first so concurrent creates for the same
// resource run their overlap check one after another.
func (s *Store) CreateBookingTx(ctx context.Context, booking *models.Booking, payment *models.Payment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var available bool
	err = tx.GetContext(ctx, &available,
		"SELECT available FROM resources WHERE id = $1 FOR UPDATE", booking.ResourceID)
	if err == sql.ErrNoRows {
		return apperror.ErrResourceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock resource: %w", err)
	}
	if !available {
		return apperror.ErrResourceUnavailable
	}

	n, err := countOverlapping(ctx, tx, booking.ResourceID, booking.DateFrom, booking.DateTo)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperror.ErrResourceUnavailable
	}

	query := `
		INSERT INTO bookings (resource_id, user_id, partner_id, date_from, date_to, promo_code, total_price, currency, status, tx_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	err = tx.GetContext(ctx, booking, query,
		booking.ResourceID, booking.UserID, booking.PartnerID, booking.DateFrom, booking.DateTo,
		booking.PromoCode, booking.TotalPrice, booking.Currency, booking.Status, booking.TxRef)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	payment.BookingID = booking.ID
	query = `
		INSERT INTO payments (booking_id, amount, currency, provider, tx_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	err = tx.GetContext(ctx, payment, query,
		payment.BookingID, payment.Amount, payment.Currency, payment.Provider, payment.TxRef, payment.Status)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return tx.Commit()
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperror.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListBookings retrieves bookings matching the filter, newest first
func (s *Store) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.PartnerID != 0 {
		add("partner_id = $%d", f.PartnerID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}

	query := "SELECT * FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	bookings := []models.Booking{}
	err := s.db.SelectContext(ctx, &bookings, query, args...)
	return bookings, err
}

// GetPaymentByTxRef retrieves a payment by transaction reference
func (s *Store) GetPaymentByTxRef(ctx context.Context, txRef string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE tx_ref = $1", txRef)
	if err == sql.ErrNoRows {
		return nil, apperror.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByBookingID retrieves the payment of a booking
func (s *Store) GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE booking_id = $1", bookingID)
	if err == sql.ErrNoRows {
		return nil, apperror.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentLink stores the gateway checkout link of a payment
func (s *Store) UpdatePaymentLink(ctx context.Context, paymentID int64, link string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET payment_link = $1, updated_at = NOW() WHERE id = $2",
		link, paymentID)
	return err
}

func lockPayment(ctx context.Context, tx *sqlx.Tx, txRef string) (*models.Payment, *models.Booking, error) {
	var payment models.Payment
	err := tx.GetContext(ctx, &payment, "SELECT * FROM payments WHERE tx_ref = $1 FOR UPDATE", txRef)
	if err == sql.ErrNoRows {
		return nil, nil, apperror.ErrPaymentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock payment: %w", err)
	}

	var booking models.Booking
	err = tx.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE id = $1 FOR UPDATE", payment.BookingID)
	if err == sql.ErrNoRows {
		return nil, nil, apperror.ErrBookingNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	return &payment, &booking, nil
}

func setBookingStatus(ctx context.Context, tx *sqlx.Tx, booking *models.Booking, to models.BookingStatus) error {
	if !models.CanTransition(booking.Status, to) {
		return apperror.ErrInvalidTransition.WithMessage("booking %d cannot move from %s to %s", booking.ID, booking.Status, to)
	}
	err := tx.GetContext(ctx, &booking.UpdatedAt,
		"UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at",
		to, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	booking.Status = to
	return nil
}

func setPaymentStatus(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, to models.PaymentStatus, providerTxID string) error {
	err := tx.GetContext(ctx, &payment.UpdatedAt, `
		UPDATE payments SET status = $1, provider_tx_id = COALESCE(NULLIF($2, ''), provider_tx_id), updated_at = NOW()
		WHERE id = $3 RETURNING updated_at`,
		to, providerTxID, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	payment.Status = to
	if providerTxID != "" {
		payment.ProviderTxID = providerTxID
	}
	return nil
}

// ConfirmPaymentTx applies a successful gateway result to the payment with txRef.
// A payment already in SUCCESS is reported as processed without changes.
func (s *Store) ConfirmPaymentTx(ctx context.Context, txRef, providerTxID string, payoutRatio decimal.Decimal) (*models.Reconciliation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payment, booking, err := lockPayment(ctx, tx, txRef)
	if err != nil {
		return nil, err
	}
	result := &models.Reconciliation{Booking: booking, Payment: payment}

	if payment.Status == models.PaymentSuccess {
		result.AlreadyProcessed = true
		return result, nil
	}

	if err := setPaymentStatus(ctx, tx, payment, models.PaymentSuccess, providerTxID); err != nil {
		return nil, err
	}

	// Money arrived for a booking that already expired or was cancelled.
	if booking.Status != models.BookingPending {
		result.NeedsRefund = true
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return result, nil
	}

	if err := setBookingStatus(ctx, tx, booking, models.BookingConfirmed); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE resources SET available = FALSE, updated_at = NOW() WHERE id = $1", booking.ResourceID); err != nil {
		return nil, fmt.Errorf("failed to mark resource unavailable: %w", err)
	}

	if booking.PromoCode != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE promo_codes SET used_count = used_count + 1
			WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)`, *booking.PromoCode)
		if err != nil {
			return nil, fmt.Errorf("failed to count promo usage: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			result.PromoOverLimit = true
		}
	}

	payoutAmount, commissionAmount := models.SplitAmount(payment.Amount, payoutRatio)

	payout := &models.Payout{
		PaymentID: payment.ID,
		BookingID: booking.ID,
		PartnerID: booking.PartnerID,
		Amount:    payoutAmount,
		Currency:  payment.Currency,
		Status:    models.PayoutPending,
	}
	err = tx.GetContext(ctx, payout, `
		INSERT INTO payouts (payment_id, booking_id, partner_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id, created_at`,
		payout.PaymentID, payout.BookingID, payout.PartnerID, payout.Amount, payout.Currency, payout.Status)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to insert payout: %w", err)
	}
	if err == nil {
		result.Payout = payout
	}

	commission := &models.PlatformCommission{
		PaymentID: payment.ID,
		BookingID: booking.ID,
		Amount:    commissionAmount,
		Currency:  payment.Currency,
	}
	err = tx.GetContext(ctx, commission, `
		INSERT INTO platform_commissions (payment_id, booking_id, amount, currency)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id, created_at`,
		commission.PaymentID, commission.BookingID, commission.Amount, commission.Currency)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to insert commission: %w", err)
	}
	if err == nil {
		result.Commission = commission
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// FailPaymentTx applies a failed gateway result. Only PENDING payments change.
func (s *Store) FailPaymentTx(ctx context.Context, txRef, providerTxID string) (*models.Reconciliation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payment, booking, err := lockPayment(ctx, tx, txRef)
	if err != nil {
		return nil, err
	}
	result := &models.Reconciliation{Booking: booking, Payment: payment}

	if payment.Status != models.PaymentPending {
		result.AlreadyProcessed = true
		return result, nil
	}

	if err := setPaymentStatus(ctx, tx, payment, models.PaymentFailed, providerTxID); err != nil {
		return nil, err
	}
	if booking.Status == models.BookingPending {
		if err := setBookingStatus(ctx, tx, booking, models.BookingCancelled); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// ExpirePendingBookings moves PENDING bookings created before cutoff to EXPIRED
// and fails their pending payments.
func (s *Store) ExpirePendingBookings(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	expired := []models.Booking{}
	err = tx.SelectContext(ctx, &expired, `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < $3
		RETURNING *`,
		models.BookingExpired, models.BookingPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire bookings: %w", err)
	}
	if len(expired) == 0 {
		return expired, nil
	}

	ids := make([]int64, len(expired))
	for i, b := range expired {
		ids[i] = b.ID
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE booking_id = ANY($2) AND status = $3",
		models.PaymentFailed, pq.Array(ids), models.PaymentPending); err != nil {
		return nil, fmt.Errorf("failed to fail expired payments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return expired, nil
}

// CompleteFinishedBookings moves CONFIRMED bookings that ended before today to
// COMPLETED and releases resources with no other confirmed booking.
func (s *Store) CompleteFinishedBookings(ctx context.Context, today time.Time) ([]models.Booking, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	completed := []models.Booking{}
	err = tx.SelectContext(ctx, &completed, `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE status = $2 AND date_to < $3
		RETURNING *`,
		models.BookingCompleted, models.BookingConfirmed, today)
	if err != nil {
		return nil, fmt.Errorf("failed to complete bookings: %w", err)
	}
	if len(completed) == 0 {
		return completed, nil
	}

	resourceIDs := make([]int64, 0, len(completed))
	seen := make(map[int64]bool)
	for _, b := range completed {
		if !seen[b.ResourceID] {
			seen[b.ResourceID] = true
			resourceIDs = append(resourceIDs, b.ResourceID)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE resources r SET available = TRUE, updated_at = NOW()
		WHERE r.id = ANY($1)
		  AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.resource_id = r.id AND b.status = $2)`,
		pq.Array(resourceIDs), models.BookingConfirmed); err != nil {
		return nil, fmt.Errorf("failed to release resources: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return completed, nil
}
