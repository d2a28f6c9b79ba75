package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the schema
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperror.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetPartnerByID retrieves a partner by ID
func (s *Store) GetPartnerByID(ctx context.Context, id int64) (*models.Partner, error) {
	var partner models.Partner
	err := s.db.GetContext(ctx, &partner, "SELECT * FROM partners WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperror.ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

// GetPartnerByUserID retrieves the partner owned by a user
func (s *Store) GetPartnerByUserID(ctx context.Context, userID int64) (*models.Partner, error) {
	var partner models.Partner
	err := s.db.GetContext(ctx, &partner, "SELECT * FROM partners WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, apperror.ErrPartnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &partner, nil
}

// SetPartnerSubaccount stores the gateway subaccount of a partner
func (s *Store) SetPartnerSubaccount(ctx context.Context, partnerID int64, subaccountID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE partners SET subaccount_id = $1 WHERE id = $2", subaccountID, partnerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.ErrPartnerNotFound
	}
	return nil
}

// GetResourceByID retrieves a resource by ID
func (s *Store) GetResourceByID(ctx context.Context, id int64) (*models.Resource, error) {
	var resource models.Resource
	err := s.db.GetContext(ctx, &resource, "SELECT * FROM resources WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperror.ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// ListResources retrieves resources, optionally by kind
func (s *Store) ListResources(ctx context.Context, kind models.ResourceKind, limit, offset int) ([]models.Resource, error) {
	resources := []models.Resource{}
	var err error
	if kind == "" {
		err = s.db.SelectContext(ctx, &resources,
			"SELECT * FROM resources ORDER BY id LIMIT $1 OFFSET $2", limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &resources,
			"SELECT * FROM resources WHERE kind = $1 ORDER BY id LIMIT $2 OFFSET $3", kind, limit, offset)
	}
	return resources, err
}

// CreateResource creates a new resource
func (s *Store) CreateResource(ctx context.Context, r *models.Resource) error {
	query := `
		INSERT INTO resources (partner_id, kind, name, base_price, discount_percent, vat_percent, currency, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, r, query,
		r.PartnerID, r.Kind, r.Name, r.BasePrice, r.DiscountPercent, r.VATPercent, r.Currency, r.Available)
}

// GetPromoCode retrieves an active or expired promo code, nil when absent
func (s *Store) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := s.db.GetContext(ctx, &promo, "SELECT * FROM promo_codes WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// CreatePromoCode creates a new promo code
func (s *Store) CreatePromoCode(ctx context.Context, p *models.PromoCode) error {
	query := `
		INSERT INTO promo_codes (code, discount_type, discount_value, valid_from, valid_to, usage_limit, minimum_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, used_count, created_at`

	err := s.db.GetContext(ctx, p, query,
		p.Code, p.DiscountType, p.DiscountValue, p.ValidFrom, p.ValidTo, p.UsageLimit, p.MinimumAmount, p.Status)
	if isUniqueViolation(err) {
		return apperror.ErrPromoCodeExists
	}
	return err
}

// ListPromoCodes retrieves all promo codes
func (s *Store) ListPromoCodes(ctx context.Context) ([]models.PromoCode, error) {
	promos := []models.PromoCode{}
	err := s.db.SelectContext(ctx, &promos, "SELECT * FROM promo_codes ORDER BY created_at DESC")
	return promos, err
}

// ExpirePromoCodes marks active promo codes past their window as expired
func (s *Store) ExpirePromoCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE promo_codes SET status = $1 WHERE status = $2 AND valid_to < $3",
		models.PromoExpired, models.PromoActive, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListPayoutsByPartner retrieves payouts for a partner
func (s *Store) ListPayoutsByPartner(ctx context.Context, partnerID int64) ([]models.Payout, error) {
	payouts := []models.Payout{}
	err := s.db.SelectContext(ctx, &payouts,
		"SELECT * FROM payouts WHERE partner_id = $1 ORDER BY created_at DESC", partnerID)
	return payouts, err
}
