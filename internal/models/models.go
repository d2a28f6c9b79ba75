package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of booking dates
const DateLayout = "2006-01-02"

// Role is the role carried in the access token
type Role string

const (
	RoleUser       Role = "USER"
	RolePartner    Role = "PARTNER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// IsAdmin reports whether the role has back-office access
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// ResourceKind is the type of bookable unit
type ResourceKind string

const (
	ResourceRoom       ResourceKind = "ROOM"
	ResourceCar        ResourceKind = "CAR"
	ResourceSecurity   ResourceKind = "SECURITY"
	ResourceAttraction ResourceKind = "ATTRACTION"
)

// Valid reports whether k is a known kind
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceRoom, ResourceCar, ResourceSecurity, ResourceAttraction:
		return true
	}
	return false
}

// User is a marketplace account
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	PushToken string    `db:"push_token" json:"-"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Partner is a business that owns resources and receives payouts
type Partner struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	BusinessName string    `db:"business_name" json:"business_name"`
	SubaccountID string    `db:"subaccount_id" json:"subaccount_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Resource is a bookable unit (room, car, security slot, attraction slot)
type Resource struct {
	ID              int64               `db:"id" json:"id"`
	PartnerID       int64               `db:"partner_id" json:"partner_id"`
	Kind            ResourceKind        `db:"kind" json:"kind"`
	Name            string              `db:"name" json:"name"`
	BasePrice       decimal.Decimal     `db:"base_price" json:"base_price"`
	DiscountPercent decimal.NullDecimal `db:"discount_percent" json:"discount_percent"`
	VATPercent      decimal.NullDecimal `db:"vat_percent" json:"vat_percent"`
	Currency        string              `db:"currency" json:"currency"`
	Available       bool                `db:"available" json:"available"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// Booking is a reservation of a resource for a date range [DateFrom, DateTo)
type Booking struct {
	ID         int64           `db:"id" json:"id"`
	ResourceID int64           `db:"resource_id" json:"resource_id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	PartnerID  int64           `db:"partner_id" json:"partner_id"`
	DateFrom   time.Time       `db:"date_from" json:"date_from"`
	DateTo     time.Time       `db:"date_to" json:"date_to"`
	PromoCode  *string         `db:"promo_code" json:"promo_code,omitempty"`
	TotalPrice decimal.Decimal `db:"total_price" json:"total_price"`
	Currency   string          `db:"currency" json:"currency"`
	Status     BookingStatus   `db:"status" json:"status"`
	TxRef      string          `db:"tx_ref" json:"tx_ref"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Units returns the number of billable days
func (b *Booking) Units() int {
	return DaysBetween(b.DateFrom, b.DateTo)
}

// DaysBetween returns the number of calendar days from..to
func DaysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

// DiscountType is how a promo code deducts
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFlat       DiscountType = "FLAT"
)

// PromoStatus is the lifecycle state of a promo code
type PromoStatus string

const (
	PromoActive  PromoStatus = "ACTIVE"
	PromoExpired PromoStatus = "EXPIRED"
)

// PromoCode is an admin-issued discount code
type PromoCode struct {
	ID            int64           `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	ValidFrom     time.Time       `db:"valid_from" json:"valid_from"`
	ValidTo       time.Time       `db:"valid_to" json:"valid_to"`
	UsageLimit    int             `db:"usage_limit" json:"usage_limit"`
	UsedCount     int             `db:"used_count" json:"used_count"`
	MinimumAmount decimal.Decimal `db:"minimum_amount" json:"minimum_amount"`
	Status        PromoStatus     `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Usable reports whether the code can be applied at now
func (p *PromoCode) Usable(now time.Time) bool {
	if p.Status != PromoActive {
		return false
	}
	if p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit {
		return false
	}
	return !now.Before(p.ValidFrom) && !now.After(p.ValidTo)
}

// Payment is a gateway charge for a booking
type Payment struct {
	ID           int64           `db:"id" json:"id"`
	BookingID    int64           `db:"booking_id" json:"booking_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Currency     string          `db:"currency" json:"currency"`
	Provider     string          `db:"provider" json:"provider"`
	TxRef        string          `db:"tx_ref" json:"tx_ref"`
	ProviderTxID string          `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	Status       PaymentStatus   `db:"status" json:"status"`
	PaymentLink  string          `db:"payment_link" json:"payment_link,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Payout is the partner's share of a successful payment
type Payout struct {
	ID        int64           `db:"id" json:"id"`
	PaymentID int64           `db:"payment_id" json:"payment_id"`
	BookingID int64           `db:"booking_id" json:"booking_id"`
	PartnerID int64           `db:"partner_id" json:"partner_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	Status    string          `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// PlatformCommission is the platform's share of a successful payment
type PlatformCommission struct {
	ID        int64           `db:"id" json:"id"`
	PaymentID int64           `db:"payment_id" json:"payment_id"`
	BookingID int64           `db:"booking_id" json:"booking_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Currency  string          `db:"currency" json:"currency"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// SplitAmount splits a paid amount into partner payout and platform commission
func SplitAmount(amount, payoutRatio decimal.Decimal) (payout, commission decimal.Decimal) {
	payout = amount.Mul(payoutRatio).Round(2)
	commission = amount.Sub(payout)
	return payout, commission
}

// Reconciliation is the outcome of applying a gateway result to a payment
type Reconciliation struct {
	Booking          *Booking            `json:"booking"`
	Payment          *Payment            `json:"payment"`
	Payout           *Payout             `json:"payout,omitempty"`
	Commission       *PlatformCommission `json:"commission,omitempty"`
	AlreadyProcessed bool                `json:"already_processed"`
	NeedsRefund      bool                `json:"needs_refund"`
	// PromoOverLimit is set when the booking's promo code had no uses left
	// at confirmation. The discount stands; the counter stays at the limit.
	PromoOverLimit bool `json:"promo_over_limit,omitempty"`
}

// BookingFilter narrows booking listings
type BookingFilter struct {
	UserID    int64
	PartnerID int64
	Status    BookingStatus
	Limit     int
	Offset    int
}

// Payout statuses
const (
	PayoutPending = "PENDING"
)

// Payment providers
const (
	ProviderFlutterwave = "flutterwave"
)
