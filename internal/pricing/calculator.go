// Package pricing computes booking totals.
//
// The order of operations is fixed: base price times units, resource
// discount, promo code, then VAT. Every step works on the running total and
// the final amount is rounded to two decimals.
package pricing

import (
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Input is everything needed to price a booking
type Input struct {
	BasePrice       decimal.Decimal
	Units           int
	DiscountPercent decimal.NullDecimal
	Promo           *models.PromoCode
	VATPercent      decimal.NullDecimal
	Now             time.Time
}

// Quote is a priced booking with its intermediate amounts
type Quote struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	PromoDeduction decimal.Decimal `json:"promo_deduction"`
	VAT            decimal.Decimal `json:"vat"`
	Total          decimal.Decimal `json:"total"`
}

// Calculate prices a booking
func Calculate(in Input) (*Quote, error) {
	if in.Units <= 0 {
		return nil, apperror.ErrInvalidDateRange
	}

	q := &Quote{
		Subtotal:       in.BasePrice.Mul(decimal.NewFromInt(int64(in.Units))),
		Discount:       decimal.Zero,
		PromoDeduction: decimal.Zero,
		VAT:            decimal.Zero,
	}
	total := q.Subtotal

	if in.DiscountPercent.Valid && in.DiscountPercent.Decimal.IsPositive() {
		q.Discount = total.Mul(in.DiscountPercent.Decimal).Div(hundred)
		total = total.Sub(q.Discount)
	}

	if in.Promo != nil {
		deduction, err := promoDeduction(in.Promo, total, in.Now)
		if err != nil {
			return nil, err
		}
		q.PromoDeduction = deduction
		total = total.Sub(deduction)
	}

	if in.VATPercent.Valid && in.VATPercent.Decimal.IsPositive() {
		q.VAT = total.Mul(in.VATPercent.Decimal).Div(hundred)
		total = total.Add(q.VAT)
	}

	q.Total = total.Round(2)
	return q, nil
}

func promoDeduction(p *models.PromoCode, total decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !p.Usable(now) {
		return decimal.Zero, apperror.ErrPromoNotFoundOrExpired
	}
	if total.LessThan(p.MinimumAmount) {
		return decimal.Zero, apperror.ErrPromoMinimumNotMet.WithMessage(
			"order amount %s is below the promo minimum %s", total.StringFixed(2), p.MinimumAmount.StringFixed(2))
	}

	var deduction decimal.Decimal
	switch p.DiscountType {
	case models.DiscountPercentage:
		deduction = total.Mul(p.DiscountValue).Div(hundred)
	case models.DiscountFlat:
		deduction = p.DiscountValue
	default:
		return decimal.Zero, apperror.ErrPromoNotFoundOrExpired
	}

	// never discount below zero
	if deduction.GreaterThan(total) {
		deduction = total
	}
	return deduction, nil
}
