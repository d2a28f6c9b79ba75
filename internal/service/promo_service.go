package service

import (
	"context"
	"strings"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PromoService struct {
	store  Store
	logger *zap.Logger
}

func NewPromoService(store Store) *PromoService {
	return &PromoService{store: store, logger: util.GetLogger()}
}

// CreatePromoRequest represents an admin request to issue a promo code
type CreatePromoRequest struct {
	Code          string              `json:"code" binding:"required"`
	DiscountType  models.DiscountType `json:"discount_type" binding:"required"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	ValidFrom     time.Time           `json:"valid_from" binding:"required"`
	ValidTo       time.Time           `json:"valid_to" binding:"required"`
	UsageLimit    int                 `json:"usage_limit"`
	MinimumAmount decimal.Decimal     `json:"minimum_amount"`
}

func (r *CreatePromoRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Code) == "":
		return apperror.Validation("code is required")
	case r.DiscountType != models.DiscountPercentage && r.DiscountType != models.DiscountFlat:
		return apperror.Validation("discount_type must be PERCENTAGE or FLAT")
	case !r.DiscountValue.IsPositive():
		return apperror.Validation("discount_value must be greater than zero")
	case r.DiscountType == models.DiscountPercentage && r.DiscountValue.GreaterThan(decimal.NewFromInt(100)):
		return apperror.Validation("percentage discount cannot exceed 100")
	case !r.ValidFrom.Before(r.ValidTo):
		return apperror.Validation("valid_from must be before valid_to")
	case r.UsageLimit < 0:
		return apperror.Validation("usage_limit cannot be negative")
	case r.MinimumAmount.IsNegative():
		return apperror.Validation("minimum_amount cannot be negative")
	}
	return nil
}

// CreatePromoCode issues a new ACTIVE promo code, stored upper-cased
func (s *PromoService) CreatePromoCode(ctx context.Context, req *CreatePromoRequest) (*models.PromoCode, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	promo := &models.PromoCode{
		Code:          strings.ToUpper(strings.TrimSpace(req.Code)),
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		ValidFrom:     req.ValidFrom.UTC(),
		ValidTo:       req.ValidTo.UTC(),
		UsageLimit:    req.UsageLimit,
		MinimumAmount: req.MinimumAmount,
		Status:        models.PromoActive,
	}
	if err := s.store.CreatePromoCode(ctx, promo); err != nil {
		return nil, err
	}

	s.logger.Info("Promo code created", zap.String("code", promo.Code), zap.Int64("promo_id", promo.ID))
	return promo, nil
}

// ListPromoCodes lists all promo codes
func (s *PromoService) ListPromoCodes(ctx context.Context) ([]models.PromoCode, error) {
	return s.store.ListPromoCodes(ctx)
}
