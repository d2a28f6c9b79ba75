package service

import (
	"context"
	"errors"
	"strings"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PartnerService manages partner resources and settlement
type PartnerService struct {
	store   Store
	gateway Gateway
	opts    Options
	logger  *zap.Logger
}

func NewPartnerService(store Store, gateway Gateway, opts Options) *PartnerService {
	return &PartnerService{store: store, gateway: gateway, opts: opts, logger: util.GetLogger()}
}

// SubaccountRequest carries the partner's settlement bank account
type SubaccountRequest struct {
	AccountBank   string `json:"account_bank" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	Country       string `json:"country" binding:"required"`
}

// CreateSubaccount registers the partner at the gateway so checkouts split automatically.
// The platform keeps the commission share on every split.
func (s *PartnerService) CreateSubaccount(ctx context.Context, partnerID int64, req *SubaccountRequest) (*models.Partner, error) {
	ctx, span := util.StartSpan(ctx, "PartnerService.CreateSubaccount")
	defer span.End()

	partner, err := s.store.GetPartnerByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	owner, err := s.store.GetUserByID(ctx, partner.UserID)
	if err != nil {
		return nil, err
	}

	commission := decimal.NewFromInt(1).Sub(s.opts.PayoutRatio)
	id, err := s.gateway.CreateSubaccount(ctx, payment.SubaccountRequest{
		AccountBank:    req.AccountBank,
		AccountNumber:  req.AccountNumber,
		BusinessName:   partner.BusinessName,
		BusinessEmail:  owner.Email,
		BusinessMobile: owner.Phone,
		Country:        strings.ToUpper(req.Country),
		SplitType:      "percentage",
		SplitValue:     commission.InexactFloat64(),
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if err := s.store.SetPartnerSubaccount(ctx, partner.ID, id); err != nil {
		return nil, err
	}
	partner.SubaccountID = id

	s.logger.Info("Partner subaccount created",
		zap.Int64("partner_id", partner.ID),
		zap.String("subaccount_id", id))
	return partner, nil
}

// ListPayouts lists the payouts of the caller's partner business
func (s *PartnerService) ListPayouts(ctx context.Context, actor Actor) ([]models.Payout, error) {
	partner, err := s.partnerOf(ctx, actor)
	if err != nil {
		return nil, err
	}
	return s.store.ListPayoutsByPartner(ctx, partner.ID)
}

// CreateResourceRequest represents a new bookable unit
type CreateResourceRequest struct {
	Kind            models.ResourceKind `json:"kind" binding:"required"`
	Name            string              `json:"name" binding:"required"`
	BasePrice       decimal.Decimal     `json:"base_price"`
	DiscountPercent decimal.NullDecimal `json:"discount_percent"`
	VATPercent      decimal.NullDecimal `json:"vat_percent"`
	Currency        string              `json:"currency"`
}

func (r *CreateResourceRequest) validate() error {
	hundred := decimal.NewFromInt(100)
	switch {
	case !r.Kind.Valid():
		return apperror.Validation("kind must be one of ROOM, CAR, SECURITY, ATTRACTION")
	case strings.TrimSpace(r.Name) == "":
		return apperror.Validation("name is required")
	case r.BasePrice.IsNegative():
		return apperror.Validation("base_price cannot be negative")
	case r.DiscountPercent.Valid && (r.DiscountPercent.Decimal.IsNegative() || r.DiscountPercent.Decimal.GreaterThan(hundred)):
		return apperror.Validation("discount_percent must be between 0 and 100")
	case r.VATPercent.Valid && r.VATPercent.Decimal.IsNegative():
		return apperror.Validation("vat_percent cannot be negative")
	}
	return nil
}

// CreateResource adds a resource owned by the caller's partner business
func (s *PartnerService) CreateResource(ctx context.Context, actor Actor, req *CreateResourceRequest) (*models.Resource, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	partner, err := s.partnerOf(ctx, actor)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	resource := &models.Resource{
		PartnerID:       partner.ID,
		Kind:            req.Kind,
		Name:            strings.TrimSpace(req.Name),
		BasePrice:       req.BasePrice,
		DiscountPercent: req.DiscountPercent,
		VATPercent:      req.VATPercent,
		Currency:        currency,
		Available:       true,
	}
	if err := s.store.CreateResource(ctx, resource); err != nil {
		return nil, err
	}

	s.logger.Info("Resource created",
		zap.Int64("resource_id", resource.ID),
		zap.Int64("partner_id", partner.ID),
		zap.String("kind", string(resource.Kind)))
	return resource, nil
}

// ListResources lists resources, optionally of one kind
func (s *PartnerService) ListResources(ctx context.Context, kind models.ResourceKind, limit, offset int) ([]models.Resource, error) {
	if kind != "" && !kind.Valid() {
		return nil, apperror.Validation("unknown resource kind")
	}
	limit, offset = pageOf(limit, offset)
	return s.store.ListResources(ctx, kind, limit, offset)
}

// GetResource returns one resource
func (s *PartnerService) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	return s.store.GetResourceByID(ctx, id)
}

func (s *PartnerService) partnerOf(ctx context.Context, actor Actor) (*models.Partner, error) {
	partner, err := s.store.GetPartnerByUserID(ctx, actor.UserID)
	if errors.Is(err, apperror.ErrPartnerNotFound) {
		return nil, apperror.ErrForbidden.WithMessage("caller is not a partner")
	}
	return partner, err
}
