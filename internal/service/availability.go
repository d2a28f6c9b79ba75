package service

import (
	"context"
	"strings"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
)

// AvailabilityChecker answers whether a resource can be booked for a date range
type AvailabilityChecker struct {
	store Store
	opts  Options
}

func NewAvailabilityChecker(store Store, opts Options) *AvailabilityChecker {
	return &AvailabilityChecker{store: store, opts: opts}
}

// Availability is the read-only answer for one resource and range
type Availability struct {
	ResourceID int64  `json:"resource_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Available  bool   `json:"available"`
}

// ParseRange parses a from/to pair of calendar dates
func ParseRange(from, to string) (time.Time, time.Time, error) {
	f, err := time.Parse(models.DateLayout, strings.TrimSpace(from))
	if err != nil {
		return time.Time{}, time.Time{}, apperror.Validation("from must be a date in YYYY-MM-DD format")
	}
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(to))
	if err != nil {
		return time.Time{}, time.Time{}, apperror.Validation("to must be a date in YYYY-MM-DD format")
	}
	return f, t, nil
}

// ValidateRange rejects past start dates and empty or inverted ranges
func (a *AvailabilityChecker) ValidateRange(from, to time.Time) error {
	if from.Before(today(a.opts.now())) {
		return apperror.ErrPastDateBooking
	}
	if !to.After(from) {
		return apperror.ErrInvalidDateRange
	}
	return nil
}

// Check reports availability without reserving anything.
// The authoritative check runs again inside the booking transaction.
func (a *AvailabilityChecker) Check(ctx context.Context, resourceID int64, from, to time.Time) (*Availability, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityChecker.Check", attribute.Int64("resource_id", resourceID))
	defer span.End()

	if err := a.ValidateRange(from, to); err != nil {
		return nil, err
	}

	resource, err := a.store.GetResourceByID(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	result := &Availability{
		ResourceID: resourceID,
		From:       from.Format(models.DateLayout),
		To:         to.Format(models.DateLayout),
	}
	if !resource.Available {
		return result, nil
	}

	n, err := a.store.CountOverlapping(ctx, resourceID, from, to)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	result.Available = n == 0
	return result, nil
}
