package service

import (
	"context"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// ExpiryService runs the scheduled status sweeps.
// Every sweep is a conditional bulk update, so overlapping runs are harmless.
type ExpiryService struct {
	store  Store
	events Events
	opts   Options
	logger *zap.Logger
}

func NewExpiryService(store Store, events Events, opts Options) *ExpiryService {
	return &ExpiryService{
		store:  store,
		events: events,
		opts:   opts,
		logger: util.GetLogger(),
	}
}

// ExpireStalePending expires PENDING bookings older than the grace window
func (s *ExpiryService) ExpireStalePending(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ExpiryService.ExpireStalePending")
	defer span.End()
	defer observeSweep("expiry", time.Now())

	cutoff := s.opts.now().Add(-s.opts.PendingGrace)
	expired, err := s.store.ExpirePendingBookings(ctx, cutoff)
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}

	for i := range expired {
		util.BookingsExpiredTotal.Inc()
		publishEvent(ctx, s.events, s.logger,
			bookingEvent(models.EventTypeBookingExpired, &expired[i], "not paid in time"))
	}
	if len(expired) > 0 {
		s.logger.Info("Expired stale pending bookings",
			zap.Int("count", len(expired)),
			zap.Time("cutoff", cutoff))
	}
	return len(expired), nil
}

// CompleteFinished completes CONFIRMED bookings whose end date has passed
func (s *ExpiryService) CompleteFinished(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ExpiryService.CompleteFinished")
	defer span.End()
	defer observeSweep("completion", time.Now())

	completed, err := s.store.CompleteFinishedBookings(ctx, today(s.opts.now()))
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}

	for i := range completed {
		util.BookingsCompletedTotal.Inc()
		publishEvent(ctx, s.events, s.logger,
			bookingEvent(models.EventTypeBookingCompleted, &completed[i], ""))
	}
	if len(completed) > 0 {
		s.logger.Info("Completed finished bookings", zap.Int("count", len(completed)))
	}
	return len(completed), nil
}

// ExpirePromoCodes expires ACTIVE promo codes past their validity window
func (s *ExpiryService) ExpirePromoCodes(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ExpiryService.ExpirePromoCodes")
	defer span.End()
	defer observeSweep("promo", time.Now())

	n, err := s.store.ExpirePromoCodes(ctx, s.opts.now())
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}
	util.PromoCodesExpiredTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("Expired promo codes", zap.Int64("count", n))
	}
	return n, nil
}

func observeSweep(name string, start time.Time) {
	util.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
