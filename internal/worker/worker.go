package worker

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Consumer is a Kafka consumer loop. *broker.Consumer implements it.
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Dispatcher delivers notifications for one booking event
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.BookingEvent) error
}

// NotificationWorker turns booking events into notifications
type NotificationWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer Consumer, dispatcher Dispatcher) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnBookingEvent(dispatcher.Dispatch)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// Sweeps are the periodic status sweeps. *service.ExpiryService implements it.
type Sweeps interface {
	ExpireStalePending(ctx context.Context) (int, error)
	CompleteFinished(ctx context.Context) (int, error)
	ExpirePromoCodes(ctx context.Context) (int64, error)
}

// Schedules are cron expressions for each sweep
type Schedules struct {
	Expiry     string
	Completion string
	Promo      string
}

// Scheduler runs the sweeps on their cron schedules.
// A sweep still running when its next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	sweeps Sweeps
	logger *zap.Logger
}

// NewScheduler registers the sweeps. It fails on an invalid schedule.
func NewScheduler(sweeps Sweeps, schedules Schedules) (*Scheduler, error) {
	logger := util.GetLogger()
	cl := cronLogger{logger.Sugar()}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeps: sweeps,
		logger: logger,
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) (int64, error)
	}{
		{"expiry", schedules.Expiry, s.expire},
		{"completion", schedules.Completion, s.complete},
		{"promo", schedules.Promo, sweeps.ExpirePromoCodes},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.schedule, func() { s.run(job.name, job.run) }); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", job.name, job.schedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) expire(ctx context.Context) (int64, error) {
	n, err := s.sweeps.ExpireStalePending(ctx)
	return int64(n), err
}

func (s *Scheduler) complete(ctx context.Context) (int64, error) {
	n, err := s.sweeps.CompleteFinished(ctx)
	return int64(n), err
}

func (s *Scheduler) run(name string, sweep func(context.Context) (int64, error)) {
	n, err := sweep(context.Background())
	if err != nil {
		util.SweepErrorsTotal.WithLabelValues(name).Inc()
		s.logger.Error("Sweep failed", zap.String("sweep", name), zap.Error(err))
		return
	}
	s.logger.Debug("Sweep finished", zap.String("sweep", name), zap.Int64("affected", n))
}

// RunNow runs every sweep once, in order, on the calling goroutine
func (s *Scheduler) RunNow() {
	s.run("expiry", s.expire)
	s.run("completion", s.complete)
	s.run("promo", s.sweeps.ExpirePromoCodes)
}

// Start starts the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.logger.Info("Starting sweep scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop stops scheduling and waits for running sweeps to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("Stopping sweep scheduler")
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("Sweep still running at shutdown")
	}
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	*zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, append(keysAndValues, "error", err)...)
}
