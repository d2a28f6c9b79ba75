package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/notify"
	"booking-service/internal/payment"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service")

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("booking-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
	}

	checks := map[string]func(context.Context) error{"database": db.Ping}

	// Redis only accelerates idempotency; the database row locks stay authoritative
	var keys service.KeyStore
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without idempotency keys", zap.Error(err))
	} else {
		defer redisClient.Close()
		keys = redisClient
		checks["redis"] = redisClient.Ping
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer, cfg.Kafka.PublishTimeout)

	gateway := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.WebhookSecret, cfg.Payment.Timeout)

	opts := service.Options{
		DefaultCurrency: cfg.Business.DefaultCurrency,
		PendingGrace:    cfg.Business.PendingGrace,
		PayoutRatio:     cfg.Business.PayoutRatio,
		RedirectURL:     cfg.Payment.RedirectURL,
		IdempotencyTTL:  cfg.Business.IdempotencyTTL,
		WebhookLockTTL:  cfg.Business.WebhookLockTTL,
		VoucherSecret:   cfg.Auth.VoucherSecret,
	}

	availability := service.NewAvailabilityChecker(db, opts)
	bookingService := service.NewBookingService(db, availability, gateway, keys, eventPublisher, opts)
	paymentService := service.NewPaymentService(db, gateway, keys, eventPublisher, opts)
	expiryService := service.NewExpiryService(db, eventPublisher, opts)
	partnerService := service.NewPartnerService(db, gateway, opts)
	promoService := service.NewPromoService(db)
	documentService := service.NewDocumentService(bookingService, db, opts)

	hub := notify.NewHub(originChecker(cfg.Server.AllowedOrigins))
	channels := []notify.Notifier{notify.NewLogNotifier(), hub}
	if cfg.Notify.ProviderURL != "" {
		channels = append(channels,
			notify.NewHTTPNotifier(notify.ChannelEmail, cfg.Notify.ProviderURL, cfg.Notify.ProviderKey, cfg.Notify.Timeout),
			notify.NewHTTPNotifier(notify.ChannelPush, cfg.Notify.ProviderURL, cfg.Notify.ProviderKey, cfg.Notify.Timeout),
		)
	}
	dispatcher := notify.NewDispatcher(db, channels...)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking, cfg.Kafka.NotificationsGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, dispatcher)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	scheduler, err := worker.NewScheduler(expiryService, worker.Schedules{
		Expiry:     cfg.Business.ExpirySchedule,
		Completion: cfg.Business.CompletionSchedule,
		Promo:      cfg.Business.PromoSchedule,
	})
	if err != nil {
		logger.Fatal("Failed to configure sweeps", zap.Error(err))
	}
	scheduler.RunNow()
	scheduler.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Bookings:     bookingService,
		Payments:     paymentService,
		Availability: availability,
		Partners:     partnerService,
		Promos:       promoService,
		Documents:    documentService,
		Hub:          hub,
	}, api.Options{
		JWTSecret:       cfg.Auth.JWTSecret,
		SignatureHeader: cfg.Payment.SignatureHeader,
		RateLimit:       rate.Limit(cfg.Business.RateLimitPerSecond),
		RateBurst:       cfg.Business.RateLimitBurst,
		Checks:          checks,
	})
	handler.SetupRoutes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	scheduler.Stop(shutdownCtx)
	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// originChecker restricts websocket upgrades to the CORS origins
func originChecker(allowed []string) func(r *http.Request) bool {
	set := map[string]bool{}
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
