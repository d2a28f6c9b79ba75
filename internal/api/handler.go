package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BookingService is the booking lifecycle. *service.BookingService implements it.
type BookingService interface {
	CreateBooking(ctx context.Context, actor service.Actor, resourceID int64, req *service.CreateBookingRequest, idempotencyKey string) (*service.BookingResponse, error)
	RetryPayment(ctx context.Context, actor service.Actor, bookingID int64) (*service.BookingResponse, error)
	GetBooking(ctx context.Context, actor service.Actor, bookingID int64) (*service.BookingResponse, error)
	ListMyBookings(ctx context.Context, actor service.Actor, status models.BookingStatus, limit, offset int) ([]models.Booking, error)
	ListPartnerBookings(ctx context.Context, actor service.Actor, status models.BookingStatus, limit, offset int) ([]models.Booking, error)
	ListAllBookings(ctx context.Context, status models.BookingStatus, limit, offset int) ([]models.Booking, error)
}

// PaymentService reconciles gateway notifications
type PaymentService interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (*service.Result, error)
	HandleCallback(ctx context.Context, status, txRef, transactionID string) (*service.Result, error)
}

// AvailabilityService answers availability queries
type AvailabilityService interface {
	Check(ctx context.Context, resourceID int64, from, to time.Time) (*service.Availability, error)
}

// PartnerService manages resources and settlement
type PartnerService interface {
	CreateSubaccount(ctx context.Context, partnerID int64, req *service.SubaccountRequest) (*models.Partner, error)
	ListPayouts(ctx context.Context, actor service.Actor) ([]models.Payout, error)
	CreateResource(ctx context.Context, actor service.Actor, req *service.CreateResourceRequest) (*models.Resource, error)
	ListResources(ctx context.Context, kind models.ResourceKind, limit, offset int) ([]models.Resource, error)
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
}

// PromoService administers promo codes
type PromoService interface {
	CreatePromoCode(ctx context.Context, req *service.CreatePromoRequest) (*models.PromoCode, error)
	ListPromoCodes(ctx context.Context) ([]models.PromoCode, error)
}

// DocumentService renders and checks booking documents
type DocumentService interface {
	Voucher(ctx context.Context, actor service.Actor, bookingID int64) ([]byte, error)
	Receipt(ctx context.Context, actor service.Actor, bookingID int64) ([]byte, error)
	VerifyVoucher(ctx context.Context, actor service.Actor, payload string) (*models.Booking, error)
}

// WebSocketHub holds live notification connections. *notify.Hub implements it.
type WebSocketHub interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID int64)
}

// Services are the handler's dependencies
type Services struct {
	Bookings     BookingService
	Payments     PaymentService
	Availability AvailabilityService
	Partners     PartnerService
	Promos       PromoService
	Documents    DocumentService
	Hub          WebSocketHub
}

// Options configure the HTTP layer
type Options struct {
	JWTSecret       string
	SignatureHeader string
	RateLimit       rate.Limit
	RateBurst       int
	// Checks are run by /ready; any error makes the service not ready
	Checks map[string]func(context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	Services
	opts    Options
	limiter *RateLimiter
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(services Services, opts Options) *Handler {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "verif-hash"
	}
	return &Handler{
		Services: services,
		opts:     opts,
		limiter:  NewRateLimiter(opts.RateLimit, opts.RateBurst),
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))
	router.Use(errorMiddleware(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := JWTAuth(h.opts.JWTSecret)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/resources", h.listResources)
		v1.GET("/resources/:id", h.getResource)
		v1.GET("/resources/:id/availability", h.checkAvailability)

		payments := v1.Group("/payments")
		// gateway deliveries share a few source IPs; the signature check gates them instead
		payments.POST("/webhook", h.paymentWebhook)
		payments.GET("/callback", h.paymentCallback)

		v1.GET("/ws", auth, h.websocket)

		bookings := v1.Group("/bookings", auth)
		{
			bookings.POST("/:id", RequireRole(models.RoleUser), h.limiter.Limit(), h.createBooking)
			bookings.POST("/:id/pay", h.retryPayment)
			bookings.GET("/my-bookings", h.myBookings)
			bookings.GET("/:id", h.getBooking)
			bookings.GET("/:id/voucher", h.voucher)
			bookings.GET("/:id/receipt", h.receipt)
		}

		partner := v1.Group("/partner", auth, RequireRole(models.RolePartner))
		{
			partner.GET("/bookings", h.partnerBookings)
			partner.GET("/payouts", h.partnerPayouts)
			partner.POST("/resources", h.createResource)
			partner.POST("/vouchers/verify", h.verifyVoucher)
		}

		admin := v1.Group("/admin", auth, RequireRole(models.RoleAdmin, models.RoleSuperAdmin))
		{
			admin.GET("/bookings", h.allBookings)
			admin.POST("/promo-codes", h.createPromoCode)
			admin.GET("/promo-codes", h.listPromoCodes)
			admin.POST("/partners/:id/subaccount", h.createSubaccount)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.opts.Checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// Response is the success envelope
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
