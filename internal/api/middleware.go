package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"booking-service/internal/apperror"
	"booking-service/internal/models"
	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
	ctxEmail  = "email"
)

// Claims are the access token claims. Subject carries the user id.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 access token
func ParseToken(secret, tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// JWTAuth requires a bearer token. Browsers opening a websocket may pass it as ?token=.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tok = strings.TrimPrefix(h, "Bearer ")
		} else {
			tok = c.Query("token")
		}
		if tok == "" {
			writeError(c, apperror.ErrUnauthorized)
			return
		}

		claims, err := ParseToken(secret, tok)
		if err != nil {
			writeError(c, apperror.ErrUnauthorized.WithMessage("invalid or expired token"))
			return
		}
		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || userID <= 0 {
			writeError(c, apperror.ErrUnauthorized.WithMessage("token subject is not a user id"))
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, models.Role(strings.ToUpper(claims.Role)))
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

// RequireRole lets only the given roles through
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := map[models.Role]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		v, _ := c.Get(ctxRole)
		role, _ := v.(models.Role)
		if _, ok := allowed[role]; !ok {
			writeError(c, apperror.ErrForbidden)
			return
		}
		c.Next()
	}
}

func actorOf(c *gin.Context) service.Actor {
	id, _ := c.Get(ctxUserID)
	role, _ := c.Get(ctxRole)
	userID, _ := id.(int64)
	r, _ := role.(models.Role)
	return service.Actor{UserID: userID, Role: r}
}

// ErrorResponse is the failure envelope
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func writeError(c *gin.Context, e *apperror.Error) {
	c.AbortWithStatusJSON(e.Status(), ErrorResponse{Success: false, Message: e.Message, Error: e.Code})
}

// errorMiddleware renders the last error a handler attached with c.Error
func errorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		e := apperror.From(last.Err)
		if e.Kind == apperror.KindInternal || e.Kind == apperror.KindUpstream {
			logger.Error("Request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", e.Code),
				zap.Error(last.Err))
		}
		writeError(c, e)
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	limit       rate.Limit
	burst       int
	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per second with burst.
// A zero limit disables limiting.
func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:       limit,
		burst:       burst,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
	}
}

const visitorIdle = 10 * time.Minute

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > visitorIdle {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(rl.visitors, k)
			}
		}
		rl.lastCleanup = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Limit rejects clients over their rate with 429
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Success: false,
				Message: "too many requests",
				Error:   "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
