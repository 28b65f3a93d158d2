package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kspro0090/baradar/internal/auth"
	"github.com/kspro0090/baradar/internal/services"
)

const subjectContextKey = "subject"

func roleOf(c *gin.Context) auth.Role {
	if v, ok := c.Get(services.RoleContextKey); ok {
		if r, ok := v.(auth.Role); ok {
			return r
		}
	}
	return auth.RolePublic
}

func subjectOf(c *gin.Context) string {
	return c.GetString(subjectContextKey)
}

// Authenticate reads an optional bearer token. Requests without one are
// public; a token that does not verify is refused.
func Authenticate(signer *auth.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			respondError(c, auth.ErrInvalidToken)
			return
		}
		claims, err := signer.ParseRole(strings.TrimSpace(token))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Set(services.RoleContextKey, claims.Role)
		c.Set(subjectContextKey, claims.Subject)
		c.Next()
	}
}

func RequireRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		have := roleOf(c)
		if have == auth.RolePublic {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "ابتدا وارد سامانه شوید"})
			return
		}
		if !have.Allows(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "دسترسی مجاز نیست"})
			return
		}
		c.Next()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	idle   time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		logger:   logger,
		visitors: make(map[string]*visitor),
	}
}

func (rl *RateLimiter) limiter(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		if len(rl.visitors) > 10000 {
			for k, old := range rl.visitors {
				if now.Sub(old.lastSeen) > rl.idle {
					delete(rl.visitors, k)
				}
			}
		}
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(c.ClientIP(), time.Now()).Allow() {
			rl.logger.Warn("rate limit exceeded", zap.String("ip", c.ClientIP()), zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "تعداد درخواست‌ها بیش از حد مجاز است. لطفاً کمی بعد تلاش کنید"})
			return
		}
		c.Next()
	}
}
