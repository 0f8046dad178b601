package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exam-runner/internal/response"
)

const visitorTTL = 3 * time.Minute

// RateLimiter implements a simple per-IP token bucket rate limiter.
type RateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	rate        int           // Tokens per interval
	interval    time.Duration // Refill interval
	lastCleanup time.Time
	now         func() time.Time
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute).
// Stale visitors are swept on the request path.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors:    make(map[string]*visitor),
		rate:        rate,
		interval:    interval,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > time.Minute {
		rl.cleanup(now)
	}

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[ip] = v
	}

	// Refill tokens based on elapsed time.
	refill := int(now.Sub(v.lastSeen)/rl.interval) * rl.rate
	if refill > 0 {
		v.tokens += refill
		if v.tokens > rl.rate {
			v.tokens = rl.rate
		}
		v.lastSeen = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// caller holds mu
func (rl *RateLimiter) cleanup(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(rl.visitors, ip)
		}
	}
	rl.lastCleanup = now
}
