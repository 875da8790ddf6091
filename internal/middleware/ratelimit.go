package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdle  = 5 * time.Minute
	sweepEvery   = time.Minute
	limitMessage = "too many requests, please try again later"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client key. Idle buckets are swept on the
// request path, at most once per sweepEvery.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time

	keyFunc func(*gin.Context) string
	reject  func(c *gin.Context, status int, msg string)
}

// NewRateLimiter allows rps sustained requests per client with bursts of
// burst. Clients are keyed by IP and rejected in the moderation API format.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		keyFunc:  func(c *gin.Context) string { return c.ClientIP() },
		reject:   response.AbortAPI,
	}
}

// WithKey identifies clients by fn instead of IP.
func (rl *RateLimiter) WithKey(fn func(*gin.Context) string) *RateLimiter {
	rl.keyFunc = fn
	return rl
}

// ForAdmin answers rejections in the admin envelope.
func (rl *RateLimiter) ForAdmin() *RateLimiter {
	rl.reject = response.Abort
	return rl
}

// reserve takes a token for key. It returns zero when the request may
// proceed, otherwise the wait until the next token.
func (rl *RateLimiter) reserve(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= sweepEvery {
		for k, v := range rl.limiters {
			if now.Sub(v.lastSeen) > limiterIdle {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now

	r := cl.limiter.ReserveN(now, 1)
	if !r.OK() {
		return limiterIdle
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d
	}
	return 0
}

// Middleware enforces the limit, setting Retry-After on rejection.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if wait := rl.reserve(rl.keyFunc(c)); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			rl.reject(c, http.StatusTooManyRequests, limitMessage)
			return
		}
		c.Next()
	}
}
