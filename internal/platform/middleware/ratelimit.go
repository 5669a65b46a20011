package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	gocache "github.com/patrickmn/go-cache"
)

// RateLimitConfig sizes the per-client token buckets.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL is how long an unused client bucket is kept.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IdleTTL:           10 * time.Minute,
	}
}

// tokenBucket refills continuously at rate tokens per second up to burst.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	rate   float64
	last   time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{tokens: float64(burst), burst: float64(burst), rate: rate, last: time.Now()}
}

// take spends one token. When none is available it reports how long the
// caller should wait before the next token accrues.
func (b *tokenBucket) take(now time.Time) (remaining int, wait time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = math.Min(b.burst, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return int(b.tokens), 0, true
	}
	if b.rate <= 0 {
		return 0, time.Second, false
	}
	return 0, time.Duration((1 - b.tokens) / b.rate * float64(time.Second)), false
}

// retryAfterSeconds rounds wait up to whole seconds, minimum one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// bucketStore keeps one bucket per client. Idle buckets expire out of the
// go-cache instance so the store does not grow without bound.
type bucketStore struct {
	mu      sync.Mutex
	buckets *gocache.Cache
	cfg     RateLimitConfig
}

func newBucketStore(cfg RateLimitConfig) *bucketStore {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultRateLimitConfig().IdleTTL
	}
	cfg.IdleTTL = ttl
	return &bucketStore{
		buckets: gocache.New(ttl, 2*ttl),
		cfg:     cfg,
	}
}

func (s *bucketStore) get(key string) *tokenBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.buckets.Get(key); ok {
		b := v.(*tokenBucket)
		s.buckets.SetDefault(key, b)
		return b
	}
	b := newTokenBucket(s.cfg.RequestsPerSecond, s.cfg.BurstSize)
	s.buckets.SetDefault(key, b)
	return b
}

// RateLimit throttles each client IP with its own token bucket.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newBucketStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			remaining, wait, allowed := store.get(c.RealIP()).take(time.Now())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
