package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/wisphttp/wisp/pkg/common"
)

// RateLimitConfig defines configuration for rate limiting.
type RateLimitConfig struct {
	// BucketName identifies this rate limit bucket. Routes sharing a bucket
	// name share the same limits.
	BucketName string

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Window is the time window for the limit.
	Window time.Duration

	// Strategy selects how clients are identified: "ip" (default, requires
	// the ClientIP hook) or "custom".
	Strategy string

	// KeyExtractor identifies the client when Strategy is "custom".
	KeyExtractor func(req *common.Request) (string, error)
}

// RateLimiter is the interface for rate limiting algorithms.
type RateLimiter interface {
	// Allow reports whether a request identified by key is allowed, plus the
	// remaining quota and the time until the window resets.
	Allow(key string, limit int, window time.Duration) (bool, int, time.Duration)
}

// UberRateLimiter implements RateLimiter with a per-key leaky bucket from
// Uber's ratelimit library paired with a fixed-window counter, so bursts are
// both smoothed and capped.
type UberRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter     ratelimit.Limiter
	count       int
	windowStart time.Time
}

// NewUberRateLimiter creates a rate limiter backed by Uber's ratelimit library.
func NewUberRateLimiter() *UberRateLimiter {
	return &UberRateLimiter{buckets: make(map[string]*bucket)}
}

// Allow checks whether a request is permitted under the key's bucket.
func (u *UberRateLimiter) Allow(key string, limit int, window time.Duration) (bool, int, time.Duration) {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	rps := int(float64(limit) / window.Seconds())
	if rps < 1 {
		rps = 1
	}

	now := time.Now()

	u.mu.Lock()
	b, ok := u.buckets[key]
	if !ok {
		b = &bucket{limiter: ratelimit.New(rps), windowStart: now}
		u.buckets[key] = b
	}
	if now.Sub(b.windowStart) > window {
		b.count = 0
		b.windowStart = now
	}
	b.count++
	count := b.count
	reset := window - now.Sub(b.windowStart)
	limiter := b.limiter
	u.mu.Unlock()

	if count > limit {
		return false, 0, reset
	}

	// Pace accepted requests through the leaky bucket.
	limiter.Take()
	return true, limit - count, reset
}

// RateLimitHook creates an OnRequest hook that enforces the configured rate
// limit, setting the standard X-RateLimit headers and sending a 429 response
// when the limit is exceeded.
func RateLimitHook(config *RateLimitConfig, limiter RateLimiter, logger *zap.Logger) common.Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(req *common.Request, reply *common.Reply) error {
		if config == nil {
			return nil
		}

		var key string
		switch config.Strategy {
		case "custom":
			if config.KeyExtractor != nil {
				var err error
				key, err = config.KeyExtractor(req)
				if err != nil {
					logger.Error("Failed to extract rate limit key",
						zap.Error(err),
						zap.String("method", req.Method()),
						zap.String("path", req.Path()),
					)
					return common.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
				}
				break
			}
			fallthrough
		default:
			key = ClientIP(req)
			if key == "" {
				key = req.Raw.RemoteAddr
			}
		}

		bucketKey := config.BucketName + ":" + key
		allowed, remaining, reset := limiter.Allow(bucketKey, config.Limit, config.Window)

		reply.Header("X-RateLimit-Limit", strconv.Itoa(config.Limit)).
			Header("X-RateLimit-Remaining", strconv.Itoa(remaining)).
			Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))

		if !allowed {
			logger.Warn("Rate limit exceeded",
				zap.String("method", req.Method()),
				zap.String("path", req.Path()),
				zap.String("key", key),
				zap.Int("limit", config.Limit),
			)
			reply.Header("Retry-After", strconv.FormatInt(int64(reset.Seconds()), 10))
			return reply.Code(http.StatusTooManyRequests).Send(common.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests"))
		}
		return nil
	}
}
