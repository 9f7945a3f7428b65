package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"formhook/internal/pkg/errors"
	"formhook/internal/pkg/parser"
)

type RateLimiter struct {
	store *sync.Map // map[string]*Bucket
	now   func() time.Time
}

type Bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
	// We need to know when it was last accessed to clean it up
	lastAccess time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		store: &sync.Map{},
		now:   time.Now,
	}
}

// Run evicts idle buckets until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle(10 * time.Minute)
		}
	}
}

func (rl *RateLimiter) evictIdle(idle time.Duration) {
	now := rl.now()
	rl.store.Range(func(key, value interface{}) bool {
		bucket := value.(*Bucket)
		bucket.mu.Lock()
		if now.Sub(bucket.lastAccess) > idle {
			rl.store.Delete(key)
		}
		bucket.mu.Unlock()
		return true
	})
}

// Allow takes one token from key's bucket; limit is per minute.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	now := rl.now()

	val, _ := rl.store.LoadOrStore(key, &Bucket{
		tokens:     limit,
		lastRefill: now,
		lastAccess: now,
	})

	bucket := val.(*Bucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now

	// Rate is limit / 60 seconds
	elapsed := now.Sub(bucket.lastRefill)
	refillTokens := int(elapsed.Seconds() * float64(limit) / 60.0)

	if refillTokens > 0 {
		bucket.tokens += refillTokens
		if bucket.tokens > limit {
			bucket.tokens = limit
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}

	return false
}

// Limit throttles by client IP. A non-positive limit disables it.
func (rl *RateLimiter) Limit(scope string, limit int) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if limit <= 0 {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + parser.ClientIP(r)

			if !rl.Allow(key, limit) {
				w.Header().Set("Retry-After", "60")
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
				return
			}

			next(w, r)
		}
	}
}
