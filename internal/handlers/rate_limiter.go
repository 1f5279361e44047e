package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kartline/api/internal/platform/auth"
	"github.com/kartline/api/internal/platform/httpx"
)

// callerBuckets keeps one token bucket per caller. A bucket holds limit tokens and refills one
// token every window/limit, so a caller may burst to limit and then averages limit per window.
type callerBuckets struct {
	limit  int
	every  rate.Limit
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	buckets   map[string]*callerBucket
	lastSweep time.Time
}

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerBuckets(limit int, window time.Duration, clock func() time.Time) *callerBuckets {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &callerBuckets{
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		window:  window,
		clock:   clock,
		buckets: make(map[string]*callerBucket),
	}
}

// take spends one token for key. When the bucket is empty it returns the wait until the next token.
func (b *callerBuckets) take(key string) (bool, time.Duration) {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[key]
	if !ok {
		b.sweepLocked(now)
		bucket = &callerBucket{limiter: rate.NewLimiter(b.every, b.limit)}
		b.buckets[key] = bucket
	}
	bucket.lastSeen = now

	reservation := bucket.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweepLocked drops buckets idle for a full window; they would be full again anyway.
func (b *callerBuckets) sweepLocked(now time.Time) {
	if now.Sub(b.lastSweep) < b.window {
		return
	}
	b.lastSweep = now
	for key, bucket := range b.buckets {
		if now.Sub(bucket.lastSeen) >= b.window {
			delete(b.buckets, key)
		}
	}
}

// RateLimit allows each caller a burst of limit requests that refills over window. Signed-in
// callers are keyed by uid, everyone else by client IP. A non-positive limit disables it.
func RateLimit(limit int, window time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	buckets := newCallerBuckets(limit, window, clock)
	return func(next http.Handler) http.Handler {
		if buckets == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, wait := buckets.take(callerKey(r)); !ok {
				seconds := int(math.Ceil(wait.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, retry later", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return "uid:" + identity.UID
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}
