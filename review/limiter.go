package review

import (
	"sync"
	"time"
)

type bucketKey struct {
	scope      string
	reviewerID int64
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a token bucket per (scope, reviewer). Buckets refill
// continuously and idle buckets expire after one window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	rate    float64
	window  time.Duration
	now     func() time.Time
}

// NewLimiter allows rate actions per window for each key.
func NewLimiter(rate int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[bucketKey]*bucket),
		rate:    float64(rate),
		window:  window,
		now:     time.Now,
	}
}

// Allow takes one token and reports whether the action may proceed.
func (l *Limiter) Allow(scope string, reviewerID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey{scope, reviewerID}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.rate, last: now}
		l.buckets[key] = b
	} else {
		refill := now.Sub(b.last).Seconds() / l.window.Seconds() * l.rate
		b.tokens += refill
		if b.tokens > l.rate {
			b.tokens = l.rate
		}
		b.last = now
	}
	l.expire(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// expire drops buckets that regained all tokens; they behave like
// fresh ones anyway. Called with the lock held.
func (l *Limiter) expire(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.last) > l.window {
			delete(l.buckets, key)
		}
	}
}
