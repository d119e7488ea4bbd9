package extraction

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter keeps one token bucket per user. Buckets are dropped wholesale every hour so
// the map cannot grow without bound.
type userLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[int64]*rate.Limiter
	lastCleanup time.Time
}

// newUserLimiter returns nil when perMinute <= 0, which disables limiting.
func newUserLimiter(perMinute, burst int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:       rate.Every(time.Minute / time.Duration(perMinute)),
		burst:       burst,
		limiters:    make(map[int64]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (l *userLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	if time.Since(l.lastCleanup) > time.Hour {
		l.limiters = make(map[int64]*rate.Limiter)
		l.lastCleanup = time.Now()
	}
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
