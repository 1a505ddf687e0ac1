package signal

import (
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
)

// RateLimiter is a sliding window limiter keyed by client.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[core.SessionID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[core.SessionID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// NewCandidateLimiter builds the per-client candidate limiter shared by the
// transports. It returns nil, meaning unlimited, when rate is not positive.
func NewCandidateLimiter(rate int, window time.Duration) *RateLimiter {
	if rate <= 0 {
		return nil
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return NewRateLimiter(rate, window)
}

func (rl *RateLimiter) Allow(sid core.SessionID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[sid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[sid] = fresh
		return false
	}
	rl.history[sid] = append(fresh, now)
	return true
}
