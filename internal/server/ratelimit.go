package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter tracks per-client request rates and daily upload quotas.
// OCR runs are expensive, so the limits are coarse: requests per minute
// and bytes uploaded per day.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	maxDataPerDay     int64

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	minuteStart    time.Time
	requestsMinute int

	dayStart time.Time
	dataDay  int64
}

// NewRateLimiter creates a limiter; a zero limit disables that check.
func NewRateLimiter(requestsPerMinute int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*clientUsage),
		now:               time.Now,
	}
}

// Allow records a request of dataSize bytes from the client and returns a
// *LimitError when a limit is exceeded. The counters only advance for
// allowed requests, so rejected uploads do not consume quota.
func (rl *RateLimiter) Allow(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage, ok := rl.clients[clientID]
	if !ok {
		usage = &clientUsage{minuteStart: now, dayStart: now}
		rl.clients[clientID] = usage
	}

	if now.Sub(usage.minuteStart) >= time.Minute {
		usage.minuteStart = now
		usage.requestsMinute = 0
	}
	if now.Sub(usage.dayStart) >= 24*time.Hour {
		usage.dayStart = now
		usage.dataDay = 0
	}

	if rl.requestsPerMinute > 0 && usage.requestsMinute >= rl.requestsPerMinute {
		return &LimitError{
			Type:       "minute",
			Limit:      int64(rl.requestsPerMinute),
			Used:       int64(usage.requestsMinute),
			RetryAfter: time.Minute - now.Sub(usage.minuteStart),
		}
	}
	if rl.maxDataPerDay > 0 && usage.dataDay+dataSize > rl.maxDataPerDay {
		return &LimitError{
			Type:       "data",
			Limit:      rl.maxDataPerDay,
			Used:       usage.dataDay,
			RetryAfter: 24*time.Hour - now.Sub(usage.dayStart),
		}
	}

	usage.requestsMinute++
	usage.dataDay += dataSize
	return nil
}

// LimitError reports a rate or quota violation.
type LimitError struct {
	Type       string // "minute" or "data"
	Limit      int64
	Used       int64
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit exceeded for %s (used: %d, limit: %d, retry after: %v)",
		e.Type, e.Used, e.Limit, e.RetryAfter)
}
