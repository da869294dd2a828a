package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig configures per-client rate limits and daily quotas. Zero
// limits are disabled.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// RateLimiter manages request rate limiting and quotas per client.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64

	clients map[string]*ClientUsage
	now     func() time.Time
}

// ClientUsage tracks usage for one client key (IP address or user id).
// Windows are fixed: each counter resets when its window has elapsed.
type ClientUsage struct {
	RequestsThisMinute int
	RequestsThisHour   int
	RequestsToday      int
	DataToday          int64

	minuteStart time.Time
	hourStart   time.Time
	day         time.Time
	LastSeen    time.Time
}

// NewRateLimiter creates a new rate limiter with the given limits.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*ClientUsage),
		now:               time.Now,
	}
}

// NewRateLimiterFromConfig returns nil when rate limiting is disabled.
func NewRateLimiterFromConfig(cfg RateLimitConfig) *RateLimiter {
	if !cfg.Enabled {
		return nil
	}
	return NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestsPerHour, cfg.MaxRequestsPerDay, cfg.MaxDataPerDay)
}

// CheckRateLimit records a request of dataSize bytes from client, or returns
// a *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) CheckRateLimit(client string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage := rl.usageFor(client, now)
	usage.roll(now)

	if err := rl.checkRateLimits(usage, now); err != nil {
		return err
	}
	if err := rl.checkDailyQuotas(usage, dataSize, now); err != nil {
		return err
	}

	usage.RequestsThisMinute++
	usage.RequestsThisHour++
	usage.RequestsToday++
	usage.DataToday += dataSize
	usage.LastSeen = now
	return nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// roll resets counters whose window has elapsed.
func (u *ClientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.RequestsThisMinute = 0
		u.minuteStart = now
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.RequestsThisHour = 0
		u.hourStart = now
	}
	if today := startOfDay(now); !today.Equal(u.day) {
		u.RequestsToday = 0
		u.DataToday = 0
		u.day = today
	}
}

func (rl *RateLimiter) checkRateLimits(usage *ClientUsage, now time.Time) error {
	if rl.requestsPerMinute > 0 && usage.RequestsThisMinute >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: usage.minuteStart.Add(time.Minute).Sub(now),
		}
	}
	if rl.requestsPerHour > 0 && usage.RequestsThisHour >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: usage.hourStart.Add(time.Hour).Sub(now),
		}
	}
	return nil
}

func (rl *RateLimiter) checkDailyQuotas(usage *ClientUsage, dataSize int64, now time.Time) error {
	resets := startOfDay(now).AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && usage.RequestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(usage.RequestsToday),
			Resets: resets,
		}
	}
	if rl.maxDataPerDay > 0 && usage.DataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.DataToday,
			Resets: resets,
		}
	}
	return nil
}

func (rl *RateLimiter) usageFor(client string, now time.Time) *ClientUsage {
	usage, ok := rl.clients[client]
	if !ok {
		usage = &ClientUsage{minuteStart: now, hourStart: now, day: startOfDay(now), LastSeen: now}
		rl.clients[client] = usage
	}
	return usage
}

// GetUsage returns a copy of the client's current usage.
func (rl *RateLimiter) GetUsage(client string) ClientUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if usage, ok := rl.clients[client]; ok {
		return *usage
	}
	return ClientUsage{}
}

// Prune forgets clients not seen for longer than idle and returns how many
// were removed.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for k, u := range rl.clients {
		if u.LastSeen.Before(cutoff) {
			delete(rl.clients, k)
			removed++
		}
	}
	return removed
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}

// RunJanitor prunes idle clients every interval until ctx is done.
func (rl *RateLimiter) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(idle)
		}
	}
}
