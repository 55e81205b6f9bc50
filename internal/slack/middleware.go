package slack

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Admission is the middleware's verdict on one inbound Slack event.
type Admission struct {
	Allowed bool
	// Notify is set on the first rejection of a window, so the user is
	// told to slow down once rather than on every dropped message.
	Notify  bool
	RetryIn time.Duration
}

// Middleware throttles chatty users before their messages reach the agent.
type Middleware struct {
	logger      zerolog.Logger
	rateLimiter *RateLimiter

	mu       sync.Mutex
	notified map[string]time.Time
}

// NewMiddleware allows maxRequests per user within window.
func NewMiddleware(logger zerolog.Logger, maxRequests int, window time.Duration) *Middleware {
	return &Middleware{
		logger:      logger.With().Str("component", "slack.middleware").Logger(),
		rateLimiter: NewRateLimiter(maxRequests, window),
		notified:    make(map[string]time.Time),
	}
}

// Admit decides whether userID's event may be dispatched. A nil Middleware
// admits everything.
func (m *Middleware) Admit(userID string) Admission {
	if m == nil {
		return Admission{Allowed: true}
	}
	ok, wait := m.rateLimiter.Allow(userID)
	if ok {
		return Admission{Allowed: true}
	}

	now := m.rateLimiter.now()
	m.mu.Lock()
	until, warned := m.notified[userID]
	notify := !warned || !now.Before(until)
	if notify {
		m.notified[userID] = now.Add(wait)
	}
	m.mu.Unlock()

	m.logger.Warn().Str("user_id", userID).Dur("retry_in", wait).Msg("rate limited")
	return Admission{Notify: notify, RetryIn: wait}
}

// RateLimiter is a sliding-window limiter keyed by user.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records a request from key when it is within the limit. Otherwise
// it reports how long until the oldest request leaves the window.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	times := r.requests[key]
	valid := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[key] = valid
		return false, valid[0].Add(r.window).Sub(now)
	}
	r.requests[key] = append(valid, now)
	r.prune(cutoff)
	return true, 0
}

// prune drops keys whose every request has left the window. Callers hold mu.
func (r *RateLimiter) prune(cutoff time.Time) {
	for k, times := range r.requests {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(r.requests, k)
		}
	}
}

// Len returns the number of keys being tracked.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
