package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rejection reasons returned by Acquire.
const (
	reasonConcurrent = "too many concurrent requests"
	reasonRate       = "rate limit exceeded"
)

// ClientRateLimiter throttles one WebSocket client. A token bucket refills
// at requestsPerMinute with a burst of the same size, and at most
// maxConcurrent admitted requests may be unreleased at once.
type ClientRateLimiter struct {
	mu          sync.Mutex
	bucket      *rate.Limiter
	maxInFlight int
	inFlight    int
	now         func() time.Time
}

// NewClientRateLimiter allows 60 requests per minute and 10 in flight.
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(60, 10)
}

// NewClientRateLimiterWithLimits builds a limiter. A non-positive
// requestsPerMinute disables the rate check.
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &ClientRateLimiter{
		bucket:      rate.NewLimiter(limit, requestsPerMinute),
		maxInFlight: maxConcurrent,
		now:         time.Now,
	}
}

// Acquire admits a request or returns why it was refused. A refusal for
// concurrency does not spend a token. Every admitted request must be paired
// with Release.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxInFlight {
		return false, reasonConcurrent
	}
	if !r.bucket.AllowN(r.now(), 1) {
		return false, reasonRate
	}
	r.inFlight++
	return true, ""
}

func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}

// InFlight returns the number of admitted, unreleased requests.
func (r *ClientRateLimiter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// Tokens returns how many requests could be admitted right now, ignoring
// the concurrency cap.
func (r *ClientRateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucket.TokensAt(r.now())
}
