package llm

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket throttling requests per minute. Callers reserve a
// token up front and sleep off any debt, so waiting callers are served in
// arrival order. A nil *Limiter never blocks.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewLimiter returns a limiter for requestsPerMinute, or nil when the limit
// is zero or negative.
func NewLimiter(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := float64(requestsPerMinute) / 6 // ten seconds worth
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: float64(requestsPerMinute) / 60,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a request may be sent or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	l.mu.Lock()
	l.refill()
	l.tokens--
	var wait time.Duration
	if l.tokens < 0 {
		wait = time.Duration(-l.tokens / l.refillRate * float64(time.Second))
	}
	l.mu.Unlock()

	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.tokens++
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *Limiter) refill() {
	now := time.Now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}
