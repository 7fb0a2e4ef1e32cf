package ratelimit

import (
	"context"
	"sync"
	"time"

	"mdgw/internal/domain"
)

// TokenBucket is a mutex-guarded token bucket. Tokens accrue at a fixed
// per-second rate up to the burst capacity, and each admitted call costs
// one token.
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time

	nowFn func() time.Time
}

// NewTokenBucket builds a bucket that starts full so the first burst of
// calls is admitted immediately.
func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = domain.DefaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = 1
	}
	tb := &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		tokens:   float64(burst),
		nowFn:    time.Now,
	}
	tb.last = tb.nowFn()
	return tb
}

// Wait blocks until one token is available or the context is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.TryAcquire() {
			return nil
		}

		tb.mu.Lock()
		deficit := 1 - tb.tokens
		tb.mu.Unlock()

		waitDur := time.Duration(deficit / tb.rate * float64(time.Second))
		if waitDur <= 0 {
			waitDur = time.Millisecond
		}
		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes one token without blocking and reports whether it
// succeeded.
func (tb *TokenBucket) TryAcquire() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.nowFn()
	if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Limiter holds one token bucket per provider. Providers without a
// configured limit share the default rate.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

func NewLimiter(providers []domain.ProviderSpec) *Limiter {
	l := &Limiter{buckets: make(map[string]*TokenBucket, len(providers))}
	for _, p := range providers {
		rps := domain.DefaultRequestsPerSecond
		burst := domain.DefaultBurstSize
		if p.RateLimit != nil {
			rps = p.RateLimit.RequestsPerSecond
			burst = p.RateLimit.BurstSize
		}
		l.buckets[p.Name] = NewTokenBucket(rps, burst)
	}
	return l
}

// Wait gates one call to the named provider. Unknown providers are
// admitted without limiting.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	l.mu.Lock()
	tb := l.buckets[provider]
	l.mu.Unlock()
	if tb == nil {
		return nil
	}
	return tb.Wait(ctx)
}
