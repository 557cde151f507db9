// Package limiter paces model calls against a tokens-per-minute allowance.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimit is returned by Reserve when the bucket cannot cover a call.
var ErrRateLimit = errors.New("rate limit exceeded")

// Limiter is a token bucket refilled once per elapsed minute. A nil *Limiter
// never limits.
type Limiter struct {
	lastRefill         time.Time
	now                func() time.Time
	mu                 sync.Mutex
	maxTokensPerMinute int
	currentTokens      int
}

// New returns a limiter allowing maxTokensPerMinute, or nil when the value is
// not positive.
func New(maxTokensPerMinute int) *Limiter {
	if maxTokensPerMinute <= 0 {
		return nil
	}
	l := &Limiter{
		maxTokensPerMinute: maxTokensPerMinute,
		currentTokens:      maxTokensPerMinute, // start with a full bucket
		now:                time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// Reserve takes tokens from the bucket without blocking. Requests larger than
// the whole allowance are capped to it so they can still run alone.
func (l *Limiter) Reserve(tokens int) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillTokens()
	tokens = l.clamp(tokens)
	if l.currentTokens < tokens {
		return ErrRateLimit
	}
	l.currentTokens -= tokens
	return nil
}

// Wait blocks until tokens can be reserved or ctx is done.
func (l *Limiter) Wait(ctx context.Context, tokens int) error {
	if l == nil {
		return nil
	}
	for {
		if err := l.Reserve(tokens); !errors.Is(err, ErrRateLimit) {
			return err
		}
		timer := time.NewTimer(l.untilRefill())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available reports the tokens left in the current minute.
func (l *Limiter) Available() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillTokens()
	return l.currentTokens
}

func (l *Limiter) clamp(tokens int) int {
	if tokens < 0 {
		return 0
	}
	if tokens > l.maxTokensPerMinute {
		return l.maxTokensPerMinute
	}
	return tokens
}

func (l *Limiter) untilRefill() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := l.lastRefill.Add(time.Minute).Sub(l.now())
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

func (l *Limiter) refillTokens() {
	elapsed := l.now().Sub(l.lastRefill)
	if elapsed < time.Minute {
		return
	}
	minutes := int(elapsed / time.Minute)
	l.currentTokens += minutes * l.maxTokensPerMinute
	if l.currentTokens > l.maxTokensPerMinute {
		l.currentTokens = l.maxTokensPerMinute
	}
	// Advance to the last complete minute so partial minutes carry over.
	l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
}
