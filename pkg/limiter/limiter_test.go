package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(tpm int) (*Limiter, *time.Time) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(tpm)
	l.now = func() time.Time { return clock }
	l.lastRefill = clock
	return l, &clock
}

func TestNilLimiterNeverLimits(t *testing.T) {
	var l *Limiter
	assert.Nil(t, New(0))
	assert.NoError(t, l.Reserve(1_000_000))
	assert.NoError(t, l.Wait(context.Background(), 1_000_000))
}

func TestReserveDrainsBucket(t *testing.T) {
	l, _ := newTestLimiter(1000)

	require.NoError(t, l.Reserve(600))
	assert.Equal(t, 400, l.Available())
	assert.ErrorIs(t, l.Reserve(500), ErrRateLimit)
	assert.Equal(t, 400, l.Available(), "a refused reservation takes nothing")
}

func TestRefillAfterFullMinute(t *testing.T) {
	l, clock := newTestLimiter(1000)
	require.NoError(t, l.Reserve(1000))

	*clock = clock.Add(59 * time.Second)
	assert.Equal(t, 0, l.Available())

	*clock = clock.Add(2 * time.Second)
	assert.Equal(t, 1000, l.Available(), "refill is capped at the allowance")
}

func TestOversizedRequestIsCapped(t *testing.T) {
	l, _ := newTestLimiter(100)
	require.NoError(t, l.Reserve(5000))
	assert.Equal(t, 0, l.Available())
}

func TestWaitHonoursContext(t *testing.T) {
	l, _ := newTestLimiter(10)
	require.NoError(t, l.Reserve(10))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, 5), context.DeadlineExceeded)
}
