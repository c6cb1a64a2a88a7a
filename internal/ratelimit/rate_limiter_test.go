package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenBlocks(t *testing.T) {
	l := NewRateLimiter(2, time.Hour)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx))
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow())
	assert.NoError(t, l.Wait(context.Background()))
}

func TestZeroIntervalIsUnlimited(t *testing.T) {
	l := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow())
	}
}
