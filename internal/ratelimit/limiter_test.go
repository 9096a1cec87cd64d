package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/videogen/internal/fabric"
)

func TestLimiter_AllowsUpToMax(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	l := NewLimiter(gw, Config{Window: time.Minute, MaxAdmits: 3, FailPolicy: FailClosed})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		admitted, _, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, admitted)
	}

	admitted, retryAfter, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, admitted)
	assert.Equal(t, 60, retryAfter)
}

func TestLimiter_IndependentPerUser(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	l := NewLimiter(gw, Config{Window: time.Minute, MaxAdmits: 1, FailPolicy: FailClosed})

	ctx := context.Background()
	admitted, _, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, admitted)

	admitted, _, err = l.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestLimiter_WindowExpires(t *testing.T) {
	gw := fabric.NewMemoryGateway()
	l := NewLimiter(gw, Config{Window: 20 * time.Millisecond, MaxAdmits: 1, FailPolicy: FailClosed})

	ctx := context.Background()
	admitted, _, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, admitted)

	time.Sleep(30 * time.Millisecond)

	admitted, _, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, admitted)
}
