package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(3, time.Minute, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}

	ok, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	// Another caller has an independent counter.
	ok, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok)

	// The window expiring resets the counter.
	now = now.Add(61 * time.Second)
	ok, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiterEmptyKey(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute, nil)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiterReset(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute, nil)
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	l.Reset()
	ok, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
