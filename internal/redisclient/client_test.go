package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := "test-" + uuid.NewString()
	defer c.Reset(ctx, key)

	for i := 0; i < 3; i++ {
		allowed, _, err := c.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := c.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)

	require.NoError(t, c.Reset(ctx, key))
	allowed, _, err = c.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
