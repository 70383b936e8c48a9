package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/billarchive/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerValidatesInput(t *testing.T) {
	var l *Locker
	_, _, err := l.TryLock(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "k", "token"))
}

func TestTriggerLimiterDisabledAllowsAll(t *testing.T) {
	limiter, err := NewTriggerLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowCaller(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTriggerLimiterRequiresRedis(t *testing.T) {
	_, err := NewTriggerLimiter(config.Config{
		TriggerRateLimit: config.RateLimitConfig{Enabled: true, Rate: 1, Burst: 1},
	}, nil)
	require.Error(t, err)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 8*time.Second, defaultBucketTTL(5, 20))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 1))
	assert.Equal(t, 2.5, castToFloat("2.5"))
}
