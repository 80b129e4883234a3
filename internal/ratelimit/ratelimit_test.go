package ratelimit

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldclock/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestUnconfiguredLimiterAdmits(t *testing.T) {
	limiter := NewClockEventLimiter(nil, config.NewStaticPolicyHolder(config.DefaultAttendancePolicy()))
	assert.Nil(t, limiter)

	allowed, err := limiter.Allow(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestUnconfiguredLocker(t *testing.T) {
	locker := NewLocker(nil)
	assert.Nil(t, locker)

	ran, err := locker.Do(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.False(t, ran)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 40*time.Second, bucketTTL(0.5, 10))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var unset *TokenBucket
	_, err := unset.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrBucketNotConfigured)

	bucket := &TokenBucket{client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})}
	t.Cleanup(func() { _ = bucket.client.Close() })
	for _, tc := range []struct {
		key   string
		rate  float64
		burst int
	}{
		{"", 1, 1},
		{"k", 0, 1},
		{"k", 1, 0},
	} {
		_, err := bucket.Allow(context.Background(), tc.key, tc.rate, tc.burst)
		assert.ErrorIs(t, err, ErrInvalidBucket)
	}
}

func TestTokenBucketReportsRetryAfter(t *testing.T) {
	client := redisClient(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()
	key := "test-bucket-" + uuid.NewString()

	res, err := bucket.Allow(ctx, key, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = bucket.Allow(ctx, key, 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Second)
}

func TestClockEventLimiterBurst(t *testing.T) {
	client := redisClient(t)
	policy := config.DefaultAttendancePolicy()
	policy.ClockEventRate = 0.01
	policy.ClockEventBurst = 2
	limiter := NewClockEventLimiter(client, config.NewStaticPolicyHolder(policy))

	ctx := context.Background()
	user := snowflake.ID(time.Now().UnixNano())
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, 1, user)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, 1, user)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	client := redisClient(t)
	locker := NewLocker(client)
	ctx := context.Background()
	key := "test-lock-" + uuid.NewString()

	ran, err := locker.Do(ctx, key, 5*time.Second, func(ctx context.Context) error {
		inner, err := locker.Do(ctx, key, 5*time.Second, func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.False(t, inner)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	token, ok, err := locker.TryLock(ctx, key, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, locker.Release(ctx, key, token))
}
