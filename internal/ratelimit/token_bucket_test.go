package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := NewRedisTokenBucket(client, Config{Capacity: capacity, Window: window})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

func TestAllowConsumesUntilEmpty(t *testing.T) {
	bucket, _ := newTestBucket(t, 3, time.Minute)
	ctx := context.Background()

	for i := 2; i >= 0; i-- {
		d, err := bucket.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(i), d.Remaining)
	}

	d, err := bucket.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, 20*time.Second, d.RetryAfter, float64(time.Millisecond))

	other, err := bucket.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestAllowRefillsOverTime(t *testing.T) {
	bucket, now := newTestBucket(t, 2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := bucket.Allow(ctx, "client")
		require.NoError(t, err)
	}
	d, err := bucket.Allow(ctx, "client")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	*now = now.Add(600 * time.Millisecond)
	d, err = bucket.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAllowNClampsCostToCapacity(t *testing.T) {
	bucket, _ := newTestBucket(t, 4, time.Minute)
	ctx := context.Background()

	d, err := bucket.AllowN(ctx, "uploader", 100)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)

	d, err = bucket.AllowN(ctx, "uploader", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestNewRedisTokenBucketValidatesConfig(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, Config{Capacity: 1, Window: time.Second})
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, Config{Capacity: 0, Window: time.Second})
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, Config{Capacity: 1})
	assert.Error(t, err)
}
