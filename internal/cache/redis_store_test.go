package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "test:derivative")
	require.NoError(t, err)
	return store, mr
}

func TestRedisStorePutGet(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok)

	want := domain.Derivative{Fingerprint: "fp", StorageURL: "http://minio/pixelforge/derivatives/fp.png", Format: "png", Width: 10, Height: 20}
	require.NoError(t, store.Put(ctx, want))

	got, ok, err := store.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.StorageURL, got.StorageURL)
	assert.Equal(t, want.Width, got.Width)

	assert.True(t, mr.Exists("test:derivative:fp"))
	assert.Zero(t, mr.TTL("test:derivative:fp"))
}

func TestRedisStoreSecondPutLosesRace(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, domain.Derivative{Fingerprint: "fp", StorageURL: "first"}))
	assert.ErrorIs(t, store.Put(ctx, domain.Derivative{Fingerprint: "fp", StorageURL: "second"}), ErrCacheRace)

	got, _, err := store.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, "first", got.StorageURL)
}

func TestRedisStoreCorruptEntry(t *testing.T) {
	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("test:derivative:bad", "{not json"))

	_, _, err := store.Get(context.Background(), "bad")
	assert.Error(t, err)
}
