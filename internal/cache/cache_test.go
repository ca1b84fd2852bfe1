package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeHitSkipsCompute(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), domain.Derivative{Fingerprint: "fp", StorageURL: "u", Format: "png"}))
	c := New(store, nil, nil)

	d, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) (domain.Derivative, error) {
		t.Fatal("compute must not run on a hit")
		return domain.Derivative{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "u", d.StorageURL)
}

func TestGetOrComputeStoresResult(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, nil, nil)

	var calls atomic.Int32
	compute := func(context.Context) (domain.Derivative, error) {
		calls.Add(1)
		return domain.Derivative{StorageURL: "derivatives/fp.png", Format: "png"}, nil
	}

	first, err := c.GetOrCompute(context.Background(), "fp", compute)
	require.NoError(t, err)
	assert.Equal(t, "fp", first.Fingerprint)

	second, err := c.GetOrCompute(context.Background(), "fp", compute)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, store.Len())
}

func TestGetOrComputeConcurrentCallersShareOneComputation(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore()}
	c := New(store, nil, nil)

	const callers = 32
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (domain.Derivative, error) {
		calls.Add(1)
		<-release
		return domain.Derivative{StorageURL: "s3://bucket/derivatives/fp.jpg", Format: "jpeg"}, nil
	}

	var wg sync.WaitGroup
	results := make([]domain.Derivative, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "fp", compute)
		}(i)
	}

	store.waitForGets(t, callers+1)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestGetOrComputeFollowersReceiveSameFailure(t *testing.T) {
	store := &countingStore{Store: NewMemoryStore()}
	c := New(store, nil, nil)

	const callers = 8
	boom := errors.New("encode failed")
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (domain.Derivative, error) {
		calls.Add(1)
		<-release
		return domain.Derivative{}, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCompute(context.Background(), "fp", compute)
		}(i)
	}

	store.waitForGets(t, callers+1)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}

	_, ok, _ := store.Get(context.Background(), "fp")
	assert.False(t, ok, "failures are not cached")
}

func TestGetOrComputeCancelledCallerDoesNotAbortFlight(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, nil, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var computeCtxErr atomic.Value
	compute := func(ctx context.Context) (domain.Derivative, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			computeCtxErr.Store(err)
		}
		return domain.Derivative{StorageURL: "u", Format: "png"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, "fp", compute)
		done <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	waiter := make(chan domain.Derivative, 1)
	go func() {
		d, err := c.GetOrCompute(context.Background(), "fp", compute)
		assert.NoError(t, err)
		waiter <- d
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)

	d := <-waiter
	assert.Equal(t, "u", d.StorageURL)
	assert.Nil(t, computeCtxErr.Load())
	assert.Equal(t, 1, store.Len())
}

func TestGetOrComputeAdoptsRacingWriter(t *testing.T) {
	winner := domain.Derivative{Fingerprint: "fp", StorageURL: "winner", Format: "png"}
	store := &racingStore{MemoryStore: NewMemoryStore(), winner: winner}
	c := New(store, nil, nil)

	d, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) (domain.Derivative, error) {
		return domain.Derivative{StorageURL: "loser", Format: "png"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "winner", d.StorageURL)
}

func TestGetOrComputeToleratesStoreFailures(t *testing.T) {
	c := New(failingStore{}, nil, nil)

	d, err := c.GetOrCompute(context.Background(), "fp", func(context.Context) (domain.Derivative, error) {
		return domain.Derivative{StorageURL: "u"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "u", d.StorageURL)
}

type countingStore struct {
	Store
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, fp string) (domain.Derivative, bool, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, fp)
}

func (s *countingStore) waitForGets(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.gets.Load() >= int32(n)
	}, 2*time.Second, time.Millisecond)
}

// racingStore simulates another process recording the fingerprint between
// our miss and our write.
type racingStore struct {
	*MemoryStore
	winner domain.Derivative
}

func (s *racingStore) Put(ctx context.Context, _ domain.Derivative) error {
	if err := s.MemoryStore.Put(ctx, s.winner); err != nil {
		return err
	}
	return ErrCacheRace
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (domain.Derivative, bool, error) {
	return domain.Derivative{}, false, errors.New("redis: connection refused")
}

func (failingStore) Put(context.Context, domain.Derivative) error {
	return errors.New("redis: connection refused")
}
