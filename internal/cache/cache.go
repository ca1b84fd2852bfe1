// Package cache maps fingerprints to derivative descriptors and guarantees at
// most one in-flight computation per fingerprint within the process.
package cache

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelforge/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type ComputeFunc func(ctx context.Context) (domain.Derivative, error)

type Cache struct {
	store   Store
	group   singleflight.Group
	logger  *zap.Logger
	metrics *Metrics
}

func New(store Store, logger *zap.Logger, metrics *Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Cache{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// GetOrCompute returns the descriptor recorded for fingerprint, computing it
// on a miss. Concurrent callers for the same fingerprint share one compute
// call and all receive its descriptor or its error. The compute call runs on
// a context that is not cancelled with ctx, so a caller that gives up does
// not abort the work other callers are waiting for.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (domain.Derivative, error) {
	d, ok, err := c.store.Get(ctx, fingerprint)
	switch {
	case err != nil:
		c.logger.Warn("cache lookup failed, treating as miss", zap.String("fingerprint", fingerprint), zap.Error(err))
	case ok:
		c.metrics.hits.Inc()
		return d, nil
	}
	c.metrics.misses.Inc()

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fingerprint, func() (any, error) {
		return c.fill(detached, fingerprint, compute)
	})

	select {
	case <-ctx.Done():
		return domain.Derivative{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.shared.Inc()
		}
		if res.Err != nil {
			return domain.Derivative{}, res.Err
		}
		return res.Val.(domain.Derivative), nil
	}
}

func (c *Cache) fill(ctx context.Context, fingerprint string, compute ComputeFunc) (domain.Derivative, error) {
	// A flight that finished between our lookup and joining the group has
	// already recorded its result.
	if d, ok, err := c.store.Get(ctx, fingerprint); err == nil && ok {
		return d, nil
	}

	c.metrics.computations.Inc()
	d, err := compute(ctx)
	if err != nil {
		c.metrics.failures.Inc()
		return domain.Derivative{}, err
	}
	d.Fingerprint = fingerprint

	err = c.store.Put(ctx, d)
	switch {
	case err == nil:
	case errors.Is(err, ErrCacheRace):
		if stored, ok, getErr := c.store.Get(ctx, fingerprint); getErr == nil && ok {
			c.logger.Debug("adopted concurrently recorded derivative", zap.String("fingerprint", fingerprint))
			return stored, nil
		}
	default:
		c.logger.Warn("cache write failed", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
	return d, nil
}
