package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCatalogImageLifecycle(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog()

	img := domain.Image{ID: "img-1", Filename: "cat.png", URL: "http://cdn/sources/img-1.png", Format: "png", Width: 10, Height: 20}
	require.NoError(t, catalog.CreateImage(ctx, img))
	require.Error(t, catalog.CreateImage(ctx, img))

	got, ok, err := catalog.GetImage(ctx, "img-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, img, got)

	_, ok, err = catalog.GetImage(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCatalogRecordDerivativeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemoryCatalog()
	require.NoError(t, catalog.CreateImage(ctx, domain.Image{ID: "img-1"}))

	first := domain.Derivative{Fingerprint: "fp-a", StorageURL: "http://cdn/a.png", Format: "png", CreatedAt: time.Unix(100, 0)}
	require.NoError(t, catalog.RecordDerivative(ctx, "img-1", first))

	duplicate := first
	duplicate.StorageURL = "http://cdn/other.png"
	require.NoError(t, catalog.RecordDerivative(ctx, "img-1", duplicate))

	second := domain.Derivative{Fingerprint: "fp-b", StorageURL: "http://cdn/b.jpg", Format: "jpeg", CreatedAt: time.Unix(200, 0)}
	require.NoError(t, catalog.RecordDerivative(ctx, "img-1", second))

	list, err := catalog.ListDerivatives(ctx, "img-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0])
	assert.Equal(t, second, list[1])
}

func TestMemoryCatalogRecordDerivativeRequiresImage(t *testing.T) {
	catalog := NewMemoryCatalog()
	err := catalog.RecordDerivative(context.Background(), "ghost", domain.Derivative{Fingerprint: "fp"})
	assert.ErrorIs(t, err, ErrImageNotFound)
}
