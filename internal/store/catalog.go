package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelforge/internal/domain"
)

var ErrImageNotFound = errors.New("image not found")

// Catalog persists source images and the derivatives produced from them.
type Catalog interface {
	CreateImage(ctx context.Context, img domain.Image) error
	GetImage(ctx context.Context, id string) (domain.Image, bool, error)
	// RecordDerivative is idempotent per (imageID, fingerprint).
	RecordDerivative(ctx context.Context, imageID string, d domain.Derivative) error
	ListDerivatives(ctx context.Context, imageID string) ([]domain.Derivative, error)
}
