package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dunamismax/pixelforge/internal/domain"
)

type MemoryCatalog struct {
	mu          sync.RWMutex
	images      map[string]domain.Image
	derivatives map[string]map[string]domain.Derivative
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		images:      make(map[string]domain.Image),
		derivatives: make(map[string]map[string]domain.Derivative),
	}
}

func (s *MemoryCatalog) CreateImage(_ context.Context, img domain.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.images[img.ID]; exists {
		return fmt.Errorf("image %s already exists", img.ID)
	}
	s.images[img.ID] = img
	return nil
}

func (s *MemoryCatalog) GetImage(_ context.Context, id string) (domain.Image, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	return img, ok, nil
}

func (s *MemoryCatalog) RecordDerivative(_ context.Context, imageID string, d domain.Derivative) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[imageID]; !ok {
		return ErrImageNotFound
	}
	byFingerprint, ok := s.derivatives[imageID]
	if !ok {
		byFingerprint = make(map[string]domain.Derivative)
		s.derivatives[imageID] = byFingerprint
	}
	if _, exists := byFingerprint[d.Fingerprint]; !exists {
		byFingerprint[d.Fingerprint] = d
	}
	return nil
}

func (s *MemoryCatalog) ListDerivatives(_ context.Context, imageID string) ([]domain.Derivative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Derivative, 0, len(s.derivatives[imageID]))
	for _, d := range s.derivatives[imageID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Fingerprint < out[j].Fingerprint
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
