package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps descriptors as JSON strings without expiry. Writes use
// SETNX so the first descriptor recorded for a fingerprint wins.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelforge:derivative"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisStore) key(fingerprint string) string {
	return s.keyPrefix + ":" + fingerprint
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (domain.Derivative, bool, error) {
	raw, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Derivative{}, false, nil
	}
	if err != nil {
		return domain.Derivative{}, false, fmt.Errorf("redis get %s: %w", fingerprint, err)
	}

	var d domain.Derivative
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.Derivative{}, false, fmt.Errorf("decode cached derivative %s: %w", fingerprint, err)
	}
	return d, true, nil
}

func (s *RedisStore) Put(ctx context.Context, d domain.Derivative) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode derivative %s: %w", d.Fingerprint, err)
	}

	ok, err := s.client.SetNX(ctx, s.key(d.Fingerprint), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", d.Fingerprint, err)
	}
	if !ok {
		return ErrCacheRace
	}
	return nil
}
