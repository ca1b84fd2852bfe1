// Package storage fetches source images and persists derivatives.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNotFound       = errors.New("object not found")
	ErrUnsupportedURL = errors.New("unsupported source url")
)

// Adapter is the object-store boundary used by the derivative service.
type Adapter interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Stater is implemented by adapters that can tell whether a key was already
// written, possibly by another process.
type Stater interface {
	Stat(ctx context.Context, key string) (url string, ok bool, err error)
}

// ObjectStore serves URLs inside its bucket from minio and delegates any
// other http(s) URL to an HTTPFetcher.
type ObjectStore struct {
	client *Client
	remote *HTTPFetcher
}

func NewObjectStore(client *Client, remote *HTTPFetcher) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return &ObjectStore{client: client, remote: remote}, nil
}

func (s *ObjectStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if key, ok := s.client.KeyForURL(rawURL); ok {
		return s.client.ReadObject(ctx, key)
	}
	if s.remote == nil || !isHTTPURL(rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	return s.remote.Fetch(ctx, rawURL)
}

func (s *ObjectStore) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.client.WriteObject(ctx, key, data, contentType); err != nil {
		return "", err
	}
	return s.client.ObjectURL(key), nil
}

func (s *ObjectStore) Stat(ctx context.Context, key string) (string, bool, error) {
	ok, err := s.client.ObjectExists(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	return s.client.ObjectURL(key), true, nil
}

func isHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
