package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects under a directory and addresses them with file://
// URLs. Non-file URLs are delegated to remote when it is set.
type LocalStore struct {
	root   string
	remote *HTTPFetcher
}

func NewLocalStore(root string, remote *HTTPFetcher) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("output directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &LocalStore{root: abs, remote: remote}, nil
}

func (s *LocalStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	if u.Scheme != "file" {
		if s.remote == nil || !isHTTPURL(rawURL) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
		}
		return s.remote.Fetch(ctx, rawURL)
	}

	path, err := s.localPath(u)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", path, err)
	}
	return data, nil
}

func (s *LocalStore) Store(_ context.Context, key string, data []byte, _ string) (string, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fileURL(path), nil
}

// Stat reports the URL of key when it has already been written.
func (s *LocalStore) Stat(_ context.Context, key string) (string, bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", false, nil
	}
	return fileURL(path), true, nil
}

// localPath maps a file:// URL to a path below root. URLs naming files
// outside root are refused rather than re-rooted.
func (s *LocalStore) localPath(u *url.URL) (string, error) {
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("%w: file url with host %q", ErrUnsupportedURL, u.Host)
	}
	path := filepath.Clean(filepath.FromSlash(u.Path))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || !filepath.IsAbs(path) || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the storage root", ErrUnsupportedURL, u.Path)
	}
	return path, nil
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// pathFor resolves key below root and refuses keys that escape it.
func (s *LocalStore) pathFor(key string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(strings.TrimLeft(key, "/\\")))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: key %q escapes storage root", ErrUnsupportedURL, key)
	}
	return path, nil
}
