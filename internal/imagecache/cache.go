// Package imagecache stores fetched image assets on disk, keyed by object
// id. Writes are atomic (temp file + rename) so a crash mid-download never
// leaves a truncated asset that a later run would mistake for a cached copy.
package imagecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Cache is a directory-backed image asset store.
type Cache struct {
	dir        string
	httpClient *http.Client
}

// New creates the cache rooted at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image cache dir: %w", err)
	}
	return &Cache{
		dir:        dir,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Cached returns the local path for an object id if an asset already exists.
// Leftover .tmp files from an interrupted download are not assets.
func (c *Cache) Cached(objectID int) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(c.dir, fmt.Sprintf("%d.*", objectID)))
	if err != nil {
		return "", false
	}
	for _, m := range matches {
		if filepath.Ext(m) != ".tmp" {
			return m, true
		}
	}
	return "", false
}

// FetchOrGetCached returns the local path for the object's image, fetching
// it from url only when no cached copy exists.
func (c *Cache) FetchOrGetCached(ctx context.Context, url string, objectID int) (string, error) {
	if local, ok := c.Cached(objectID); ok {
		return local, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	local := filepath.Join(c.dir, fmt.Sprintf("%d%s", objectID, extFor(url)))
	tmp := local + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create temp asset: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write asset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize asset: %w", err)
	}
	return local, nil
}

func extFor(url string) string {
	ext := path.Ext(path.Base(url))
	if ext == "" || len(ext) > 5 {
		return ".jpg"
	}
	return ext
}
