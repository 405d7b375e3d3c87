package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchOrGetCached(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}

	local, err := c.FetchOrGetCached(context.Background(), srv.URL+"/images/42.jpg", 42)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	data, err := os.ReadFile(local)
	if err != nil || string(data) != "image-bytes" {
		t.Fatalf("cached asset = (%q, %v), want image-bytes", data, err)
	}
	if filepath.Ext(local) != ".jpg" {
		t.Errorf("asset path = %s, want the url's extension kept", local)
	}

	// Second call hits the cache, not the network.
	again, err := c.FetchOrGetCached(context.Background(), srv.URL+"/images/42.jpg", 42)
	if err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}
	if again != local {
		t.Errorf("path changed between calls: %s vs %s", again, local)
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}
}

func TestCached(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}

	if _, ok := c.Cached(7); ok {
		t.Fatal("empty cache reported a hit")
	}

	if err := os.WriteFile(filepath.Join(dir, "7.png"), []byte("x"), 0644); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	local, ok := c.Cached(7)
	if !ok || filepath.Base(local) != "7.png" {
		t.Errorf("Cached(7) = (%s, %v), want the seeded asset", local, ok)
	}

	// A leftover temp file from a crashed download is not a cached asset.
	if err := os.WriteFile(filepath.Join(dir, "9.jpg.tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	if _, ok := c.Cached(9); ok {
		t.Error("a .tmp leftover must not count as cached")
	}
}

func TestFetchFailureLeavesNoAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	if _, err := c.FetchOrGetCached(context.Background(), srv.URL+"/broken.jpg", 13); err == nil {
		t.Fatal("expected an error for a 500")
	}
	if _, ok := c.Cached(13); ok {
		t.Error("failed fetch must not leave a cached asset")
	}
}

func TestExtFor(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://x/images/1.png", ".png"},
		{"https://x/images/1.jpeg", ".jpeg"},
		{"https://x/images/1", ".jpg"},
		{"https://x/images/1.verylongext", ".jpg"},
	}
	for _, tt := range tests {
		if got := extFor(tt.url); got != tt.want {
			t.Errorf("extFor(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
