// Package storefront publishes enriched artworks as storefront products.
//
// The product SKU is derived deterministically from the object id and the
// upstream endpoint upserts by SKU, so a re-publish after a crash overwrites
// the earlier listing instead of duplicating it.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/artisedge/importer/internal/ratelimit"
)

const defaultRetryAfter = 30 * time.Second

// Product is one listing to publish.
type Product struct {
	SKU         string   `json:"sku"`
	Title       string   `json:"title"`
	Body        string   `json:"body_html"`
	ImageRef    string   `json:"image_ref,omitempty"`
	Collections []string `json:"collections,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Price       float64  `json:"price"`
}

// SKUFor derives the deterministic upsert key for an object id.
func SKUFor(objectID int) string {
	return fmt.Sprintf("ART-%d", objectID)
}

// Client talks to the storefront admin API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewClient creates a storefront client.
func NewClient(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type publishResponse struct {
	ProductRef string `json:"product_ref"`
}

// Publish upserts the product and returns the storefront's product
// reference. A 429 becomes a *ratelimit.ThrottledError.
func (c *Client) Publish(ctx context.Context, p Product) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/products", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Token", c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storefront request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var out publishResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("storefront response decode failed: %w", err)
		}
		return out.ProductRef, nil
	case http.StatusTooManyRequests:
		return "", ratelimit.ThrottledFromHeader(
			ratelimit.ServiceStorefront, resp.Header.Get("Retry-After"), defaultRetryAfter)
	default:
		return "", fmt.Errorf("storefront returned status %d", resp.StatusCode)
	}
}
