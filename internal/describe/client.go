// Package describe generates descriptive text variants for an artwork via an
// external generation service, with a deterministic local fallback so a
// generator outage never aborts an item.
package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/artisedge/importer/internal/catalog"
	"github.com/artisedge/importer/internal/ratelimit"
)

const defaultRetryAfter = 30 * time.Second

// Description holds the generated text variants for one artwork.
type Description struct {
	Raw      string `json:"raw"`
	Short    string `json:"short"`
	Expanded string `json:"expanded"`
}

// Client calls the generation service.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a describe client. The API key comes from the
// environment; see internal/cli.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Model          string `json:"model"`
	Title          string `json:"title"`
	Artist         string `json:"artist,omitempty"`
	Medium         string `json:"medium,omitempty"`
	Date           string `json:"date,omitempty"`
	Classification string `json:"classification,omitempty"`
}

type generateResponse struct {
	Raw        string `json:"raw"`
	Short      string `json:"short"`
	Expanded   string `json:"expanded"`
	TokensUsed int    `json:"tokens_used"`
}

// Generate produces the description variants for a record and reports the
// tokens the service consumed. Missing input fields never fail the call; the
// service degrades on its side, and any hard error is recovered by the
// caller via Synthesize.
func (c *Client) Generate(ctx context.Context, obj *catalog.Object) (Description, int, error) {
	body, err := json.Marshal(generateRequest{
		Model:          c.model,
		Title:          obj.Title,
		Artist:         obj.ArtistName,
		Medium:         obj.Medium,
		Date:           obj.ObjectDate,
		Classification: obj.Classification,
	})
	if err != nil {
		return Description{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/describe", bytes.NewReader(body))
	if err != nil {
		return Description{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Description{}, 0, fmt.Errorf("describe request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Description{}, 0, fmt.Errorf("describe response decode failed: %w", err)
		}
		return Description{Raw: out.Raw, Short: out.Short, Expanded: out.Expanded}, out.TokensUsed, nil
	case http.StatusTooManyRequests:
		return Description{}, 0, ratelimit.ThrottledFromHeader(
			ratelimit.ServiceDescribe, resp.Header.Get("Retry-After"), defaultRetryAfter)
	default:
		return Description{}, 0, fmt.Errorf("describe returned status %d", resp.StatusCode)
	}
}

// Synthesize builds a deterministic description from the record's own fields.
// Used as the fallback when the generation service fails.
func Synthesize(obj *catalog.Object) Description {
	title := obj.Title
	if title == "" {
		title = "Untitled work"
	}

	var parts []string
	parts = append(parts, title)
	if obj.ArtistName != "" {
		parts = append(parts, "by "+obj.ArtistName)
	}
	if obj.ObjectDate != "" {
		parts = append(parts, "("+obj.ObjectDate+")")
	}
	short := strings.Join(parts, " ")

	var b strings.Builder
	b.WriteString(short + ".")
	if obj.Medium != "" {
		b.WriteString(" " + obj.Medium + ".")
	}
	if obj.Classification != "" {
		b.WriteString(" " + obj.Classification + ".")
	}
	if obj.Department != "" {
		b.WriteString(" From the " + obj.Department + " collection.")
	}
	expanded := b.String()

	return Description{Raw: short, Short: short, Expanded: expanded}
}
