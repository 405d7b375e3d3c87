// Package catalog is the museum collection API client. It resolves search
// criteria into candidate object ids and fetches full object records.
//
// Throttling is surfaced distinctly from not-found and transient errors: an
// upstream 429 becomes a *ratelimit.ThrottledError carrying the Retry-After
// delay, which the engine treats as a pause signal rather than a failure.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/artisedge/importer/internal/ratelimit"
)

// ErrObjectNotFound marks an id the collection no longer resolves.
var ErrObjectNotFound = errors.New("catalog object not found")

// defaultRetryAfter applies when a 429 arrives without a Retry-After header.
const defaultRetryAfter = 60 * time.Second

// Object is the full catalog record for one artwork.
type Object struct {
	ObjectID       int    `json:"objectID"`
	Title          string `json:"title"`
	ArtistName     string `json:"artistDisplayName"`
	Department     string `json:"department"`
	Classification string `json:"classification"`
	Medium         string `json:"medium"`
	Culture        string `json:"culture"`
	GeographyType  string `json:"geographyType"`
	Country        string `json:"country"`
	ObjectDate     string `json:"objectDate"`
	ObjectBeginDate int   `json:"objectBeginDate"`
	PrimaryImage   string `json:"primaryImage"`
	IsPublicDomain bool   `json:"isPublicDomain"`
	ObjectURL      string `json:"objectURL"`
}

// Eligible reports whether the record may be imported: it must be publicly
// usable and carry a primary image reference.
func (o *Object) Eligible() bool {
	return o.IsPublicDomain && o.PrimaryImage != ""
}

// SearchCriteria is the subset of a job query the upstream search endpoint
// can express directly. Medium/geography/classification filters are applied
// post hoc by the pipeline via GetDetails.
type SearchCriteria struct {
	Query         string
	DepartmentIDs []int
	DateBegin     int
	DateEnd       int
	HasImages     bool
}

// Broad returns the open-ended fallback criteria used when the primary
// search yields zero results.
func (c SearchCriteria) Broad() SearchCriteria {
	return SearchCriteria{Query: "art", HasImages: true}
}

type searchResponse struct {
	Total     int   `json:"total"`
	ObjectIDs []int `json:"objectIDs"`
}

// Client talks to the collection API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a catalog client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Search resolves criteria into a list of candidate object ids. A search
// with zero hits returns an empty slice, not an error.
func (c *Client) Search(ctx context.Context, crit SearchCriteria) ([]int, error) {
	q := url.Values{}
	if crit.Query != "" {
		q.Set("q", crit.Query)
	}
	if crit.HasImages {
		q.Set("hasImages", "true")
	}
	if len(crit.DepartmentIDs) > 0 {
		parts := make([]string, len(crit.DepartmentIDs))
		for i, id := range crit.DepartmentIDs {
			parts[i] = strconv.Itoa(id)
		}
		q.Set("departmentIds", strings.Join(parts, "|"))
	}
	if crit.DateBegin != 0 || crit.DateEnd != 0 {
		q.Set("dateBegin", strconv.Itoa(crit.DateBegin))
		q.Set("dateEnd", strconv.Itoa(crit.DateEnd))
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.ObjectIDs, nil
}

// GetDetails fetches the full record for one object id.
func (c *Client) GetDetails(ctx context.Context, objectID int) (*Object, error) {
	var obj Object
	if err := c.getJSON(ctx, "/objects/"+strconv.Itoa(objectID), &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("catalog response decode failed: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return ErrObjectNotFound
	case http.StatusTooManyRequests:
		return ratelimit.ThrottledFromHeader(
			ratelimit.ServiceCatalog, resp.Header.Get("Retry-After"), defaultRetryAfter)
	default:
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}
}
