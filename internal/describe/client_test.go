package describe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artisedge/importer/internal/catalog"
	"github.com/artisedge/importer/internal/ratelimit"
)

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(generateResponse{
			Raw:        "raw text",
			Short:      "short text",
			Expanded:   "expanded text",
			TokensUsed: 412,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-key", "describe-lite")
	desc, tokens, err := c.Generate(context.Background(), &catalog.Object{
		Title:      "Wheat Field with Cypresses",
		ArtistName: "Vincent van Gogh",
		Medium:     "Oil on canvas",
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("auth header = %q, want bearer token", gotAuth)
	}
	if gotReq.Model != "describe-lite" || gotReq.Title != "Wheat Field with Cypresses" {
		t.Errorf("request = %+v, want model and title forwarded", gotReq)
	}
	if desc.Expanded != "expanded text" || tokens != 412 {
		t.Errorf("result = (%+v, %d), want expanded text and 412 tokens", desc, tokens)
	}
}

func TestGenerateThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := NewClient(srv.URL, "k", "m").Generate(context.Background(), &catalog.Object{Title: "x"})
	var throttled *ratelimit.ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("err = %v, want ThrottledError", err)
	}
	if throttled.Service != ratelimit.ServiceDescribe {
		t.Errorf("service = %s, want describe", throttled.Service)
	}
}

func TestSynthesize(t *testing.T) {
	desc := Synthesize(&catalog.Object{
		Title:          "The Harvesters",
		ArtistName:     "Pieter Bruegel the Elder",
		ObjectDate:     "1565",
		Medium:         "Oil on wood",
		Classification: "Paintings",
		Department:     "European Paintings",
	})

	if desc.Short != "The Harvesters by Pieter Bruegel the Elder (1565)" {
		t.Errorf("short = %q", desc.Short)
	}
	for _, fragment := range []string{"Oil on wood", "Paintings", "European Paintings collection"} {
		if !strings.Contains(desc.Expanded, fragment) {
			t.Errorf("expanded %q missing %q", desc.Expanded, fragment)
		}
	}
	if desc.Raw != desc.Short {
		t.Errorf("raw = %q, want the short variant", desc.Raw)
	}
}

func TestSynthesizeUntitled(t *testing.T) {
	desc := Synthesize(&catalog.Object{})
	if desc.Short != "Untitled work" {
		t.Errorf("short = %q, want Untitled work", desc.Short)
	}
}
