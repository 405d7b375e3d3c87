package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artisedge/importer/internal/catalog"
	"github.com/artisedge/importer/internal/ratelimit"
	"github.com/artisedge/importer/pkg/types"
)

func queryJob(q types.JobQuery, opts types.JobOptions) *types.Job {
	return &types.Job{ID: "job-1", Status: types.StatusInitializing, Query: q, Options: opts}
}

func idRange(from, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = from + i
	}
	return out
}

func TestResolveObjectIDsPrimarySearch(t *testing.T) {
	f := newFixture()
	f.catalog.searchFn = func(crit catalog.SearchCriteria) ([]int, error) {
		return []int{5, 6, 7}, nil
	}

	ids, err := f.pipeline.ResolveObjectIDs(context.Background(),
		queryJob(types.JobQuery{Keywords: "sunflowers", DepartmentIDs: []int{11}}, types.JobOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7}, ids)

	require.Len(t, f.catalog.searches, 1)
	crit := f.catalog.searches[0]
	assert.Equal(t, "sunflowers", crit.Query)
	assert.Equal(t, []int{11}, crit.DepartmentIDs)
	assert.True(t, crit.HasImages, "searches always require images")
}

func TestResolveObjectIDsMaxItemsTruncation(t *testing.T) {
	f := newFixture()
	f.catalog.searchFn = func(catalog.SearchCriteria) ([]int, error) {
		return idRange(100, 50), nil
	}

	ids, err := f.pipeline.ResolveObjectIDs(context.Background(),
		queryJob(types.JobQuery{Keywords: "art"}, types.JobOptions{MaxItems: 10}))
	require.NoError(t, err)
	assert.Equal(t, idRange(100, 10), ids, "order preserved, tail truncated")
}

func TestResolveObjectIDsBroadFallback(t *testing.T) {
	f := newFixture()
	f.catalog.searchFn = func(crit catalog.SearchCriteria) ([]int, error) {
		if crit.Query == "art" {
			return []int{1, 2}, nil
		}
		return nil, nil
	}

	ids, err := f.pipeline.ResolveObjectIDs(context.Background(),
		queryJob(types.JobQuery{Keywords: "xyzzy nothing"}, types.JobOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids)

	require.Len(t, f.catalog.searches, 2, "exactly one fallback search")
	assert.Equal(t, "art", f.catalog.searches[1].Query)
}

func TestResolveObjectIDsThrottledSearch(t *testing.T) {
	f := newFixture()
	f.catalog.searchFn = func(catalog.SearchCriteria) ([]int, error) {
		return nil, &ratelimit.ThrottledError{Service: ratelimit.ServiceCatalog, RetryAfter: time.Minute}
	}

	_, err := f.pipeline.ResolveObjectIDs(context.Background(),
		queryJob(types.JobQuery{Keywords: "art"}, types.JobOptions{}))
	var throttled *ratelimit.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, time.Minute, f.governor.throttled[ratelimit.ServiceCatalog])
}

func TestPostFilterProbeStopsOnLowMatchRate(t *testing.T) {
	f := newFixture()
	candidates := idRange(0, 60)
	f.catalog.searchFn = func(catalog.SearchCriteria) ([]int, error) {
		return candidates, nil
	}
	// Only ids 0 and 1 match the medium filter: 2/20 is under the threshold.
	for _, id := range candidates {
		obj := eligibleObject(id)
		obj.ObjectID = id
		if id >= 2 {
			obj.Medium = "Marble"
		}
		f.catalog.objects[id] = obj
	}

	ids, err := f.pipeline.ResolveObjectIDs(context.Background(),
		queryJob(types.JobQuery{Keywords: "x", Medium: "canvas"}, types.JobOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids)
	assert.Len(t, f.catalog.detailCalls, 20, "probing stops after the initial batch")
}

func TestPostFilterProbeContinuesUpToCap(t *testing.T) {
	f := newFixture()
	candidates := idRange(0, 200)
	f.catalog.searchFn = func(catalog.SearchCriteria) ([]int, error) {
		return candidates, nil
	}
	// Every candidate matches: high match rate, so probing continues, but
	// never past the hard cap.
	for _, id := range candidates {
		obj := eligibleObject(id)
		obj.ObjectID = id
		f.catalog.objects[id] = obj
	}

	ids, err := f.pipeline.ResolveObjectIDs(context.Background(),
		queryJob(types.JobQuery{Keywords: "x", Medium: "canvas"}, types.JobOptions{}))
	require.NoError(t, err)
	assert.Len(t, f.catalog.detailCalls, 100, "probing is capped")
	assert.Equal(t, idRange(0, 100), ids)
}

func TestPostFilterUnreadableCandidateIsDropped(t *testing.T) {
	f := newFixture()
	f.catalog.searchFn = func(catalog.SearchCriteria) ([]int, error) {
		return []int{1, 2, 3}, nil
	}
	for _, id := range []int{1, 3} {
		obj := eligibleObject(id)
		obj.ObjectID = id
		f.catalog.objects[id] = obj
	}
	// id 2 has no record: not initialization-fatal.

	ids, err := f.pipeline.ResolveObjectIDs(context.Background(),
		queryJob(types.JobQuery{Keywords: "x", Medium: "canvas"}, types.JobOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ids)
}

func TestMatchesFilters(t *testing.T) {
	obj := &catalog.Object{
		Medium:         "Oil on canvas",
		Classification: "Paintings",
		Country:        "France",
		Culture:        "French",
	}

	tests := []struct {
		name string
		q    types.JobQuery
		want bool
	}{
		{"medium substring", types.JobQuery{Medium: "canvas"}, true},
		{"medium case fold", types.JobQuery{Medium: "OIL"}, true},
		{"medium mismatch", types.JobQuery{Medium: "marble"}, false},
		{"geo via country", types.JobQuery{GeoLocation: "france"}, true},
		{"geo via culture", types.JobQuery{GeoLocation: "french"}, true},
		{"geo mismatch", types.JobQuery{GeoLocation: "italy"}, false},
		{"classification", types.JobQuery{Classification: "paint"}, true},
		{"all filters", types.JobQuery{Medium: "oil", GeoLocation: "France", Classification: "Paintings"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFilters(obj, tt.q))
		})
	}
}
