package pipeline

import (
	"context"
	"strings"

	"github.com/artisedge/importer/internal/catalog"
	"github.com/artisedge/importer/internal/ratelimit"
	"github.com/artisedge/importer/pkg/types"
)

// Initialization cost bounds. Post-hoc filters the search API cannot express
// require per-id detail fetches; these caps keep that probing bounded.
const (
	initialProbeBatch   = 20
	probeMatchThreshold = 0.30
	probeHardCap        = 100
)

// ResolveObjectIDs resolves a job's query into its candidate id list. One
// governed search; on zero hits exactly one unconditional broad fallback
// search. Post-hoc filters trigger bounded detail probing. The final list is
// truncated to options.maxItems.
//
// A *ratelimit.ThrottledError propagates so the caller can pause and retry
// initialization later; any other error is initialization-fatal.
func (p *Pipeline) ResolveObjectIDs(ctx context.Context, job *types.Job) ([]int, error) {
	crit := searchCriteriaFor(job.Query)

	if err := p.governor.CheckBudget(ratelimit.ServiceCatalog); err != nil {
		return nil, err
	}
	ids, err := p.catalog.Search(ctx, crit)
	if err != nil {
		if throttled := asThrottled(err); throttled != nil {
			p.governor.SetThrottled(throttled.Service, throttled.RetryAfter)
		}
		return nil, err
	}

	if len(ids) == 0 {
		log.Info("primary search empty, trying broad fallback", "job_id", job.ID)
		ids, err = p.catalog.Search(ctx, crit.Broad())
		if err != nil {
			if throttled := asThrottled(err); throttled != nil {
				p.governor.SetThrottled(throttled.Service, throttled.RetryAfter)
			}
			return nil, err
		}
	}

	if job.Query.HasPostFilters() {
		ids, err = p.applyPostFilters(ctx, job.Query, ids)
		if err != nil {
			return nil, err
		}
	}

	if max := job.Options.MaxItems; max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

// applyPostFilters validates candidates against filters the search API
// cannot express, by fetching details for an initial bounded batch. If the
// match rate in that batch exceeds the threshold, the remainder is probed
// too, up to the hard cap; otherwise the engine accepts the possibly
// incomplete batch result rather than incurring unbounded fetch cost.
func (p *Pipeline) applyPostFilters(ctx context.Context, q types.JobQuery, ids []int) ([]int, error) {
	probe := func(candidates []int) ([]int, error) {
		var matched []int
		for _, id := range candidates {
			if err := p.governor.CheckBudget(ratelimit.ServiceCatalog); err != nil {
				return nil, err
			}
			obj, err := p.catalog.GetDetails(ctx, id)
			if err != nil {
				if throttled := asThrottled(err); throttled != nil {
					p.governor.SetThrottled(throttled.Service, throttled.RetryAfter)
					return nil, err
				}
				// A single unreadable candidate is not initialization-fatal.
				continue
			}
			if matchesFilters(obj, q) {
				matched = append(matched, id)
			}
		}
		return matched, nil
	}

	batch := ids
	if len(batch) > initialProbeBatch {
		batch = ids[:initialProbeBatch]
	}
	matched, err := probe(batch)
	if err != nil {
		return nil, err
	}

	rate := float64(len(matched)) / float64(len(batch))
	if rate <= probeMatchThreshold || len(ids) <= len(batch) {
		log.Info("post-filter probe stopped after initial batch",
			"probed", len(batch), "matched", len(matched), "match_rate", rate)
		return matched, nil
	}

	rest := ids[len(batch):]
	if remaining := probeHardCap - len(batch); len(rest) > remaining {
		rest = rest[:remaining]
	}
	more, err := probe(rest)
	if err != nil {
		return nil, err
	}
	return append(matched, more...), nil
}

func matchesFilters(obj *catalog.Object, q types.JobQuery) bool {
	if q.Medium != "" && !containsFold(obj.Medium, q.Medium) {
		return false
	}
	if q.Classification != "" && !containsFold(obj.Classification, q.Classification) {
		return false
	}
	if q.GeoLocation != "" &&
		!containsFold(obj.Country, q.GeoLocation) && !containsFold(obj.Culture, q.GeoLocation) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func searchCriteriaFor(q types.JobQuery) catalog.SearchCriteria {
	return catalog.SearchCriteria{
		Query:         q.Keywords,
		DepartmentIDs: q.DepartmentIDs,
		DateBegin:     q.DateBegin,
		DateEnd:       q.DateEnd,
		HasImages:     true,
	}
}
