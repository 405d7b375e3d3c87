// ============================================================================
// Enrichment Pipeline - per-item processing
// ============================================================================
//
// Package: internal/pipeline
// Purpose: Advance one catalog object through fetch -> eligibility -> image
// cache -> description -> taxonomy -> publish, consulting the rate governor
// before every external call.
//
// Failure policy (per item):
//   - Throttling (governor refusal or upstream 429) propagates as a
//     *ratelimit.ThrottledError; the caller pauses the job and the same id
//     is retried first on resume.
//   - Ineligible or vanished records are a skip: a no-op outcome recorded in
//     results but neither a success nor a failure.
//   - Description-generation failures fall back to text synthesized from the
//     record's own fields.
//   - Publish failures are item-level: the item is still processed, with the
//     error text on its result entry.
//
// All collaborators are injected as interfaces so tests substitute fakes
// per case; nothing here is a package-level singleton.
//
// ============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/artisedge/importer/internal/catalog"
	"github.com/artisedge/importer/internal/describe"
	"github.com/artisedge/importer/internal/ratelimit"
	"github.com/artisedge/importer/internal/storefront"
	"github.com/artisedge/importer/internal/taxonomy"
	"github.com/artisedge/importer/pkg/types"
)

var log = slog.Default()

// CatalogAPI is the catalog search collaborator contract.
type CatalogAPI interface {
	Search(ctx context.Context, crit catalog.SearchCriteria) ([]int, error)
	GetDetails(ctx context.Context, objectID int) (*catalog.Object, error)
}

// Describer generates description variants and reports token consumption.
type Describer interface {
	Generate(ctx context.Context, obj *catalog.Object) (describe.Description, int, error)
}

// Publisher publishes a product and returns its storefront reference.
type Publisher interface {
	Publish(ctx context.Context, p storefront.Product) (string, error)
}

// ImageStore caches image assets locally.
type ImageStore interface {
	Cached(objectID int) (string, bool)
	FetchOrGetCached(ctx context.Context, url string, objectID int) (string, error)
}

// Governor is the rate-limit contract the pipeline consults.
type Governor interface {
	CheckBudget(svc ratelimit.Service) error
	RecordUsage(svc ratelimit.Service, units float64)
	SetThrottled(svc ratelimit.Service, d time.Duration)
}

// PublishRegistry answers whether an object id was already published and
// records new publishes. Backed by the job store.
type PublishRegistry interface {
	WasPublished(ctx context.Context, objectID int) (string, bool, error)
	MarkPublished(ctx context.Context, objectID int, productRef string, jobID types.JobID) error
}

// Pipeline orchestrates per-item enrichment and query resolution.
type Pipeline struct {
	catalog   CatalogAPI
	describer Describer
	publisher Publisher
	images    ImageStore
	governor  Governor
	registry  PublishRegistry
}

// New wires the pipeline's collaborators.
func New(cat CatalogAPI, desc Describer, pub Publisher, images ImageStore,
	gov Governor, reg PublishRegistry) *Pipeline {
	return &Pipeline{
		catalog:   cat,
		describer: desc,
		publisher: pub,
		images:    images,
		governor:  gov,
		registry:  reg,
	}
}

// ProcessItem runs one object id through the pipeline. The returned result
// carries the recorded outcome (success, skip, or item-level publish error).
// A non-nil error is either a *ratelimit.ThrottledError (pause the job) or a
// hard per-item failure (record in failedIds and continue).
func (p *Pipeline) ProcessItem(ctx context.Context, job *types.Job, objectID int) (types.ItemResult, error) {
	res := types.ItemResult{ObjectID: objectID}

	// Step 1: full record fetch, gated on the catalog budget.
	if err := p.governor.CheckBudget(ratelimit.ServiceCatalog); err != nil {
		return res, err
	}
	obj, err := p.catalog.GetDetails(ctx, objectID)
	if err != nil {
		if errors.Is(err, catalog.ErrObjectNotFound) {
			res.Skipped = true
			log.Debug("object vanished from catalog", "object_id", objectID)
			return res, nil
		}
		if throttled := asThrottled(err); throttled != nil {
			p.governor.SetThrottled(throttled.Service, throttled.RetryAfter)
			return res, err
		}
		return res, fmt.Errorf("detail fetch failed: %w", err)
	}
	if !obj.Eligible() {
		res.Skipped = true
		log.Debug("object not eligible", "object_id", objectID,
			"public_domain", obj.IsPublicDomain, "has_image", obj.PrimaryImage != "")
		return res, nil
	}
	res.Title = obj.Title
	res.Artist = obj.ArtistName

	// Step 2: image asset, skipping both the network fetch and the budget
	// charge when a cached copy exists.
	if local, ok := p.images.Cached(objectID); ok {
		res.ImageRef = local
	} else {
		if err := p.governor.CheckBudget(ratelimit.ServiceCatalog); err != nil {
			return res, err
		}
		local, err := p.images.FetchOrGetCached(ctx, obj.PrimaryImage, objectID)
		if err != nil {
			return res, fmt.Errorf("image fetch failed: %w", err)
		}
		res.ImageRef = local
	}

	// Step 3: description variants, with the synthesized fallback.
	if err := p.governor.CheckBudget(ratelimit.ServiceDescribe); err != nil {
		return res, err
	}
	desc, tokens, err := p.describer.Generate(ctx, obj)
	if err != nil {
		if throttled := asThrottled(err); throttled != nil {
			p.governor.SetThrottled(throttled.Service, throttled.RetryAfter)
			return res, err
		}
		log.Warn("description generation failed, synthesizing",
			"object_id", objectID, "error", err)
		desc = describe.Synthesize(obj)
	} else {
		p.governor.RecordUsage(ratelimit.ServiceDescribe, float64(tokens))
	}
	res.Text = types.GeneratedText{Raw: desc.Raw, Short: desc.Short, Expanded: desc.Expanded}

	// Step 4: taxonomy labels.
	res.Collections, res.Tags = classify(obj, desc)

	// Step 5: storefront publish, unless disabled or already published.
	if job.Options.SkipUpload {
		return res, nil
	}
	if job.Options.SkipExisting {
		if ref, ok, err := p.registry.WasPublished(ctx, objectID); err == nil && ok {
			res.PublishRef = ref
			return res, nil
		}
	}
	if err := p.governor.CheckBudget(ratelimit.ServiceStorefront); err != nil {
		return res, err
	}
	ref, err := p.publisher.Publish(ctx, storefront.Product{
		SKU:         storefront.SKUFor(objectID),
		Title:       obj.Title,
		Body:        res.Text.Expanded,
		ImageRef:    res.ImageRef,
		Collections: res.Collections,
		Tags:        res.Tags,
		Price:       job.Options.DefaultPrice,
	})
	if err != nil {
		if throttled := asThrottled(err); throttled != nil {
			p.governor.SetThrottled(throttled.Service, throttled.RetryAfter)
			return res, err
		}
		// Publish failure does not fail the item; record it on the entry.
		res.Error = fmt.Sprintf("publish failed: %v", err)
		log.Warn("publish failed", "object_id", objectID, "error", err)
		return res, nil
	}
	res.PublishRef = ref
	if err := p.registry.MarkPublished(ctx, objectID, ref, job.ID); err != nil {
		log.Warn("failed to record publish", "object_id", objectID, "error", err)
	}
	return res, nil
}

// classify derives collection and tag labels: era bucket from the start
// year, themes from a composed text blob, and department/classification
// always added as both a collection and a tag.
func classify(obj *catalog.Object, desc describe.Description) ([]string, []string) {
	var labels []string
	if era, ok := taxonomy.EraForYear(obj.ObjectBeginDate); ok {
		labels = append(labels, era)
	}
	blob := strings.Join([]string{obj.Title, desc.Expanded, obj.Medium, obj.Classification}, " ")
	labels = append(labels, taxonomy.Themes(blob)...)
	if obj.Department != "" {
		labels = append(labels, obj.Department)
	}
	if obj.Classification != "" {
		labels = append(labels, obj.Classification)
	}

	collections := dedupe(labels)
	tags := make([]string, len(collections))
	copy(tags, collections)
	return collections, tags
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func asThrottled(err error) *ratelimit.ThrottledError {
	var throttled *ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttled
	}
	return nil
}
