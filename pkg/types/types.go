// Package types defines the core domain model of the import engine: the Job
// Record, its status vocabulary, and the per-item result shape.
package types

import (
	"math"
	"time"
)

// JobID uniquely identifies an import job.
type JobID string

// JobStatus is the job state machine vocabulary.
type JobStatus string

const (
	StatusPending      JobStatus = "pending"      // created, not yet picked up
	StatusInitializing JobStatus = "initializing" // query resolution in progress
	StatusInitialized  JobStatus = "initialized"  // object ids resolved, ready for the item loop
	StatusProcessing   JobStatus = "processing"   // item loop running
	StatusPaused       JobStatus = "paused"       // see PauseReason
	StatusCompleted    JobStatus = "completed"    // terminal
	StatusFailed       JobStatus = "failed"       // terminal
)

// IsTerminal reports whether the engine must never mutate the record again.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobSource selects how the candidate-id query is constructed.
type JobSource string

const (
	SourceURL      JobSource = "url"
	SourceCategory JobSource = "category"
)

// PauseReason qualifies a paused status.
type PauseReason string

const (
	PauseUser      PauseReason = "user"
	PauseRateLimit PauseReason = "rate_limit"
	PauseError     PauseReason = "error"
)

// JobQuery is the resolved search criteria. Immutable after creation except
// for internal normalization during initialization.
type JobQuery struct {
	Keywords       string `json:"keywords,omitempty"`
	DepartmentIDs  []int  `json:"department_ids,omitempty"`
	DateBegin      int    `json:"date_begin,omitempty"` // year, 0 = unset
	DateEnd        int    `json:"date_end,omitempty"`   // year, 0 = unset
	Medium         string `json:"medium,omitempty"`
	GeoLocation    string `json:"geo_location,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// HasPostFilters reports whether criteria exist that the upstream search API
// cannot express and that must be validated by per-id detail fetches.
func (q JobQuery) HasPostFilters() bool {
	return q.Medium != "" || q.GeoLocation != "" || q.Classification != ""
}

// JobOptions are the execution parameters fixed at creation.
type JobOptions struct {
	MaxItems     int     `json:"max_items,omitempty"`     // hard cap on totalObjects, 0 = no cap
	SkipUpload   bool    `json:"skip_upload,omitempty"`   // skip the storefront publish step
	SkipExisting bool    `json:"skip_existing,omitempty"` // skip publishing ids already published
	DefaultPrice float64 `json:"default_price,omitempty"` // listing price for published items
}

// GeneratedText holds the description variants produced for an item.
type GeneratedText struct {
	Raw      string `json:"raw,omitempty"`
	Short    string `json:"short,omitempty"`
	Expanded string `json:"expanded,omitempty"`
}

// ItemResult is the recorded outcome of one attempted object id.
type ItemResult struct {
	ObjectID    int           `json:"object_id"`
	Title       string        `json:"title,omitempty"`
	Artist      string        `json:"artist,omitempty"`
	ImageRef    string        `json:"image_ref,omitempty"`
	Text        GeneratedText `json:"text,omitempty"`
	Collections []string      `json:"collections,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	PublishRef  string        `json:"publish_ref,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"` // ineligible or not found; a no-op outcome
	Error       string        `json:"error,omitempty"`   // item-level error text
}

// Job is the Job Record: the unit of work and the sole source of truth for
// progress. Persisted by internal/store; mutated only by the scheduler and
// the pipeline until a terminal status is reached.
//
// ProcessedIDs holds every attempted id with an outcome recorded in Results
// (success, recorded failure, or eligibility skip). FailedIDs is the subset
// that failed in a way not attributable to throttling.
type Job struct {
	ID      JobID      `json:"id"`
	Status  JobStatus  `json:"status"`
	Source  JobSource  `json:"source"`
	Query   JobQuery   `json:"query"`
	Options JobOptions `json:"options"`

	ObjectIDs    []int        `json:"object_ids,omitempty"` // write-once at initialization
	ProcessedIDs []int        `json:"processed_ids,omitempty"`
	FailedIDs    []int        `json:"failed_ids,omitempty"`
	Results      []ItemResult `json:"results,omitempty"`
	Progress     int          `json:"progress"`
	TotalObjects int          `json:"total_objects"`

	PauseReason PauseReason `json:"pause_reason,omitempty"`
	ResumeAfter *time.Time  `json:"resume_after,omitempty"`
	Error       string      `json:"error,omitempty"`

	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ComputeProgress returns round(100 * |processedIds| / max(1, totalObjects)).
func (j *Job) ComputeProgress() int {
	total := j.TotalObjects
	if total < 1 {
		total = 1
	}
	return int(math.Round(100 * float64(len(j.ProcessedIDs)) / float64(total)))
}

// Attempted reports whether the id already has a recorded outcome.
func (j *Job) Attempted(objectID int) bool {
	for _, id := range j.ProcessedIDs {
		if id == objectID {
			return true
		}
	}
	return false
}

// NextUnattempted returns the first id in ObjectIDs without a recorded
// outcome, preserving the fixed processing order.
func (j *Job) NextUnattempted() (int, bool) {
	for _, id := range j.ObjectIDs {
		if !j.Attempted(id) {
			return id, true
		}
	}
	return 0, false
}

// RecordOutcome appends a result entry, marks the id attempted and, for hard
// failures, failed. Recomputes progress. Appending the same id twice is the
// caller's bug; the store rejects it via the invariants it checks on update.
func (j *Job) RecordOutcome(res ItemResult, failed bool) {
	j.Results = append(j.Results, res)
	j.ProcessedIDs = append(j.ProcessedIDs, res.ObjectID)
	if failed && !containsInt(j.FailedIDs, res.ObjectID) {
		j.FailedIDs = append(j.FailedIDs, res.ObjectID)
	}
	j.Progress = j.ComputeProgress()
}

func containsInt(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
