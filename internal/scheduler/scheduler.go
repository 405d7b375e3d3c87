// ============================================================================
// Scheduler (Job Processor) - the engine's control loop
// ============================================================================
//
// Package: internal/scheduler
// Purpose: A single persistent loop, started once per process, that selects
// the best-eligible Job Record and advances it through its state machine.
//
// Each iteration:
//   1. Select the earliest-created eligible record (pending, initialized,
//      rate-limit-paused and due, or left in-flight by an interrupted run).
//      At most one record per iteration.
//   2. Nothing eligible -> sleep the poll interval and retry.
//   3. pending        -> resolve the query into object ids (initialization).
//   4. initialized    -> run the item loop until completion, a pause
//                        condition, or exhaustion.
//   5. paused and due -> back to initialized, then the item loop; a job
//                        whose initialization was throttled re-initializes.
//   6. initializing or
//      processing     -> a leftover from a run that died or was interrupted
//                        mid-step; resume it. Exactly one engine process
//                        runs, so an in-flight status at selection time is
//                        never live work.
//   7. Any uncaught failure marks that record failed and the outer loop
//      continues; one failing job never stops the engine.
//
// This is deliberately a single-job-at-a-time design: it removes per-record
// locking and gives each external service one global rate budget, trading
// throughput for simplicity. The store's version compare-and-set is the only
// arbitration needed against external pause/cancel requests.
//
// ============================================================================

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artisedge/importer/internal/journal"
	"github.com/artisedge/importer/internal/metrics"
	"github.com/artisedge/importer/internal/ratelimit"
	"github.com/artisedge/importer/internal/store"
	"github.com/artisedge/importer/pkg/types"
)

var log = slog.Default()

// errYield means an external status change was observed mid-advancement;
// the scheduler abandons its write and returns to the outer loop.
var errYield = errors.New("job changed externally")

// Processor is the pipeline contract the scheduler drives.
type Processor interface {
	ResolveObjectIDs(ctx context.Context, job *types.Job) ([]int, error)
	ProcessItem(ctx context.Context, job *types.Job, objectID int) (types.ItemResult, error)
}

// Config holds the loop's timing parameters.
type Config struct {
	PollInterval time.Duration // wait when no job is eligible
	ItemDelay    time.Duration // courtesy backoff between items
}

// DefaultConfig returns the engine defaults: 5s poll, 500ms item delay.
func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Second, ItemDelay: 500 * time.Millisecond}
}

// Scheduler drives jobs through the engine.
type Scheduler struct {
	store     *store.Store
	processor Processor
	journal   *journal.Journal // optional
	collector *metrics.Collector
	config    Config
	now       func() time.Time
}

// New wires a scheduler. journal may be nil.
func New(st *store.Store, proc Processor, jnl *journal.Journal,
	col *metrics.Collector, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	return &Scheduler{
		store:     st,
		processor: proc,
		journal:   jnl,
		collector: col,
		config:    cfg,
		now:       time.Now,
	}
}

// WithClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run is the outer loop. It returns only when ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info("scheduler started",
		"poll_interval", s.config.PollInterval,
		"item_delay", s.config.ItemDelay)

	for {
		if ctx.Err() != nil {
			log.Info("scheduler stopped")
			return
		}

		worked := s.RunOnce(ctx)
		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-time.After(s.config.PollInterval):
		}
	}
}

// RunOnce performs one scheduler iteration: select one eligible record and
// advance it. Reports whether any record was acted on. All failures are
// contained here; the record is marked failed and the engine lives on.
func (s *Scheduler) RunOnce(ctx context.Context) (worked bool) {
	job, err := s.store.NextEligible(ctx, s.now())
	if err != nil {
		log.Error("eligibility query failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while advancing job", "job_id", job.ID, "panic", r)
			s.markFailed(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	s.collector.SetActive(true, job.Progress)
	defer s.collector.SetActive(false, 0)

	if err := s.advance(ctx, job); err != nil {
		if errors.Is(err, errYield) || errors.Is(err, context.Canceled) {
			return true
		}
		log.Error("job advancement failed", "job_id", job.ID, "error", err)
		s.markFailed(ctx, job, err)
	}
	return true
}

func (s *Scheduler) advance(ctx context.Context, job *types.Job) error {
	switch job.Status {
	case types.StatusPending:
		s.collector.RecordJobStarted()
		return s.initialize(ctx, job)

	case types.StatusInitialized:
		return s.runItemLoop(ctx, job)

	case types.StatusInitializing:
		// Interrupted mid-resolution. objectIds is write-once and was never
		// written, so resolution restarts cleanly.
		log.Info("resuming interrupted initialization", "job_id", job.ID)
		return s.resolve(ctx, job)

	case types.StatusProcessing:
		// Interrupted mid-loop. Every recorded outcome is durable; the loop
		// continues from the first unattempted id.
		log.Info("resuming interrupted item loop",
			"job_id", job.ID, "processed", len(job.ProcessedIDs))
		return s.runItemLoop(ctx, job)

	case types.StatusPaused:
		// Only rate_limit pauses that are due reach here. A job whose
		// initialization was throttled has no object ids yet and goes back
		// through initialization instead of the item loop.
		if job.ObjectIDs == nil && job.TotalObjects == 0 {
			if err := s.transition(ctx, job, types.StatusInitializing, "rate limit elapsed"); err != nil {
				return err
			}
			return s.resolve(ctx, job)
		}
		if err := s.transition(ctx, job, types.StatusInitialized, "rate limit elapsed"); err != nil {
			return err
		}
		return s.runItemLoop(ctx, job)

	default:
		return fmt.Errorf("selected job %s in unexpected status %s", job.ID, job.Status)
	}
}

// ============================================================================
// Initialization
// ============================================================================

func (s *Scheduler) initialize(ctx context.Context, job *types.Job) error {
	if err := s.transition(ctx, job, types.StatusInitializing, ""); err != nil {
		return err
	}
	return s.resolve(ctx, job)
}

// resolve runs query resolution and writes objectIds/totalObjects once.
func (s *Scheduler) resolve(ctx context.Context, job *types.Job) error {
	ids, err := s.processor.ResolveObjectIDs(ctx, job)
	if err != nil {
		var throttled *ratelimit.ThrottledError
		if errors.As(err, &throttled) {
			return s.pauseForThrottle(ctx, job, throttled)
		}
		// Initialization-fatal: no partial objectIds are recorded.
		return fmt.Errorf("query resolution failed: %w", err)
	}

	job.ObjectIDs = ids
	if job.ObjectIDs == nil {
		job.ObjectIDs = []int{}
	}
	job.TotalObjects = len(ids)
	if err := s.transition(ctx, job, types.StatusInitialized, fmt.Sprintf("%d candidates", len(ids))); err != nil {
		return err
	}
	log.Info("job initialized", "job_id", job.ID, "total_objects", job.TotalObjects)
	return nil
}

// ============================================================================
// Item loop
// ============================================================================

func (s *Scheduler) runItemLoop(ctx context.Context, job *types.Job) error {
	if job.Status != types.StatusProcessing {
		if err := s.transition(ctx, job, types.StatusProcessing, ""); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Re-read before acting: external pause/cancel requests take effect
		// here, between items, never mid-flight.
		fresh, err := s.store.Get(ctx, job.ID)
		if err != nil {
			return err
		}
		if fresh.Status != types.StatusProcessing {
			log.Info("yielding to external status change",
				"job_id", job.ID, "status", fresh.Status)
			return nil
		}
		job = fresh

		objectID, ok := job.NextUnattempted()
		if !ok {
			return s.complete(ctx, job)
		}

		start := time.Now()
		res, err := s.processor.ProcessItem(ctx, job, objectID)
		elapsed := time.Since(start).Seconds()

		if err != nil {
			var throttled *ratelimit.ThrottledError
			if errors.As(err, &throttled) {
				// The triggering id is not marked attempted; it retries
				// first on resume.
				return s.pauseForThrottle(ctx, job, throttled)
			}
			// Per-item failure: record and move on.
			log.Warn("item failed", "job_id", job.ID, "object_id", objectID, "error", err)
			job.RecordOutcome(types.ItemResult{ObjectID: objectID, Error: err.Error()}, true)
			s.collector.RecordItem("failed", elapsed)
		} else {
			job.RecordOutcome(res, false)
			if res.Skipped {
				s.collector.RecordItem("skipped", elapsed)
			} else {
				s.collector.RecordItem("processed", elapsed)
			}
		}

		if err := s.persistOutcome(ctx, job); err != nil {
			return err
		}
		s.collector.SetActive(true, job.Progress)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.ItemDelay):
		}
	}
}

func (s *Scheduler) complete(ctx context.Context, job *types.Job) error {
	now := s.now().UTC()
	job.CompletedAt = &now
	job.Progress = job.ComputeProgress()
	if err := s.transition(ctx, job, types.StatusCompleted, ""); err != nil {
		return err
	}
	s.collector.RecordJobCompleted()
	log.Info("job completed",
		"job_id", job.ID,
		"processed", len(job.ProcessedIDs),
		"failed", len(job.FailedIDs),
		"total", job.TotalObjects)
	return nil
}

func (s *Scheduler) pauseForThrottle(ctx context.Context, job *types.Job, throttled *ratelimit.ThrottledError) error {
	resume := s.now().Add(throttled.RetryAfter).UTC()
	job.PauseReason = types.PauseRateLimit
	job.ResumeAfter = &resume
	if err := s.transition(ctx, job, types.StatusPaused, string(throttled.Service)); err != nil {
		return err
	}
	s.collector.RecordThrottlePause(string(throttled.Service))
	log.Info("job paused for rate limit",
		"job_id", job.ID,
		"service", throttled.Service,
		"resume_after", resume)
	return nil
}

// ============================================================================
// Persistence helpers
// ============================================================================

// transition persists a status change via compare-and-set and journals it.
// A version conflict means an external request changed the record first; the
// scheduler yields rather than overwriting it.
func (s *Scheduler) transition(ctx context.Context, job *types.Job, to types.JobStatus, reason string) error {
	from := job.Status
	job.Status = to
	if to != types.StatusPaused {
		job.PauseReason = ""
		job.ResumeAfter = nil
	}

	if err := s.store.Update(ctx, job); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return errYield
		}
		return err
	}
	s.record(job.ID, from, to, reason)
	return nil
}

// persistOutcome writes an appended item outcome. On a version conflict the
// fresh record is consulted: if it is still processing the outcome is
// reapplied on top of it, otherwise the external change wins and the item
// will be retried after resume (at-least-once).
func (s *Scheduler) persistOutcome(ctx context.Context, job *types.Job) error {
	err := s.store.Update(ctx, job)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		return err
	}

	fresh, getErr := s.store.Get(ctx, job.ID)
	if getErr != nil {
		return getErr
	}
	if fresh.Status != types.StatusProcessing {
		return errYield
	}
	last := job.Results[len(job.Results)-1]
	if !fresh.Attempted(last.ObjectID) {
		fresh.RecordOutcome(last, containsID(job.FailedIDs, last.ObjectID))
	}
	*job = *fresh
	return s.store.Update(ctx, job)
}

// markFailed moves a record to failed, preserving already-persisted partial
// results. A record that concurrently reached a terminal status is left
// alone.
func (s *Scheduler) markFailed(ctx context.Context, job *types.Job, cause error) {
	fresh, err := s.store.Get(ctx, job.ID)
	if err != nil {
		log.Error("failed to re-read job for failure marking", "job_id", job.ID, "error", err)
		return
	}
	if fresh.Status.IsTerminal() {
		return
	}
	from := fresh.Status
	fresh.Status = types.StatusFailed
	fresh.Error = cause.Error()
	fresh.PauseReason = ""
	fresh.ResumeAfter = nil
	if err := s.store.Update(ctx, fresh); err != nil {
		log.Error("failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}
	s.record(fresh.ID, from, types.StatusFailed, cause.Error())
	s.collector.RecordJobFailed()
}

func (s *Scheduler) record(id types.JobID, from, to types.JobStatus, reason string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(id, from, to, reason); err != nil {
		log.Warn("journal append failed", "job_id", id, "error", err)
	}
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
