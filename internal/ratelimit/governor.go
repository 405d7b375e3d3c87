// ============================================================================
// Rate Governor - per-service request budgets
// ============================================================================
//
// Package: internal/ratelimit
// Purpose: Track usage of each external service against a fixed time window
// budget and surface throttling as a distinct, recoverable signal.
//
// Two throttling paths:
//   1. Preemptive: the window's call counter reaches capacity; the governor
//      arms a hard-throttled flag for the remainder of the window.
//   2. Reactive: a collaborator surfaces an upstream throttle (e.g. a 429
//      with Retry-After) and arms the flag directly via SetThrottled.
//
// All state is in-process and per-service. A process restart resets every
// budget to zero; durability of job progress lives in the store, not here.
//
// ============================================================================

package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var log = slog.Default()

// Service names an external collaborator metered by the governor.
type Service string

const (
	ServiceCatalog    Service = "catalog"
	ServiceDescribe   Service = "describe"
	ServiceStorefront Service = "storefront"
)

// ThrottledError signals that a service must not be called until RetryAfter
// has elapsed. Callers distinguish it from item failures with errors.As.
type ThrottledError struct {
	Service    Service
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("service %s throttled, retry after %s", e.Service, e.RetryAfter)
}

// Budget is the per-window allowance for one service.
type Budget struct {
	MaxCalls int           // calls per window; 0 = unlimited
	Window   time.Duration // window length
	MaxUnits float64       // consumption volume per window; 0 = not metered
}

// usageWarnRatio is the high-water mark past which RecordUsage logs a warning.
const usageWarnRatio = 0.9

type serviceWindow struct {
	budget         Budget
	windowStart    time.Time
	calls          int
	units          float64
	throttledUntil time.Time
	usageWarned    bool
}

// Governor tracks per-service usage. Safe for concurrent use, although the
// engine's single-job design means calls arrive sequentially in practice.
type Governor struct {
	mu       sync.Mutex
	now      func() time.Time
	services map[Service]*serviceWindow
}

// NewGovernor creates a governor with the given budgets. Services without a
// budget entry are unmetered but can still be hard-throttled reactively.
func NewGovernor(budgets map[Service]Budget) *Governor {
	g := &Governor{
		now:      time.Now,
		services: make(map[Service]*serviceWindow, len(budgets)),
	}
	for svc, b := range budgets {
		g.services[svc] = &serviceWindow{budget: b}
	}
	return g
}

// WithClock overrides the governor's clock. Test hook.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

// CheckBudget must succeed before each external call. It fails with a
// ThrottledError if the hard-throttled flag is active or if the window's
// counter is at capacity (arming the flag for the remaining window duration).
// Otherwise it counts the call and succeeds.
func (g *Governor) CheckBudget(svc Service) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w := g.window(svc, now)

	if w.throttledUntil.After(now) {
		return &ThrottledError{Service: svc, RetryAfter: w.throttledUntil.Sub(now)}
	}

	if w.budget.MaxCalls > 0 && w.calls >= w.budget.MaxCalls {
		w.throttledUntil = w.windowStart.Add(w.budget.Window)
		retry := w.throttledUntil.Sub(now)
		log.Warn("rate budget exhausted",
			"service", svc,
			"calls", w.calls,
			"retry_after", retry)
		return &ThrottledError{Service: svc, RetryAfter: retry}
	}

	w.calls++
	return nil
}

// RecordUsage adds consumption volume for services metered by units (e.g.
// generation tokens) rather than call count. It never fails the call; past
// the high-water mark it logs a warning once per window.
func (g *Governor) RecordUsage(svc Service, units float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	w := g.window(svc, g.now())
	w.units += units

	if w.budget.MaxUnits > 0 && !w.usageWarned && w.units >= usageWarnRatio*w.budget.MaxUnits {
		w.usageWarned = true
		log.Warn("usage high-water mark reached",
			"service", svc,
			"units", w.units,
			"budget", w.budget.MaxUnits)
	}
}

// SetThrottled arms the hard-throttled flag directly, bypassing the counter
// path. Called when a collaborator surfaces an upstream throttle signal.
func (g *Governor) SetThrottled(svc Service, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.now().Add(d)
	w := g.window(svc, g.now())
	if until.After(w.throttledUntil) {
		w.throttledUntil = until
	}
	log.Warn("service hard-throttled", "service", svc, "duration", d)
}

// window returns the service's window, rolling it over if it has elapsed.
// Caller holds g.mu.
func (g *Governor) window(svc Service, now time.Time) *serviceWindow {
	w, ok := g.services[svc]
	if !ok {
		w = &serviceWindow{}
		g.services[svc] = w
	}
	if w.windowStart.IsZero() {
		w.windowStart = now
		return w
	}
	if w.budget.Window > 0 && now.Sub(w.windowStart) >= w.budget.Window {
		w.windowStart = now
		w.calls = 0
		w.units = 0
		w.usageWarned = false
	}
	return w
}
