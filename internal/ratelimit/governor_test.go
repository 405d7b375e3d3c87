package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func testGovernor(budgets map[Service]Budget) (*Governor, *time.Time) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGovernor(budgets).WithClock(func() time.Time { return current })
	return g, &current
}

func mustThrottled(t *testing.T, err error) *ThrottledError {
	t.Helper()
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	return throttled
}

func TestCheckBudgetExhaustsWindow(t *testing.T) {
	g, _ := testGovernor(map[Service]Budget{
		ServiceCatalog: {MaxCalls: 2, Window: time.Minute},
	})

	for i := 0; i < 2; i++ {
		if err := g.CheckBudget(ServiceCatalog); err != nil {
			t.Fatalf("call %d should pass: %v", i+1, err)
		}
	}

	throttled := mustThrottled(t, g.CheckBudget(ServiceCatalog))
	if throttled.Service != ServiceCatalog {
		t.Errorf("service = %s, want catalog", throttled.Service)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > time.Minute {
		t.Errorf("retry after = %s, want within the window", throttled.RetryAfter)
	}

	// The hard-throttled flag stays armed for the remainder of the window.
	mustThrottled(t, g.CheckBudget(ServiceCatalog))
}

func TestCheckBudgetWindowRollover(t *testing.T) {
	g, clock := testGovernor(map[Service]Budget{
		ServiceCatalog: {MaxCalls: 1, Window: time.Minute},
	})

	if err := g.CheckBudget(ServiceCatalog); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	mustThrottled(t, g.CheckBudget(ServiceCatalog))

	*clock = clock.Add(61 * time.Second)
	if err := g.CheckBudget(ServiceCatalog); err != nil {
		t.Fatalf("call after window rollover should pass: %v", err)
	}
}

func TestCheckBudgetIndependentServices(t *testing.T) {
	g, _ := testGovernor(map[Service]Budget{
		ServiceCatalog:  {MaxCalls: 1, Window: time.Minute},
		ServiceDescribe: {MaxCalls: 1, Window: time.Minute},
	})

	if err := g.CheckBudget(ServiceCatalog); err != nil {
		t.Fatalf("catalog call should pass: %v", err)
	}
	mustThrottled(t, g.CheckBudget(ServiceCatalog))

	// Exhausting catalog must not touch describe.
	if err := g.CheckBudget(ServiceDescribe); err != nil {
		t.Fatalf("describe call should pass: %v", err)
	}
}

func TestSetThrottledReactive(t *testing.T) {
	g, clock := testGovernor(map[Service]Budget{
		ServiceStorefront: {MaxCalls: 100, Window: time.Minute},
	})

	g.SetThrottled(ServiceStorefront, 30*time.Second)

	throttled := mustThrottled(t, g.CheckBudget(ServiceStorefront))
	if throttled.RetryAfter > 30*time.Second {
		t.Errorf("retry after = %s, want <= 30s", throttled.RetryAfter)
	}

	// A shorter reactive signal never shrinks an armed flag.
	g.SetThrottled(ServiceStorefront, 5*time.Second)
	throttled = mustThrottled(t, g.CheckBudget(ServiceStorefront))
	if throttled.RetryAfter < 25*time.Second {
		t.Errorf("retry after = %s, want the longer deadline kept", throttled.RetryAfter)
	}

	*clock = clock.Add(31 * time.Second)
	if err := g.CheckBudget(ServiceStorefront); err != nil {
		t.Fatalf("call after throttle elapsed should pass: %v", err)
	}
}

func TestRecordUsageNeverBlocks(t *testing.T) {
	g, _ := testGovernor(map[Service]Budget{
		ServiceDescribe: {MaxCalls: 100, Window: time.Minute, MaxUnits: 1000},
	})

	// Past the high-water mark and past the budget itself: calls still pass.
	g.RecordUsage(ServiceDescribe, 950)
	g.RecordUsage(ServiceDescribe, 500)
	if err := g.CheckBudget(ServiceDescribe); err != nil {
		t.Fatalf("usage volume must not fail calls: %v", err)
	}
}

func TestUnmeteredServiceAllowsCalls(t *testing.T) {
	g, _ := testGovernor(nil)

	for i := 0; i < 50; i++ {
		if err := g.CheckBudget(ServiceCatalog); err != nil {
			t.Fatalf("unmetered service should never throttle preemptively: %v", err)
		}
	}

	// Reactive throttling still applies.
	g.SetThrottled(ServiceCatalog, time.Minute)
	mustThrottled(t, g.CheckBudget(ServiceCatalog))
}

func TestThrottledFromHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		fallback time.Duration
		want     time.Duration
	}{
		{"seconds value", "120", time.Minute, 120 * time.Second},
		{"missing header", "", time.Minute, time.Minute},
		{"garbage header", "later", time.Minute, time.Minute},
		{"zero seconds", "0", time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ThrottledFromHeader(ServiceCatalog, tt.header, tt.fallback)
			throttled := mustThrottled(t, err)
			if throttled.RetryAfter != tt.want {
				t.Errorf("retry after = %s, want %s", throttled.RetryAfter, tt.want)
			}
		})
	}
}
