package diagnostics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memento-core/daemon/internal/diagnostics"
	"github.com/memento-core/daemon/pkg/types"
)

func TestCollectorRecordRequestExposesMetrics(t *testing.T) {
	c := diagnostics.NewCollector()
	c.RecordRequest("/api/recall", "claude-code", diagnostics.OpRecall, 200, 12*time.Millisecond)
	c.RecordRequest("/api/recall", "claude-code", diagnostics.OpRecall, 500, 40*time.Millisecond)

	stats := c.LatencyStats()
	byKey := map[string]diagnostics.LatencyStats{}
	for _, s := range stats {
		byKey[s.Key] = s
	}
	recall, ok := byKey[string(diagnostics.OpRecall)]
	if !ok {
		t.Fatalf("expected a %q latency entry, got keys %v", diagnostics.OpRecall, byKey)
	}
	if recall.Count != 2 {
		t.Errorf("recall.Count = %d, want 2", recall.Count)
	}
	if _, ok := byKey["endpoint:/api/recall"]; !ok {
		t.Error("expected an endpoint-keyed latency entry alongside the op-kind one")
	}
}

func TestCollectorRecordProviderCallTracksErrorsAndAvailability(t *testing.T) {
	c := diagnostics.NewCollector()
	c.RecordProviderCall("ollama", diagnostics.OutcomeSuccess, 5*time.Millisecond, nil)
	c.RecordProviderCall("ollama", diagnostics.OutcomeTimeout, 5*time.Millisecond, errors.New("timeout"))

	errs := c.RecentErrors(10)
	if len(errs) != 1 {
		t.Fatalf("RecentErrors len = %d, want 1", len(errs))
	}
	if errs[0].Actor != "ollama" {
		t.Errorf("actor = %q, want ollama", errs[0].Actor)
	}

	stats := c.ProviderStats("ollama")
	if stats.Samples != 2 || stats.Successes != 1 || stats.Timeouts != 1 {
		t.Fatalf("stats = %+v, want 2 samples, 1 success, 1 timeout", stats)
	}
	if stats.AvailabilityRate != 0.5 {
		t.Errorf("availability = %v, want 0.5", stats.AvailabilityRate)
	}
}

func TestProviderScorerForcesUnhealthyWhenBreakerOpen(t *testing.T) {
	c := diagnostics.NewCollector()
	c.RecordProviderCall("openai", diagnostics.OutcomeSuccess, time.Millisecond, nil)
	c.SetBreakerState("openai", diagnostics.BreakerOpen)

	c.Health().Register(diagnostics.DomainProvider, c.ProviderScorer())
	domains, overall := c.CheckHealth(context.Background())
	if overall != diagnostics.StatusUnhealthy {
		t.Errorf("overall = %v, want unhealthy with an open breaker", overall)
	}
	for _, d := range domains {
		if d.Domain == diagnostics.DomainProvider && d.Status != diagnostics.StatusUnhealthy {
			t.Errorf("provider domain status = %v, want unhealthy", d.Status)
		}
	}
}

func TestHealthCompositeRollsUpWorstStatus(t *testing.T) {
	c := diagnostics.NewCollector()
	c.Health().Register(diagnostics.DomainQueue, func(ctx context.Context) (diagnostics.HealthStatus, string, error) {
		return diagnostics.StatusHealthy, "", nil
	})
	c.Health().Register(diagnostics.DomainStorage, func(ctx context.Context) (diagnostics.HealthStatus, string, error) {
		return "", "", errors.New("disk full")
	})

	domains, overall := c.CheckHealth(context.Background())
	if overall != diagnostics.StatusUnhealthy {
		t.Errorf("overall = %v, want unhealthy", overall)
	}

	var sawStorage, sawIndex bool
	for _, d := range domains {
		if d.Domain == diagnostics.DomainStorage {
			sawStorage = true
			if d.Status != diagnostics.StatusUnhealthy {
				t.Errorf("storage status = %v, want unhealthy", d.Status)
			}
		}
		if d.Domain == diagnostics.DomainIndex {
			sawIndex = true
			if d.Status != diagnostics.StatusDegraded {
				t.Errorf("unregistered index status = %v, want degraded", d.Status)
			}
		}
	}
	if !sawStorage || !sawIndex {
		t.Fatal("expected both a registered and unregistered domain in results")
	}
}

func TestHealthCompositeAllHealthy(t *testing.T) {
	c := diagnostics.NewCollector()
	ok := func(ctx context.Context) (diagnostics.HealthStatus, string, error) {
		return diagnostics.StatusHealthy, "", nil
	}
	c.Health().Register(diagnostics.DomainQueue, ok)
	c.Health().Register(diagnostics.DomainStorage, ok)
	c.Health().Register(diagnostics.DomainIndex, ok)
	c.Health().Register(diagnostics.DomainProvider, ok)
	c.Health().Register(diagnostics.DomainMutation, ok)

	_, overall := c.CheckHealth(context.Background())
	if overall != diagnostics.StatusHealthy {
		t.Errorf("overall = %v, want healthy", overall)
	}
}

func TestResetClearsErrorsAndLatencyButNotState(t *testing.T) {
	c := diagnostics.NewCollector()
	c.RecordRequest("/api/remember", "harness", diagnostics.OpRemember, 200, time.Millisecond)
	c.RecordError(diagnostics.ErrorEvent{Stage: diagnostics.StageMutation, Message: "boom"})

	c.Reset()

	if len(c.LatencyStats()) != 0 {
		t.Errorf("expected no latency stats after Reset, got %v", c.LatencyStats())
	}
	if len(c.RecentErrors(10)) != 0 {
		t.Error("expected no recent errors after Reset")
	}
}

func TestBuildTimelineOrdersDescendingAndRespectsLimit(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []types.HistoryEntry{
		{MemoryID: "m1", Event: "created", CreatedAt: base},
	}
	leasedAt := base.Add(1 * time.Minute)
	completedAt := base.Add(2 * time.Minute)
	jobs := []types.Job{
		{ID: "j1", MemoryID: "m1", JobType: types.JobExtract, CreatedAt: base.Add(30 * time.Second), LeasedAt: &leasedAt, CompletedAt: &completedAt},
	}
	logs := []diagnostics.LogLine{{Time: base.Add(90 * time.Second), Message: "worker started"}}
	errs := []diagnostics.ErrorEvent{{Time: base.Add(3 * time.Minute), Stage: diagnostics.StageMutation, Message: "lease expired"}}

	events := diagnostics.BuildTimeline(history, jobs, logs, errs, 3)
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3 (limit applied)", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Time.After(events[i-1].Time) {
			t.Fatalf("events not descending at index %d", i)
		}
	}
	if events[0].Kind != diagnostics.TimelineError {
		t.Errorf("newest event kind = %v, want error", events[0].Kind)
	}
}

func TestBuildTimelineForIDScopesToMatchingMemoryAndOrdersAscending(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []types.HistoryEntry{
		{MemoryID: "m1", Event: "created", CreatedAt: base},
		{MemoryID: "other", Event: "created", CreatedAt: base.Add(10 * time.Second)},
	}
	jobs := []types.Job{
		{ID: "j1", MemoryID: "m1", JobType: types.JobExtract, CreatedAt: base.Add(1 * time.Minute)},
		{ID: "j2", MemoryID: "other", JobType: types.JobExtract, CreatedAt: base.Add(2 * time.Minute)},
	}
	errs := []diagnostics.ErrorEvent{{Time: base.Add(90 * time.Second), Stage: diagnostics.StageMutation, Message: "boom", MemoryID: "m1"}}

	events := diagnostics.BuildTimelineForID("m1", history, jobs, nil, errs)
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3, got %+v", len(events), events)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Time.Before(events[i-1].Time) {
			t.Fatalf("events not ascending at index %d", i)
		}
	}
}
