package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/tabrotor/schema"
)

func seedSweep(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	sessions := []schema.SessionRecord{
		{ID: "expired", Timestamp: h.now.Add(-8 * 24 * time.Hour)},
		{ID: "recent", Timestamp: h.now.Add(-time.Hour)},
	}
	if err := saveJSON(ctx, h.store, schema.KeySessionStats, sessions); err != nil {
		t.Fatalf("seed sessions: %v", err)
	}
	usage := map[string]schema.URLUsage{
		"https://stale.test": {Count: 3, LastUsed: schema.TimePtr(h.now.Add(-31 * 24 * time.Hour))},
		"https://fresh.test": {Count: 1, LastUsed: schema.TimePtr(h.now.Add(-24 * time.Hour))},
	}
	if err := saveJSON(ctx, h.store, schema.KeyURLStats, usage); err != nil {
		t.Fatalf("seed usage: %v", err)
	}
	for _, id := range []schema.TabID{1, 2} {
		state := schema.RotationState{URLs: []string{"https://a.test"}, MinTime: 5, MaxTime: 10}
		if err := h.engine.saveState(ctx, id, state); err != nil {
			t.Fatalf("seed state: %v", err)
		}
	}
}

func TestSweepRemovesExpiredData(t *testing.T) {
	h := newHarness(t, schema.ServiceConfig{}, nil, 1)
	seedSweep(t, h)
	ctx := context.Background()
	result, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	want := schema.SweepResult{SessionsRemoved: 1, URLStatsRemoved: 1, StatesRemoved: 1}
	if result != want {
		t.Fatalf("expected %+v, got %+v", want, result)
	}
	sessions, _ := h.engine.Sessions(ctx)
	if len(sessions) != 1 || sessions[0].ID != "recent" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	usage, _ := h.engine.URLUsage(ctx)
	if _, ok := usage["https://fresh.test"]; !ok || len(usage) != 1 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if _, ok := h.state(t, 1); !ok {
		t.Fatalf("expected open tab state kept")
	}
	if _, ok := h.state(t, 2); ok {
		t.Fatalf("expected closed tab state removed")
	}

	again, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again != (schema.SweepResult{}) {
		t.Fatalf("expected second sweep to be a no-op, got %+v", again)
	}
}

func TestSweepStopsOnCanceledContext(t *testing.T) {
	h := newHarness(t, schema.ServiceConfig{}, nil, 1)
	seedSweep(t, h)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.engine.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	sessions, err := h.engine.Sessions(context.Background())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected untouched session log, got %+v", sessions)
	}
}

func TestSweepFinishesRemovalInProgress(t *testing.T) {
	h := newHarness(t, schema.ServiceConfig{}, nil)
	seedSweep(t, h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.timers.onClear = cancel
	result, err := h.engine.Sweep(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if result.StatesRemoved != 1 {
		t.Fatalf("expected the interrupted removal to complete, got %+v", result)
	}
	states, err := ListStates(context.Background(), h.store)
	if err != nil {
		t.Fatalf("list states: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected one state left for the next sweep, got %+v", states)
	}
	if len(h.timers.clears) != 1 || h.timers.clears[0] == schema.AlarmName(states[0].TabID) {
		t.Fatalf("expected only the removed tab's alarm cleared, got %v", h.timers.clears)
	}
}

func TestSweeperCollapsesConcurrentCalls(t *testing.T) {
	h := newHarness(t, schema.ServiceConfig{}, nil, 1)
	seedSweep(t, h)
	var runs atomic.Int32
	release := make(chan struct{})
	sweeper := NewSweeper(h.engine, SweeperOptions{
		Timeout: time.Second,
		Metrics: h.metrics,
		Exec: func(ctx context.Context, fn func(ctx context.Context) error) error {
			runs.Add(1)
			<-release
			return fn(ctx)
		},
	})
	var wg sync.WaitGroup
	results := make([]schema.SweepResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := sweeper.Sweep(context.Background())
			if err != nil {
				t.Errorf("sweep: %v", err)
			}
			results[i] = res
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected one sweep execution, got %d", got)
	}
	if results[0] != results[1] || results[0].StatesRemoved != 1 {
		t.Fatalf("expected shared result, got %+v", results)
	}
	if got := counterValue(h.metrics.sweeps.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected one sweep metric, got %v", got)
	}
}

func TestSweeperTimeout(t *testing.T) {
	h := newHarness(t, schema.ServiceConfig{}, nil)
	sweeper := NewSweeper(h.engine, SweeperOptions{
		Timeout: 10 * time.Millisecond,
		Metrics: h.metrics,
		Exec: func(ctx context.Context, fn func(ctx context.Context) error) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if _, err := sweeper.Sweep(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := counterValue(h.metrics.sweeps.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected error metric, got %v", got)
	}
}
