package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pkt.systems/tabrotor/schema"
)

func TestSessionLogEvictsOldestPastCap(t *testing.T) {
	h := newHarness(t, schema.ServiceConfig{MaxSessionStats: 50}, nil)
	ctx := context.Background()
	for i := 0; i < 51; i++ {
		rec := schema.SessionRecord{ID: fmt.Sprintf("s%02d", i), TabID: schema.TabID(i), Timestamp: h.now}
		if err := h.engine.appendSession(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	sessions, err := h.engine.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 50 {
		t.Fatalf("expected 50 records, got %d", len(sessions))
	}
	if sessions[0].ID != "s01" || sessions[49].ID != "s50" {
		t.Fatalf("expected oldest dropped, got first=%s last=%s", sessions[0].ID, sessions[49].ID)
	}
}

func TestCapSessionsEvictsByPosition(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Positions, not timestamps, decide eviction.
	sessions := []schema.SessionRecord{
		{ID: "first", Timestamp: base.Add(time.Hour)},
		{ID: "second", Timestamp: base},
		{ID: "third", Timestamp: base.Add(2 * time.Hour)},
	}
	got := capSessions(sessions, 2)
	if len(got) != 2 || got[0].ID != "second" || got[1].ID != "third" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if same := capSessions(sessions, 5); len(same) != 3 {
		t.Fatalf("expected no eviction below cap")
	}
}

func TestPruneUsageKeepsMostRecent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	usage := map[string]schema.URLUsage{
		"https://old.test":    {Count: 10, LastUsed: schema.TimePtr(base)},
		"https://newest.test": {Count: 1, LastUsed: schema.TimePtr(base.Add(3 * time.Hour))},
		"https://mid.test":    {Count: 5, LastUsed: schema.TimePtr(base.Add(time.Hour))},
		"https://never.test":  {Count: 0},
	}
	removed := pruneUsage(usage, 2)
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if _, ok := usage["https://newest.test"]; !ok {
		t.Fatalf("expected newest kept: %+v", usage)
	}
	if _, ok := usage["https://mid.test"]; !ok {
		t.Fatalf("expected mid kept: %+v", usage)
	}
	if pruneUsage(usage, 2) != 0 {
		t.Fatalf("expected no pruning at cap")
	}
}

func TestRecordUsageIncrementsAndPrunes(t *testing.T) {
	h := newHarness(t, schema.ServiceConfig{MaxURLStats: 2}, nil)
	ctx := context.Background()
	for _, u := range []string{"https://a.test", "https://a.test", "https://b.test"} {
		if err := h.engine.recordUsage(ctx, []string{u}); err != nil {
			t.Fatalf("record: %v", err)
		}
		h.now = h.now.Add(time.Minute)
	}
	if err := h.engine.recordUsage(ctx, []string{"https://c.test"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	usage, _ := h.engine.URLUsage(ctx)
	if len(usage) != 2 {
		t.Fatalf("expected cap of 2, got %+v", usage)
	}
	if _, ok := usage["https://a.test"]; ok {
		t.Fatalf("expected least recently used entry evicted: %+v", usage)
	}
	if usage["https://b.test"].Count != 1 || usage["https://c.test"].Count != 1 {
		t.Fatalf("unexpected counts: %+v", usage)
	}
}
