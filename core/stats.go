package core

import (
	"context"
	"sort"

	"pkt.systems/tabrotor/schema"
)

func (e *Engine) recordUsage(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	usage := map[string]schema.URLUsage{}
	if _, err := loadJSON(ctx, e.store, schema.KeyURLStats, &usage); err != nil {
		return err
	}
	if usage == nil {
		usage = map[string]schema.URLUsage{}
	}
	now := e.now()
	for _, u := range urls {
		entry := usage[u]
		entry.Count++
		entry.LastUsed = schema.TimePtr(now)
		usage[u] = entry
	}
	pruneUsage(usage, e.cfg.MaxURLStats)
	return saveJSON(ctx, e.store, schema.KeyURLStats, usage)
}

func (e *Engine) appendSession(ctx context.Context, record schema.SessionRecord) error {
	var sessions []schema.SessionRecord
	if _, err := loadJSON(ctx, e.store, schema.KeySessionStats, &sessions); err != nil {
		return err
	}
	sessions = capSessions(append(sessions, record), e.cfg.MaxSessionStats)
	return saveJSON(ctx, e.store, schema.KeySessionStats, sessions)
}

// Sessions returns the recorded session log, oldest first.
func (e *Engine) Sessions(ctx context.Context) ([]schema.SessionRecord, error) {
	var sessions []schema.SessionRecord
	if _, err := loadJSON(ctx, e.store, schema.KeySessionStats, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// URLUsage returns the URL usage map.
func (e *Engine) URLUsage(ctx context.Context) (map[string]schema.URLUsage, error) {
	usage := map[string]schema.URLUsage{}
	if _, err := loadJSON(ctx, e.store, schema.KeyURLStats, &usage); err != nil {
		return nil, err
	}
	return usage, nil
}

// pruneUsage keeps the limit most recently used entries. Entries never used sort last.
func pruneUsage(usage map[string]schema.URLUsage, limit int) int {
	if limit <= 0 || len(usage) <= limit {
		return 0
	}
	keys := make([]string, 0, len(usage))
	for k := range usage {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := usage[keys[i]].LastUsed, usage[keys[j]].LastUsed
		switch {
		case a == nil && b == nil:
			return keys[i] < keys[j]
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return keys[i] < keys[j]
		default:
			return a.After(*b)
		}
	})
	for _, k := range keys[limit:] {
		delete(usage, k)
	}
	return len(keys) - limit
}

// capSessions drops the oldest prefix so at most limit records remain.
func capSessions(sessions []schema.SessionRecord, limit int) []schema.SessionRecord {
	if limit <= 0 || len(sessions) <= limit {
		return sessions
	}
	return append([]schema.SessionRecord(nil), sessions[len(sessions)-limit:]...)
}
