package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"pkt.systems/tabrotor/schema"
)

// TabState pairs a tab id with its persisted rotation state.
type TabState struct {
	TabID schema.TabID         `json:"tabId"`
	State schema.RotationState `json:"state"`
}

func loadJSON(ctx context.Context, store StateStore, key string, dst any) (bool, error) {
	data, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func saveJSON(ctx context.Context, store StateStore, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Set(ctx, key, data)
}

// LoadState reads the rotation state for a tab.
func LoadState(ctx context.Context, store StateStore, tabID schema.TabID) (schema.RotationState, bool, error) {
	var state schema.RotationState
	ok, err := loadJSON(ctx, store, schema.RotationKey(tabID), &state)
	if err != nil || !ok {
		return schema.RotationState{}, false, err
	}
	return state, true, nil
}

// ListStates returns every persisted rotation state ordered by tab id.
func ListStates(ctx context.Context, store StateStore) ([]TabState, error) {
	keys, err := store.Keys(ctx, schema.RotationKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]TabState, 0, len(keys))
	for _, key := range keys {
		tabID, ok := schema.ParseRotationKey(key)
		if !ok {
			continue
		}
		state, ok, err := LoadState(ctx, store, tabID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, TabState{TabID: tabID, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out, nil
}

func (e *Engine) loadState(ctx context.Context, tabID schema.TabID) (schema.RotationState, bool, error) {
	return LoadState(ctx, e.store, tabID)
}

func (e *Engine) saveState(ctx context.Context, tabID schema.TabID, state schema.RotationState) error {
	return saveJSON(ctx, e.store, schema.RotationKey(tabID), state)
}

func (e *Engine) deleteState(ctx context.Context, tabID schema.TabID) error {
	return e.store.Remove(ctx, schema.RotationKey(tabID))
}

func (e *Engine) loadSavedURLs(ctx context.Context) ([]string, error) {
	var urls []string
	if _, err := loadJSON(ctx, e.store, schema.KeySavedURLs, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}
