package core

import (
	"context"
	"math"
	"time"

	"pkt.systems/tabrotor/internal/logx"
	"pkt.systems/tabrotor/schema"
)

// Rotate navigates the tab to a randomly chosen URL and schedules the next tick.
// A tab that is not rotating is left untouched.
func (e *Engine) Rotate(ctx context.Context, tabID schema.TabID) error {
	log := logx.Ctx(ctx)
	state, ok, err := e.loadState(ctx, tabID)
	if err != nil {
		return err
	}
	if !ok || !state.IsRotating || len(state.URLs) == 0 {
		log.Debug("engine rotate skipped", "reason", "not rotating")
		return nil
	}

	exists, err := e.tabs.Exists(ctx, tabID)
	if err != nil {
		log.Warn("engine tab check failed", "err", err)
		exists = false
	}
	if !exists {
		return e.closeTab(ctx, tabID, StopReasonTabGone)
	}

	index := e.pick(len(state.URLs))
	target := state.URLs[index]
	if err := schema.ValidateURL(target); err != nil {
		state.URLs = removeAt(state.URLs, index)
		e.metrics.urlPruned()
		logx.WithURL(log, target).Warn("engine url pruned", "remaining", len(state.URLs))
		if len(state.URLs) == 0 {
			return e.stopLoaded(ctx, tabID, state, StopReasonURLsExhausted)
		}
		if err := e.saveState(ctx, tabID, state); err != nil {
			return err
		}
		return e.schedule(ctx, tabID, &state)
	}

	if err := e.tabs.Navigate(ctx, tabID, target); err != nil {
		logx.WithURL(log, target).Warn("engine navigate failed", "err", err)
		return e.stopLoaded(ctx, tabID, state, StopReasonNavigationFailed)
	}
	now := e.now()
	state.RotationCount++
	state.LastRotationTime = schema.TimePtr(now)
	state.LastURL = target
	if err := e.saveState(ctx, tabID, state); err != nil {
		return err
	}
	e.metrics.rotated()
	logx.WithURL(log, target).Info("engine rotate ok", "rotations", state.RotationCount)
	if err := e.recordUsage(ctx, []string{target}); err != nil {
		log.Warn("engine url usage update failed", "err", err)
	}
	return e.schedule(ctx, tabID, &state)
}

// schedule registers the next tick and persists its deadline. A failed
// registration stops the tab so no rotating state is left without a timer.
func (e *Engine) schedule(ctx context.Context, tabID schema.TabID, state *schema.RotationState) error {
	delay := e.delay(state.MinTime, state.MaxTime)
	if err := e.timers.Create(ctx, schema.AlarmName(tabID), delay); err != nil {
		logx.Ctx(ctx).Warn("engine schedule failed", "err", err)
		if stopErr := e.stopLoaded(ctx, tabID, *state, StopReasonScheduleFailed); stopErr != nil {
			return stopErr
		}
		return err
	}
	state.NextRotationTime = schema.TimePtr(e.now().Add(delay))
	if err := e.saveState(ctx, tabID, *state); err != nil {
		return err
	}
	logx.Ctx(ctx).Debug("engine next rotation scheduled", "delay_s", int(delay/time.Second))
	return nil
}

// pick returns floor(rand * n).
func (e *Engine) pick(n int) int {
	index := int(math.Floor(e.rand() * float64(n)))
	if index >= n {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

// delay draws uniformly from [minTime, maxTime] seconds, both ends inclusive.
func (e *Engine) delay(minTime, maxTime int) time.Duration {
	seconds := e.pick(maxTime-minTime+1) + minTime
	return time.Duration(seconds) * time.Second
}

func removeAt(urls []string, index int) []string {
	out := make([]string, 0, len(urls)-1)
	out = append(out, urls[:index]...)
	return append(out, urls[index+1:]...)
}
