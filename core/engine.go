package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/internal/logx"
	"pkt.systems/tabrotor/schema"
)

// Stop reasons reported in logs and metrics.
const (
	StopReasonCommand          = "command"
	StopReasonTabClosed        = "tab_closed"
	StopReasonTabGone          = "tab_gone"
	StopReasonNavigationFailed = "navigation_failed"
	StopReasonURLsExhausted    = "urls_exhausted"
	StopReasonScheduleFailed   = "schedule_failed"
	StopReasonCleared          = "cleared"
)

// alarmSlack bounds how early a firing may arrive relative to the persisted
// next rotation time and still rotate. Alarms fire late, never early; the
// slack covers the gap between registering an alarm and stamping its deadline.
const alarmSlack = 500 * time.Millisecond

// Engine owns the per-tab rotation state machine. It keeps no state between
// calls: every operation re-reads the store. Callers serialize operations.
type Engine struct {
	cfg     schema.ServiceConfig
	store   StateStore
	timers  TimerService
	tabs    TabController
	log     pslog.Logger
	metrics *Metrics
	now     func() time.Time
	rand    func() float64
	newID   func(time.Time) string
}

// NewEngine constructs a rotation engine.
func NewEngine(cfg schema.ServiceConfig, deps EngineDeps) (*Engine, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("state store is required")
	}
	if deps.Timers == nil {
		return nil, errors.New("timer service is required")
	}
	if deps.Tabs == nil {
		return nil, errors.New("tab controller is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.Float64
	}
	if deps.NewID == nil {
		deps.NewID = func(now time.Time) string {
			return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
		}
	}
	return &Engine{
		cfg:     normalized,
		store:   deps.Store,
		timers:  deps.Timers,
		tabs:    deps.Tabs,
		log:     logger,
		metrics: deps.Metrics,
		now:     deps.Now,
		rand:    deps.Rand,
		newID:   deps.NewID,
	}, nil
}

// Config returns the normalized engine config.
func (e *Engine) Config() schema.ServiceConfig {
	return e.cfg
}

// Start begins rotating a tab. Starting a tab that is already rotating is a no-op.
func (e *Engine) Start(ctx context.Context, req schema.StartRequest) error {
	ctx, err := e.commandContext(ctx, req.TabID)
	if err != nil {
		return err
	}
	log := logx.Ctx(ctx)
	urls := schema.NormalizeURLList(req.URLs)
	if len(urls) == 0 {
		return schema.ErrNoURLs
	}
	if len(urls) > e.cfg.MaxURLs {
		return fmt.Errorf("%w: %d exceeds limit of %d", schema.ErrTooManyURLs, len(urls), e.cfg.MaxURLs)
	}
	if err := schema.ValidateTimeBounds(req.MinTime, req.MaxTime); err != nil {
		return err
	}
	current, ok, err := e.loadState(ctx, req.TabID)
	if err != nil {
		return err
	}
	if ok && current.IsRotating {
		log.Debug("engine start skipped", "reason", "already rotating")
		return nil
	}
	state := schema.RotationState{
		IsRotating: true,
		URLs:       urls,
		MinTime:    req.MinTime,
		MaxTime:    req.MaxTime,
		StartTime:  schema.TimePtr(e.now()),
	}
	if err := e.saveState(ctx, req.TabID, state); err != nil {
		return err
	}
	log.Info("engine rotation started", "urls", len(urls), "min_time", req.MinTime, "max_time", req.MaxTime)
	return e.Rotate(ctx, req.TabID)
}

// Stop halts rotation for a tab and keeps its state. Stopping an unknown tab is a no-op.
func (e *Engine) Stop(ctx context.Context, tabID schema.TabID) error {
	ctx, err := e.commandContext(ctx, tabID)
	if err != nil {
		return err
	}
	return e.stop(ctx, tabID, StopReasonCommand)
}

// OnTabClosed stops rotation for a closed tab and deletes its state.
func (e *Engine) OnTabClosed(ctx context.Context, tabID schema.TabID) error {
	ctx, err := e.commandContext(ctx, tabID)
	if err != nil {
		return err
	}
	return e.closeTab(ctx, tabID, StopReasonTabClosed)
}

// Forget stops a tab and deletes its state regardless of whether the tab is open.
func (e *Engine) Forget(ctx context.Context, tabID schema.TabID) error {
	ctx, err := e.commandContext(ctx, tabID)
	if err != nil {
		return err
	}
	return e.closeTab(ctx, tabID, StopReasonCleared)
}

// OnAlarm handles a fired rotation alarm. Names that are not rotation alarms
// are ignored, as are firings that arrive before the persisted next rotation
// time: those were queued for a schedule that a later start superseded.
func (e *Engine) OnAlarm(ctx context.Context, name string) error {
	tabID, ok := schema.ParseAlarmName(name)
	if !ok {
		logx.Ctx(ctx).Debug("engine alarm ignored", "alarm", name)
		return nil
	}
	ctx, err := e.commandContext(ctx, tabID)
	if err != nil {
		return err
	}
	state, ok, err := e.loadState(ctx, tabID)
	if err != nil {
		return err
	}
	if ok && state.IsRotating && state.NextRotationTime != nil {
		if early := state.NextRotationTime.Sub(e.now()); early > alarmSlack {
			logx.Ctx(ctx).Debug("engine alarm ignored", "alarm", name, "reason", "superseded", "early_ms", early.Milliseconds())
			return nil
		}
	}
	return e.Rotate(ctx, tabID)
}

// GetState returns the tab's rotation state, or defaults, merged with the saved URL list.
func (e *Engine) GetState(ctx context.Context, tabID schema.TabID) (schema.GetStateResponse, error) {
	state, ok, err := e.loadState(ctx, tabID)
	if err != nil {
		return schema.GetStateResponse{}, err
	}
	saved, err := e.loadSavedURLs(ctx)
	if err != nil {
		return schema.GetStateResponse{}, err
	}
	if saved == nil {
		saved = []string{}
	}
	if !ok {
		return schema.GetStateResponse{
			URLs:      []string{},
			MinTime:   e.cfg.DefaultMinTime,
			MaxTime:   e.cfg.DefaultMaxTime,
			SavedURLs: saved,
		}, nil
	}
	urls := state.URLs
	if urls == nil {
		urls = []string{}
	}
	return schema.GetStateResponse{
		IsRotating:       state.IsRotating,
		URLs:             urls,
		MinTime:          state.MinTime,
		MaxTime:          state.MaxTime,
		RotationCount:    state.RotationCount,
		LastURL:          state.LastURL,
		LastRotationTime: formatTime(state.LastRotationTime),
		NextRotationTime: formatTime(state.NextRotationTime),
		SavedURLs:        saved,
	}, nil
}

// SaveURLs persists the user's URL list and records usage for each entry.
func (e *Engine) SaveURLs(ctx context.Context, urls []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	urls = schema.NormalizeURLList(urls)
	if len(urls) > e.cfg.MaxSavedURLs {
		urls = urls[:e.cfg.MaxSavedURLs]
	}
	if err := saveJSON(ctx, e.store, schema.KeySavedURLs, urls); err != nil {
		return err
	}
	logx.Ctx(ctx).Debug("engine saved urls", "urls", len(urls))
	return e.recordUsage(ctx, urls)
}

// RestoreOnStartup re-arms every rotating tab that is still open and deletes
// state for tabs that no longer exist.
func (e *Engine) RestoreOnStartup(ctx context.Context) (schema.RestoreResult, error) {
	var result schema.RestoreResult
	states, err := ListStates(ctx, e.store)
	if err != nil {
		return result, err
	}
	for _, item := range states {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		tabCtx := e.tabContext(context.WithoutCancel(ctx), item.TabID)
		log := logx.Ctx(tabCtx)
		exists, err := e.tabs.Exists(tabCtx, item.TabID)
		if err != nil {
			// Keep the entry armed; the next rotation re-checks the tab and stops it if still unreachable.
			log.Warn("engine restore tab check failed", "err", err)
			exists = true
		}
		if !exists {
			if err := e.timers.Clear(tabCtx, schema.AlarmName(item.TabID)); err != nil {
				return result, err
			}
			if err := e.deleteState(tabCtx, item.TabID); err != nil {
				return result, err
			}
			result.Removed++
			log.Info("engine restore removed orphan", "was_rotating", item.State.IsRotating)
			continue
		}
		if !item.State.IsRotating {
			continue
		}
		if len(item.State.URLs) == 0 {
			if err := e.stopLoaded(tabCtx, item.TabID, item.State, StopReasonURLsExhausted); err != nil {
				return result, err
			}
			continue
		}
		state := item.State
		if err := e.schedule(tabCtx, item.TabID, &state); err != nil {
			return result, err
		}
		result.Restored++
		log.Info("engine restore rearmed", "next_rotation", state.NextRotationTime)
	}
	e.log.Info("engine restore complete", "restored", result.Restored, "removed", result.Removed)
	return result, nil
}

func (e *Engine) stop(ctx context.Context, tabID schema.TabID, reason string) error {
	state, ok, err := e.loadState(ctx, tabID)
	if err != nil {
		return err
	}
	if !ok {
		return e.timers.Clear(ctx, schema.AlarmName(tabID))
	}
	return e.stopLoaded(ctx, tabID, state, reason)
}

// stopLoaded applies the stop transition to a state the caller just read.
func (e *Engine) stopLoaded(ctx context.Context, tabID schema.TabID, state schema.RotationState, reason string) error {
	if err := e.timers.Clear(ctx, schema.AlarmName(tabID)); err != nil {
		return err
	}
	now := e.now()
	wasRotating := state.IsRotating
	state.IsRotating = false
	state.StopTime = schema.TimePtr(now)
	state.NextRotationTime = nil
	if err := e.saveState(ctx, tabID, state); err != nil {
		return err
	}
	if !wasRotating {
		return nil
	}
	e.metrics.stopped(reason)
	logx.Ctx(ctx).Info("engine rotation stopped", "reason", reason, "rotations", state.RotationCount)
	if state.StartTime == nil {
		return nil
	}
	return e.appendSession(ctx, schema.SessionRecord{
		ID:            e.newID(now),
		TabID:         tabID,
		Duration:      now.Sub(*state.StartTime),
		RotationCount: state.RotationCount,
		Timestamp:     now,
	})
}

func (e *Engine) closeTab(ctx context.Context, tabID schema.TabID, reason string) error {
	if err := e.stop(ctx, tabID, reason); err != nil {
		return err
	}
	if err := e.deleteState(ctx, tabID); err != nil {
		return err
	}
	logx.Ctx(ctx).Debug("engine state removed", "reason", reason)
	return nil
}

// commandContext detaches ctx from cancellation once an operation begins, so
// a caller that goes away mid-operation cannot leave a rotating state without
// its alarm.
func (e *Engine) commandContext(ctx context.Context, tabID schema.TabID) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return ctx, err
	}
	return e.tabContext(context.WithoutCancel(ctx), tabID), nil
}

func (e *Engine) tabContext(ctx context.Context, tabID schema.TabID) context.Context {
	log := logx.WithTab(ctx, tabID)
	return logx.ContextWithTabLogger(ctx, log, tabID)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
