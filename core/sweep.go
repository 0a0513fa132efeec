package core

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/internal/logx"
	"pkt.systems/tabrotor/schema"
)

// Sweep removes expired session records, stale URL usage entries and the
// state of tabs that no longer exist. Each key is rewritten whole, so a
// cancelled sweep leaves every key either updated or untouched.
func (e *Engine) Sweep(ctx context.Context) (schema.SweepResult, error) {
	var result schema.SweepResult
	now := e.now()

	sessions, err := e.Sessions(ctx)
	if err != nil {
		return result, err
	}
	sessionCutoff := now.Add(-e.cfg.SessionRetention)
	kept := sessions[:0:0]
	for _, rec := range sessions {
		if rec.Timestamp.Before(sessionCutoff) {
			continue
		}
		kept = append(kept, rec)
	}
	if removed := len(sessions) - len(kept); removed > 0 {
		if err := saveJSON(ctx, e.store, schema.KeySessionStats, kept); err != nil {
			return result, err
		}
		result.SessionsRemoved = removed
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	usage, err := e.URLUsage(ctx)
	if err != nil {
		return result, err
	}
	usageCutoff := now.Add(-e.cfg.URLStatsRetention)
	for u, entry := range usage {
		if entry.LastUsed == nil || entry.LastUsed.Before(usageCutoff) {
			delete(usage, u)
			result.URLStatsRemoved++
		}
	}
	if result.URLStatsRemoved > 0 {
		if err := saveJSON(ctx, e.store, schema.KeyURLStats, usage); err != nil {
			return result, err
		}
	}

	keys, err := e.store.Keys(ctx, schema.RotationKeyPrefix)
	if err != nil {
		return result, err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		tabID, ok := schema.ParseRotationKey(key)
		if !ok {
			continue
		}
		tabCtx := e.tabContext(ctx, tabID)
		exists, err := e.tabs.Exists(tabCtx, tabID)
		if err != nil {
			logx.Ctx(tabCtx).Warn("engine sweep tab check failed", "err", err)
			continue
		}
		if exists {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		// The alarm and the state go together or not at all.
		pairCtx := context.WithoutCancel(tabCtx)
		if err := e.timers.Clear(pairCtx, schema.AlarmName(tabID)); err != nil {
			return result, err
		}
		if err := e.deleteState(pairCtx, tabID); err != nil {
			return result, err
		}
		result.StatesRemoved++
	}
	return result, nil
}

// Executor runs fn, typically on the engine's event loop.
type Executor func(ctx context.Context, fn func(ctx context.Context) error) error

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Exec     Executor
	Logger   pslog.Logger
	Metrics  *Metrics
}

// Sweeper runs Engine.Sweep periodically. Concurrent sweeps collapse into one.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	timeout  time.Duration
	exec     Executor
	log      pslog.Logger
	metrics  *Metrics
	group    singleflight.Group
}

// NewSweeper constructs a sweeper for engine.
func NewSweeper(engine *Engine, opts SweeperOptions) *Sweeper {
	cfg := engine.Config()
	if opts.Interval <= 0 {
		opts.Interval = cfg.SweepInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cfg.SweepTimeout
	}
	if opts.Exec == nil {
		opts.Exec = func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		}
	}
	if opts.Logger == nil {
		opts.Logger = engine.log
	}
	return &Sweeper{
		engine:   engine,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		exec:     opts.Exec,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Sweep runs one sweep bounded by the sweeper timeout.
func (s *Sweeper) Sweep(ctx context.Context) (schema.SweepResult, error) {
	v, err, _ := s.group.Do("sweep", func() (any, error) {
		sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var result schema.SweepResult
		err := s.exec(sweepCtx, func(ctx context.Context) error {
			var err error
			result, err = s.engine.Sweep(ctx)
			return err
		})
		if err != nil {
			s.metrics.swept("error")
			s.log.Warn("sweep failed", "err", err)
			return result, err
		}
		s.metrics.swept("ok")
		s.log.Info("sweep complete", "sessions_removed", result.SessionsRemoved, "url_stats_removed", result.URLStatsRemoved, "states_removed", result.StatesRemoved)
		return result, nil
	})
	result, _ := v.(schema.SweepResult)
	return result, err
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Debug("sweeper start", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("sweeper stop")
			return nil
		case <-ticker.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
