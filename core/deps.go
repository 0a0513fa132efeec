package core

import (
	"context"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/schema"
)

// StateStore is the durable key/value store holding all rotation state.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// TimerService registers named one-shot alarms.
type TimerService interface {
	Create(ctx context.Context, name string, delay time.Duration) error
	Clear(ctx context.Context, name string) error
}

// TabController inspects and drives browser tabs.
type TabController interface {
	Exists(ctx context.Context, tabID schema.TabID) (bool, error)
	Navigate(ctx context.Context, tabID schema.TabID, url string) error
}

// EngineDeps captures the collaborators of the rotation engine.
type EngineDeps struct {
	Store   StateStore
	Timers  TimerService
	Tabs    TabController
	Logger  pslog.Logger
	Metrics *Metrics
	// Now defaults to time.Now.
	Now func() time.Time
	// Rand returns a float in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
	// NewID returns a session record id. Defaults to a ULID.
	NewID func(now time.Time) string
}
