// Package alarm provides named one-shot alarms keyed to wall-clock deadlines.
//
// Deadlines are compared against the wall clock on every wake-up, so an alarm
// whose deadline passed while the host was suspended fires on the first check
// after resume rather than after the remaining monotonic duration.
package alarm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"pkt.systems/pslog"
)

// DefaultResolution bounds how late an alarm may fire after a suspend.
const DefaultResolution = time.Second

// ErrInvalidName indicates an empty alarm name.
var ErrInvalidName = errors.New("alarm name is required")

// Handler receives the name of a fired alarm.
type Handler func(name string)

// Options configures a Scheduler.
type Options struct {
	Resolution time.Duration
	Now        func() time.Time
	Logger     pslog.Logger
}

// Alarm describes a pending alarm.
type Alarm struct {
	Name string
	When time.Time
}

type entry struct {
	when time.Time
	seq  uint64
}

// Scheduler holds at most one pending alarm per name.
type Scheduler struct {
	alarms     cmap.ConcurrentMap[string, entry]
	seq        atomic.Uint64
	resolution time.Duration
	now        func() time.Time
	log        pslog.Logger
	wake       chan struct{}

	mu      sync.Mutex
	handler Handler
}

// New constructs a scheduler. Call Run to start delivering alarms.
func New(opts Options) *Scheduler {
	if opts.Resolution <= 0 {
		opts.Resolution = DefaultResolution
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Scheduler{
		alarms:     cmap.New[entry](),
		resolution: opts.Resolution,
		now:        opts.Now,
		log:        logger,
		wake:       make(chan struct{}, 1),
	}
}

// SetHandler registers the alarm handler, replacing any previous registration.
func (s *Scheduler) SetHandler(h Handler) {
	s.mu.Lock()
	replaced := s.handler != nil
	s.handler = h
	s.mu.Unlock()
	if replaced {
		s.log.Debug("alarm handler replaced")
	}
}

// Create registers name to fire once after delay, superseding any pending alarm with the same name.
func (s *Scheduler) Create(ctx context.Context, name string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return ErrInvalidName
	}
	if delay < 0 {
		delay = 0
	}
	when := s.wallNow().Add(delay)
	s.alarms.Set(name, entry{when: when, seq: s.seq.Add(1)})
	s.log.Trace("alarm create", "alarm", name, "delay_ms", delay.Milliseconds())
	s.signal()
	return nil
}

// Clear cancels the pending alarm for name. Clearing a missing alarm is a no-op.
func (s *Scheduler) Clear(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := s.alarms.Pop(name); ok {
		s.log.Trace("alarm clear", "alarm", name)
	}
	return nil
}

// Get returns the deadline of the pending alarm for name.
func (s *Scheduler) Get(name string) (time.Time, bool) {
	e, ok := s.alarms.Get(name)
	if !ok {
		return time.Time{}, false
	}
	return e.when, true
}

// List returns all pending alarms ordered by deadline.
func (s *Scheduler) List() []Alarm {
	items := s.alarms.Items()
	out := make([]Alarm, 0, len(items))
	for name, e := range items {
		out = append(out, Alarm{Name: name, When: e.when})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].When.Equal(out[j].When) {
			return out[i].Name < out[j].Name
		}
		return out[i].When.Before(out[j].When)
	})
	return out
}

// Run delivers due alarms until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Debug("alarm scheduler start", "resolution_ms", s.resolution.Milliseconds())
	timer := time.NewTimer(s.resolution)
	defer timer.Stop()
	for {
		s.fireDue()
		wait := s.resolution
		if next, ok := s.nextDeadline(); ok {
			if until := next.Sub(s.wallNow()); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			s.log.Debug("alarm scheduler stop")
			return nil
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.wallNow()
	var due []string
	for name, e := range s.alarms.Items() {
		if e.when.After(now) {
			continue
		}
		seq := e.seq
		removed := s.alarms.RemoveCb(name, func(_ string, current entry, exists bool) bool {
			return exists && current.seq == seq
		})
		if removed {
			due = append(due, name)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.Strings(due)
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	for _, name := range due {
		if handler == nil {
			s.log.Warn("alarm dropped", "alarm", name, "reason", "no handler")
			continue
		}
		s.log.Trace("alarm fire", "alarm", name)
		handler(name)
	}
}

func (s *Scheduler) nextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	for _, e := range s.alarms.Items() {
		if !found || e.when.Before(next) {
			next = e.when
			found = true
		}
	}
	return next, found
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// wallNow strips the monotonic reading so comparisons follow the wall clock.
func (s *Scheduler) wallNow() time.Time {
	return s.now().Round(0)
}
