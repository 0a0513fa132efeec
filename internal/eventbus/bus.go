// Package eventbus serializes engine work onto a single event loop.
//
// Commands, alarm firings, tab-closed notifications and sweeps all pass
// through one queue, so every handler runs to completion before the next one
// starts.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/schema"
)

// EventType identifies an external notification.
type EventType string

const (
	// EventAlarm carries a fired alarm name.
	EventAlarm EventType = "alarm"
	// EventTabClosed carries the id of a closed tab.
	EventTabClosed EventType = "tab_closed"
)

// ErrNoHandler indicates an event type without a registered handler.
var ErrNoHandler = errors.New("no handler registered")

// Event is an external notification delivered to the engine.
type Event struct {
	Type  EventType
	Name  string
	TabID schema.TabID
}

// Handler processes a single event.
type Handler func(ctx context.Context, event Event) error

type job struct {
	ctx   context.Context
	event *Event
	fn    func(ctx context.Context) error
	done  chan error
}

// Bus runs queued work one item at a time.
type Bus struct {
	mu       sync.Mutex
	handlers map[EventType]Handler
	queue    chan job
	log      pslog.Logger
}

// New constructs a Bus with the default queue depth.
func New(logger pslog.Logger) *Bus {
	return NewWithDepth(logger, 256)
}

// NewWithDepth constructs a Bus with a custom queue depth.
func NewWithDepth(logger pslog.Logger, depth int) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if depth <= 0 {
		depth = 1
	}
	return &Bus{
		handlers: make(map[EventType]Handler),
		queue:    make(chan job, depth),
		log:      logger,
	}
}

// On registers the handler for an event type, replacing any previous registration.
func (b *Bus) On(eventType EventType, h Handler) {
	b.mu.Lock()
	_, replaced := b.handlers[eventType]
	b.handlers[eventType] = h
	b.mu.Unlock()
	if replaced {
		b.log.Debug("eventbus handler replaced", "event", eventType)
	}
}

// Publish queues an event without waiting for it to be handled.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	ev := event
	return b.enqueue(ctx, job{ctx: context.WithoutCancel(ctx), event: &ev})
}

// Do runs fn on the event loop and waits for its result.
func (b *Bus) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("missing function")
	}
	done := make(chan error, 1)
	if err := b.enqueue(ctx, job{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued work until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	b.log.Debug("eventbus start")
	for {
		select {
		case <-ctx.Done():
			b.log.Debug("eventbus stop")
			return nil
		case j := <-b.queue:
			b.run(j)
		}
	}
}

func (b *Bus) enqueue(ctx context.Context, j job) error {
	select {
	case b.queue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run(j job) {
	if err := j.ctx.Err(); err != nil {
		if j.done != nil {
			j.done <- err
		}
		return
	}
	var err error
	if j.fn != nil {
		err = j.fn(j.ctx)
	} else {
		err = b.dispatch(j.ctx, *j.event)
	}
	if j.done != nil {
		j.done <- err
		return
	}
	if err != nil {
		b.log.Warn("eventbus handler failed", "event", j.event.Type, "err", err)
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event) error {
	b.mu.Lock()
	h := b.handlers[event.Type]
	b.mu.Unlock()
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, event.Type)
	}
	return h(ctx, event)
}
