package tabrotor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/tabrotor/core"
	"pkt.systems/tabrotor/httpapi"
	"pkt.systems/tabrotor/internal/persist"
	"pkt.systems/tabrotor/schema"
)

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(ServerConfig{}, ServerDeps{Browser: newFakeBrowser()}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New(ServerConfig{}, ServerDeps{Store: persist.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without browser")
	}
}

func TestServerRestoresRotatesAndForgetsClosedTabs(t *testing.T) {
	store := &closingStore{MemoryStore: persist.NewMemoryStore()}
	browser := newFakeBrowser(1)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)
	seed(t, store, 1, schema.RotationState{IsRotating: true, URLs: []string{"https://a.test"}, MinTime: 1, MaxTime: 2, StartTime: &start})
	seed(t, store, 2, schema.RotationState{IsRotating: true, URLs: []string{"https://b.test"}, MinTime: 1, MaxTime: 2, StartTime: &start})

	server, err := New(ServerConfig{
		HTTP:            httpapi.Config{Addr: "127.0.0.1:0"},
		AlarmResolution: 10 * time.Millisecond,
		DisableSweep:    true,
	}, ServerDeps{Store: store, Browser: browser})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := server.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, ok, err := core.LoadState(ctx, store, 2); err != nil || ok {
		t.Fatalf("expected missing tab state to be removed, got %v (%v)", ok, err)
	}
	state, ok, err := core.LoadState(ctx, store, 1)
	if err != nil || !ok || state.NextRotationTime == nil {
		t.Fatalf("expected open tab to be re-armed, got %+v (%v)", state, err)
	}

	waitFor(t, 5*time.Second, func() bool { return len(browser.visited()) > 0 })
	if got := browser.visited()[0]; got != "https://a.test" {
		t.Fatalf("unexpected navigation %q", got)
	}

	browser.closeTab(1)
	waitFor(t, 5*time.Second, func() bool {
		_, ok, err := core.LoadState(ctx, store, 1)
		return err == nil && !ok
	})

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if store.closes() != 1 || browser.closes() != 1 {
		t.Fatalf("expected one close each, got store=%d browser=%d", store.closes(), browser.closes())
	}
}

func TestServerStartFailsWhenBrowserUnavailable(t *testing.T) {
	browser := newFakeBrowser()
	browser.connectErr = errors.New("no devtools endpoint")
	server, err := New(ServerConfig{HTTP: httpapi.Config{Addr: "127.0.0.1:0"}}, ServerDeps{
		Store:   persist.NewMemoryStore(),
		Browser: browser,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := server.Start(context.Background()); !errors.Is(err, browser.connectErr) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if err := server.Wait(); err == nil {
		t.Fatalf("expected wait to report server not started")
	}
}

func TestServerRejectsSecondStart(t *testing.T) {
	server, err := New(ServerConfig{HTTP: httpapi.Config{Addr: "127.0.0.1:0"}, DisableSweep: true}, ServerDeps{
		Store:   persist.NewMemoryStore(),
		Browser: newFakeBrowser(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = server.Stop(context.Background()) }()
	if err := server.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func seed(t *testing.T, store persist.Store, tabID schema.TabID, state schema.RotationState) {
	t.Helper()
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Set(context.Background(), schema.RotationKey(tabID), data); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type closingStore struct {
	*persist.MemoryStore
	mu     sync.Mutex
	closed int
}

func (s *closingStore) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return s.MemoryStore.Close()
}

func (s *closingStore) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeBrowser struct {
	mu         sync.Mutex
	open       map[schema.TabID]bool
	urls       []string
	onClosed   func(schema.TabID)
	connectErr error
	closed     int
}

func newFakeBrowser(ids ...schema.TabID) *fakeBrowser {
	b := &fakeBrowser{open: map[schema.TabID]bool{}}
	for _, id := range ids {
		b.open[id] = true
	}
	return b
}

func (b *fakeBrowser) Connect(context.Context) error { return b.connectErr }

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
	return nil
}

func (b *fakeBrowser) Ping(context.Context) error { return nil }

func (b *fakeBrowser) OnClosed(fn func(schema.TabID)) {
	b.mu.Lock()
	b.onClosed = fn
	b.mu.Unlock()
}

func (b *fakeBrowser) Exists(_ context.Context, tabID schema.TabID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open[tabID], nil
}

func (b *fakeBrowser) Navigate(_ context.Context, tabID schema.TabID, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open[tabID] {
		return schema.ErrNavigationFailed
	}
	b.urls = append(b.urls, url)
	return nil
}

func (b *fakeBrowser) List(context.Context) ([]schema.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.TabInfo, 0, len(b.open))
	for id := range b.open {
		out = append(out, schema.TabInfo{ID: id})
	}
	return out, nil
}

func (b *fakeBrowser) closeTab(tabID schema.TabID) {
	b.mu.Lock()
	delete(b.open, tabID)
	fn := b.onClosed
	b.mu.Unlock()
	if fn != nil {
		fn(tabID)
	}
}

func (b *fakeBrowser) visited() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.urls...)
}

func (b *fakeBrowser) closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
