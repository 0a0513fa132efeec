// Package browser drives Chrome tabs over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/schema"
)

const (
	defaultNavigateTimeout = 30 * time.Second
	defaultConnectTimeout  = time.Minute
	defaultListTimeout     = 10 * time.Second
)

// ErrNotConnected indicates the controller has no browser session.
var ErrNotConnected = errors.New("browser not connected")

// Options configures a Controller.
type Options struct {
	// RemoteURL is a DevTools websocket or http endpoint. Empty launches a local Chrome.
	RemoteURL       string
	ExecPath        string
	UserDataDir     string
	Headless        bool
	Flags           map[string]any
	NavigateTimeout time.Duration
	ConnectTimeout  time.Duration
	Logger          pslog.Logger
}

// Controller lists, inspects and navigates browser tabs.
type Controller struct {
	opts Options
	log  pslog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[target.ID]tabSession
	onClosed      func(schema.TabID)
}

type tabSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Controller. Call Connect before use.
func New(opts Options) *Controller {
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = defaultNavigateTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Controller{
		opts: opts,
		log:  logger,
		tabs: make(map[target.ID]tabSession),
	}
}

// OnClosed registers the tab-closed callback, replacing any previous registration.
func (c *Controller) OnClosed(fn func(schema.TabID)) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// Connect attaches to the browser, retrying with exponential backoff.
func (c *Controller) Connect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = c.opts.ConnectTimeout
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return c.connectOnce()
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		c.log.Warn("browser connect retry", "attempt", attempt, "wait_ms", wait.Milliseconds(), "err", err)
	})
	if err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	c.log.Info("browser connected", "remote", c.opts.RemoteURL != "", "attempts", attempt)
	return nil
}

func (c *Controller) connectOnce() error {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if c.opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), c.opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), c.execOptions()...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	chromedp.ListenBrowser(browserCtx, c.handleEvent)
	// Targets allocates the browser connection without attaching a page, so
	// connecting never opens a tab. chromedp.Run would create one.
	if err := c.discover(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return err
	}

	c.mu.Lock()
	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	c.mu.Unlock()
	return nil
}

// discover allocates the browser on browserCtx itself: the allocation is
// bound to the context it runs on, so it must not carry a timeout.
func (c *Controller) discover(browserCtx context.Context) error {
	if _, err := chromedp.Targets(browserCtx); err != nil {
		return err
	}
	b := chromedp.FromContext(browserCtx).Browser
	if b == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(browserCtx, defaultListTimeout)
	defer cancel()
	return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, b))
}

func (c *Controller) execOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", c.opts.Headless))
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.opts.UserDataDir))
	}
	for name, value := range c.opts.Flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

func (c *Controller) handleEvent(ev any) {
	destroyed, ok := ev.(*target.EventTargetDestroyed)
	if !ok {
		return
	}
	id := TabIDFor(destroyed.TargetID)
	c.mu.Lock()
	session, cached := c.tabs[destroyed.TargetID]
	delete(c.tabs, destroyed.TargetID)
	fn := c.onClosed
	c.mu.Unlock()
	if cached {
		session.cancel()
	}
	c.log.Debug("browser tab destroyed", "tab", int64(id))
	if fn != nil {
		// Listener callbacks run on the DevTools read loop and must not block.
		go fn(id)
	}
}

// Close releases the browser session. A remote browser is left running with its tabs open.
func (c *Controller) Close() error {
	c.mu.Lock()
	browserCancel := c.browserCancel
	allocCancel := c.allocCancel
	remote := c.opts.RemoteURL != ""
	c.browserCtx = nil
	c.browserCancel = nil
	c.allocCancel = nil
	c.tabs = make(map[target.ID]tabSession)
	c.mu.Unlock()
	if browserCancel == nil {
		return nil
	}
	if remote {
		// Cancelling would close the tabs this session attached to.
		c.log.Debug("browser detach", "remote", true)
		return nil
	}
	browserCancel()
	allocCancel()
	c.log.Debug("browser closed")
	return nil
}

func (c *Controller) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx == nil {
		return nil, ErrNotConnected
	}
	return c.browserCtx, nil
}

func (c *Controller) pages(ctx context.Context) ([]*target.Info, error) {
	browserCtx, err := c.browser()
	if err != nil {
		return nil, err
	}
	listCtx, cancel := context.WithTimeout(browserCtx, defaultListTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]*target.Info, 0, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			out = append(out, info)
		}
	}
	return out, nil
}

// List returns every open page tab.
func (c *Controller) List(ctx context.Context) ([]schema.TabInfo, error) {
	infos, err := c.pages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schema.TabInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, schema.TabInfo{ID: TabIDFor(info.TargetID), URL: info.URL, Title: info.Title})
	}
	return out, nil
}

// Ping verifies the browser answers a target listing.
func (c *Controller) Ping(ctx context.Context) error {
	_, err := c.pages(ctx)
	return err
}

// Exists reports whether the tab is open.
func (c *Controller) Exists(ctx context.Context, tabID schema.TabID) (bool, error) {
	_, ok, err := c.resolve(ctx, tabID)
	return ok, err
}

func (c *Controller) resolve(ctx context.Context, tabID schema.TabID) (target.ID, bool, error) {
	infos, err := c.pages(ctx)
	if err != nil {
		return "", false, err
	}
	for _, info := range infos {
		if TabIDFor(info.TargetID) == tabID {
			return info.TargetID, true, nil
		}
	}
	return "", false, nil
}

// Navigate loads url in the tab.
func (c *Controller) Navigate(ctx context.Context, tabID schema.TabID, url string) error {
	targetID, ok, err := c.resolve(ctx, tabID)
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrNavigationFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: %w", schema.ErrNavigationFailed, schema.ErrTabNotFound)
	}
	tabCtx, err := c.tabContext(targetID)
	if err != nil {
		return fmt.Errorf("%w: %v", schema.ErrNavigationFailed, err)
	}
	navCtx, cancel := context.WithTimeout(tabCtx, c.opts.NavigateTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrNavigationFailed, err)
	}
	return nil
}

// tabContext returns the cached session for a target. Sessions detach from
// browser shutdown so a cancelled browser context never closes user tabs.
func (c *Controller) tabContext(id target.ID) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx == nil {
		return nil, ErrNotConnected
	}
	if session, ok := c.tabs[id]; ok {
		return session.ctx, nil
	}
	ctx, cancel := chromedp.NewContext(context.WithoutCancel(c.browserCtx), chromedp.WithTargetID(id))
	c.tabs[id] = tabSession{ctx: ctx, cancel: cancel}
	return ctx, nil
}
