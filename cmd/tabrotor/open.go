package main

import (
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/core"
	"pkt.systems/tabrotor/internal/alarm"
	"pkt.systems/tabrotor/internal/appconfig"
	"pkt.systems/tabrotor/internal/browser"
	"pkt.systems/tabrotor/internal/persist"
)

func openStore(cfg appconfig.Config, logger pslog.Logger) (persist.Store, error) {
	return persist.Open(persist.Config{
		Driver:    cfg.Store.Driver,
		Dir:       cfg.StateDir,
		Path:      cfg.Store.Path,
		Namespace: cfg.Store.Namespace,
	}, logger)
}

func newBrowser(cfg appconfig.BrowserConfig, logger pslog.Logger) *browser.Controller {
	return browser.New(browser.Options{
		RemoteURL:       cfg.RemoteURL,
		ExecPath:        cfg.ExecPath,
		UserDataDir:     cfg.UserDataDir,
		Headless:        cfg.Headless,
		Flags:           cfg.Flags,
		NavigateTimeout: time.Duration(cfg.NavigateTimeoutSeconds) * time.Second,
		ConnectTimeout:  time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
		Logger:          logger,
	})
}

// newEngine builds an engine for one-shot CLI work. Its alarms are never run.
func newEngine(cfg appconfig.Config, store persist.Store, tabs core.TabController, logger pslog.Logger) (*core.Engine, error) {
	return core.NewEngine(cfg.ServiceConfig(), core.EngineDeps{
		Store:  store,
		Timers: alarm.New(alarm.Options{Logger: logger}),
		Tabs:   tabs,
		Logger: logger,
	})
}
