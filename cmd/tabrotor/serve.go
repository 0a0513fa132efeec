package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor"
	"pkt.systems/tabrotor/httpapi"
	"pkt.systems/tabrotor/internal/appconfig"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var remoteURL string
	var disableAuditTrails bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rotation engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableAuditTrails {
				cfg.Logging.DisableAuditTrails = true
			}
			if remoteURL != "" {
				cfg.Browser.RemoteURL = remoteURL
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("store opened", "driver", cfg.Store.Driver, "state_dir", cfg.StateDir)

			server, err := tabrotor.New(serverConfig(cfg), tabrotor.ServerDeps{
				Store:   store,
				Browser: newBrowser(cfg.Browser, logger),
				Logger:  logger,
			})
			if err != nil {
				_ = store.Close()
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := server.Start(ctx); err != nil {
				_ = store.Close()
				return err
			}
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&remoteURL, "remote-url", "", "DevTools endpoint of a running browser (overrides browser.remote_url)")
	cmd.Flags().BoolVar(&disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for commands")
	return cmd
}

func serverConfig(cfg appconfig.Config) tabrotor.ServerConfig {
	return tabrotor.ServerConfig{
		Service: cfg.ServiceConfig(),
		HTTP: httpapi.Config{
			Addr:     cfg.HTTP.Addr,
			BasePath: cfg.HTTP.BasePath,
		},
		AlarmResolution:     time.Duration(cfg.Alarm.ResolutionMillis) * time.Millisecond,
		DisableSweep:        cfg.Sweep.Disabled,
		DisableAuditLogging: cfg.Logging.DisableAuditTrails,
	}
}
