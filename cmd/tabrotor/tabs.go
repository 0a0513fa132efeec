package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/internal/appconfig"
)

func newTabsCmd() *cobra.Command {
	var cfgPath string
	var remoteURL string
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "List open browser tabs and their ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if remoteURL != "" {
				cfg.Browser.RemoteURL = remoteURL
			}
			ctrl := newBrowser(cfg.Browser, pslog.Ctx(ctx))
			if err := ctrl.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = ctrl.Close() }()
			tabs, err := ctrl.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tab := range tabs {
				_, _ = fmt.Fprintf(out, "%-20s %s  %s\n", tab.ID, tab.URL, tab.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&remoteURL, "remote-url", "", "DevTools endpoint of a running browser (overrides browser.remote_url)")
	return cmd
}
