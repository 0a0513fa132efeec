package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/core"
	"pkt.systems/tabrotor/internal/appconfig"
)

func newSweepCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired statistics and state for closed tabs",
		Long:  "Run one maintenance sweep against the configured store. The browser must be reachable so state for closed tabs can be detected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			ctrl := newBrowser(cfg.Browser, logger)
			if err := ctrl.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = ctrl.Close() }()

			engine, err := newEngine(cfg, store, ctrl, logger)
			if err != nil {
				return err
			}
			result, err := core.NewSweeper(engine, core.SweeperOptions{Logger: logger}).Sweep(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "sessions removed: %d\nurl stats removed: %d\nstates removed: %d\n",
				result.SessionsRemoved, result.URLStatsRemoved, result.StatesRemoved)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
