package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/core"
	"pkt.systems/tabrotor/internal/appconfig"
	"pkt.systems/tabrotor/internal/persist"
	"pkt.systems/tabrotor/schema"
)

func newStateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect persisted rotation state",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newStateListCmd(&cfgPath))
	cmd.AddCommand(newStateShowCmd(&cfgPath))
	cmd.AddCommand(newStateClearCmd(&cfgPath))

	return cmd
}

func withStore(cmd *cobra.Command, cfgPath string, fn func(store persist.Store) error) error {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg, pslog.Ctx(cmd.Context()))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func newStateListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tabs with rotation state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, *cfgPath, func(store persist.Store) error {
				states, err := core.ListStates(cmd.Context(), store)
				if err != nil {
					return err
				}
				writeStates(cmd.OutOrStdout(), states)
				return nil
			})
		},
	}
}

func newStateShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <tab-id>",
		Short: "Print a tab's rotation state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseTabArg(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, *cfgPath, func(store persist.Store) error {
				state, ok, err := core.LoadState(cmd.Context(), store, tabID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s", schema.ErrTabNotFound, tabID)
				}
				data, err := json.MarshalIndent(state, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			})
		},
	}
}

func newStateClearCmd(cfgPath *string) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "clear <tab-id>",
		Short: "Stop a tab and delete its rotation state",
		Long:  "Stop a tab and delete its rotation state. A running server is asked over its HTTP API so its pending alarm goes too; when no server answers, the store is edited directly.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tabID, err := parseTabArg(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			if !offline {
				err := sendCommand(ctx, cfg.HTTP, map[string]any{"type": "forget", "tabId": int64(tabID)})
				if err == nil {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared state for tab %s\n", tabID)
					return nil
				}
				if !errors.Is(err, errServerUnavailable) {
					return err
				}
				logger.Debug("state clear falling back to store", "err", err)
			}
			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			// The engine only touches the store and its own unstarted alarms here.
			engine, err := newEngine(cfg, store, newBrowser(cfg.Browser, logger), logger)
			if err != nil {
				return err
			}
			if err := engine.Forget(ctx, tabID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cleared state for tab %s\n", tabID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "edit the store directly without contacting a running server")
	return cmd
}

func parseTabArg(value string) (schema.TabID, error) {
	tabID, err := schema.ParseTabID(value)
	if err != nil {
		return 0, fmt.Errorf("invalid tab id %q: %w", value, err)
	}
	return tabID, nil
}

func writeStates(w io.Writer, states []core.TabState) {
	if len(states) == 0 {
		_, _ = fmt.Fprintln(w, "no rotation state")
		return
	}
	_, _ = fmt.Fprintf(w, "%-20s %-8s %-5s %-9s %s\n", "TAB", "ROTATING", "URLS", "ROTATIONS", "NEXT")
	for _, item := range states {
		next := "-"
		if item.State.NextRotationTime != nil {
			next = item.State.NextRotationTime.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%-20s %-8t %-5d %-9d %s\n", item.TabID, item.State.IsRotating, len(item.State.URLs), item.State.RotationCount, next)
	}
}
