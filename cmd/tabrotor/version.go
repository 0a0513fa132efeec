package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/tabrotor/internal/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Read()
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "%s %s\n", info.Module, info.Version); err != nil {
				return err
			}
			if !verbose || info.Revision == "" {
				return nil
			}
			_, err := fmt.Fprintf(out, "revision: %s\ntime: %s\ndirty: %t\n", info.Revision, info.Time.Format(time.RFC3339), info.Dirty)
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include vcs details")
	return cmd
}
