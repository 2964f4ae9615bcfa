package main

import (
	"fmt"

	"github.com/marmos91/fsal/pkg/gc"
	"github.com/spf13/cobra"
)

func newGCCommand(root *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete blocks no dataset or snapshot references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				if e.inst.Volume == nil {
					return errNoVolume
				}
				gcCfg := e.cfg.Backend.Cow.GC
				gcCfg.DryRun = gcCfg.DryRun || dryRun

				collector, err := gc.NewCollector(e.inst.Volume, gcCfg)
				if err != nil {
					return err
				}
				stats, err := collector.RunNow(cmd.Context())
				if err != nil {
					return err
				}

				prefix := ""
				if gcCfg.DryRun {
					prefix = "dry run: "
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", prefix, stats.Summary())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report orphaned blocks without deleting them")
	return cmd
}
