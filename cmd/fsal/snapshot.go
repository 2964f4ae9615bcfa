package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var errNoVolume = errors.New("snapshots need backend.type cow")

func newSnapshotCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage copy-on-write volume snapshots",
	}
	cmd.AddCommand(
		newSnapshotCreateCommand(root),
		newSnapshotListCommand(root),
		newSnapshotDestroyCommand(root),
	)
	return cmd
}

func newSnapshotCreateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Take a snapshot of the live dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				if e.inst.Volume == nil {
					return errNoVolume
				}
				info, err := e.inst.Volume.Snapshot(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %q created at txg %d\n", info.Name, info.TXG)
				return nil
			})
		},
	}
}

func newSnapshotListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the snapshots of the volume",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				return runSnapshotList(cmd, cmd.OutOrStdout(), e)
			})
		},
	}
}

func runSnapshotList(cmd *cobra.Command, out io.Writer, e *env) error {
	if e.inst.Volume == nil {
		return errNoVolume
	}
	snaps, err := e.inst.Volume.Snapshots(cmd.Context())
	if err != nil {
		return err
	}

	mounted := make(map[string]uint32)
	for _, m := range e.exp.Registry().Snapshots() {
		mounted[m.Label] = m.Index
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTXG\tCREATED\tMOUNT")
	for _, s := range snaps {
		mount := "-"
		if idx, ok := mounted[s.Name]; ok {
			mount = fmt.Sprintf("%d", idx)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", s.ID, s.Name, s.TXG, s.CreatedAt().Format(time.DateTime), mount)
	}
	return w.Flush()
}

func newSnapshotDestroyCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy NAME",
		Short: "Destroy a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				if e.inst.Volume == nil {
					return errNoVolume
				}
				for _, m := range e.exp.Registry().Snapshots() {
					if m.Label == args[0] {
						return fmt.Errorf("snapshot %q is mounted; remove it from backend.cow.snapshots first", args[0])
					}
				}
				return e.inst.Volume.DestroySnapshot(cmd.Context(), args[0])
			})
		},
	}
}
