package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newXattrCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xattr",
		Short: "Inspect and change extended attributes",
	}
	cmd.AddCommand(
		newXattrListCommand(root),
		newXattrGetCommand(root),
		newXattrSetCommand(root),
		newXattrRemoveCommand(root),
	)
	return cmd
}

func newXattrListCommand(root *rootOptions) *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:     "list PATH",
		Aliases: []string{"ls"},
		Short:   "List extended attributes, built-in ones included",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				return runXattrList(cmd.OutOrStdout(), e, args[0], page)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 64, "Entries fetched per call")
	return cmd
}

func runXattrList(out io.Writer, e *env, p string, page int) error {
	h, _, err := e.resolve(p)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSIZE\tNAME")

	var cookie uint32
	for {
		entries, next, eol, err := e.exp.ListExtAttrs(e.actx, h, cookie, page)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			fmt.Fprintf(w, "%d\t%d\t%s\n", ent.ID, ent.Attrs.Size, ent.Name)
		}
		if eol || len(entries) == 0 {
			break
		}
		cookie = next
	}
	return w.Flush()
}

func newXattrGetCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH NAME",
		Short: "Print the value of an extended attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				h, _, err := e.resolve(args[0])
				if err != nil {
					return err
				}
				value, err := e.exp.GetExtAttrByName(e.actx, h, args[1])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", value)
				return err
			})
		},
	}
}

func newXattrSetCommand(root *rootOptions) *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "set PATH NAME VALUE",
		Short: "Set an extended attribute",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				h, _, err := e.resolve(args[0])
				if err != nil {
					return err
				}
				return e.exp.SetExtAttrByName(e.actx, h, args[1], []byte(args[2]), create)
			})
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "Fail if the attribute already exists")
	return cmd
}

func newXattrRemoveCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm PATH NAME",
		Aliases: []string{"remove"},
		Short:   "Remove an extended attribute",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExport(cmd, root, func(e *env) error {
				h, _, err := e.resolve(args[0])
				if err != nil {
					return err
				}
				return e.exp.RemoveExtAttrByName(e.actx, h, args[1])
			})
		},
	}
}
