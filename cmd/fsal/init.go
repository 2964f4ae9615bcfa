package main

import (
	"fmt"

	"github.com/marmos91/fsal/pkg/config"
	"github.com/spf13/cobra"
)

type initOptions struct {
	path  string
	force bool
}

func newInitCommand() *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with every default filled in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.path, "path", "", "Where to write the file (default: $XDG_CONFIG_HOME/fsal/config.yaml)")
	flags.BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func runInit(cmd *cobra.Command, opts *initOptions) error {
	path := opts.path
	if path == "" {
		var err error
		if path, err = config.InitConfig(opts.force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, opts.force); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
