package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/config"
	"github.com/marmos91/fsal/pkg/export"
	"github.com/marmos91/fsal/pkg/fsal"
	"github.com/marmos91/fsal/pkg/fsal/handle"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "fsal",
		Short:         "Export a posix directory or copy-on-write volume with its snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/fsal/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")

	cmd.AddCommand(
		newInitCommand(),
		newStartCommand(opts),
		newLsCommand(opts),
		newStatCommand(opts),
		newCatCommand(opts),
		newPutCommand(opts),
		newMkdirCommand(opts),
		newRmCommand(opts),
		newXattrCommand(opts),
		newSnapshotCommand(opts),
		newGCCommand(opts),
	)
	return cmd
}

// loadConfig loads the configuration and configures logging from it.
// One-shot commands keep stdout for their own output.
func (o *rootOptions) loadConfig(oneShot bool) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if oneShot && cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env is an export opened from configuration for a single command.
type env struct {
	cfg     *config.Config
	inst    *config.Instance
	exp     *export.Export
	metrics *config.MetricsResult
	actx    *fsal.AuthContext
}

func (o *rootOptions) openExport(ctx context.Context, oneShot bool) (*env, error) {
	cfg, err := o.loadConfig(oneShot)
	if err != nil {
		return nil, err
	}

	metricsResult := config.InitializeMetrics(cfg)

	inst, err := config.CreateBackend(ctx, cfg, metricsResult)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	exp, err := config.CreateExport(cfg, inst, metricsResult)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create export: %w", err), inst.Close())
	}

	return &env{
		cfg:     cfg,
		inst:    inst,
		exp:     exp,
		metrics: metricsResult,
		actx:    fsal.RootAuth(ctx),
	}, nil
}

func (e *env) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(e.exp.Shutdown(ctx), e.inst.Close())
}

// resolve looks up an absolute path in the export.
func (e *env) resolve(path string) (handle.Handle, fsal.Attributes, error) {
	if path == "" {
		path = "/"
	}
	return e.exp.LookupPath(e.actx, path)
}

// parentOf resolves the directory holding path and returns the final name.
func (e *env) parentOf(path string) (handle.Handle, string, error) {
	dir, name := splitPath(path)
	if name == "" {
		return handle.Handle{}, "", fmt.Errorf("%q names no entry", path)
	}
	h, _, err := e.resolve(dir)
	if err != nil {
		return handle.Handle{}, "", err
	}
	return h, name, nil
}
