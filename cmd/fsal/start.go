package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/fsal/internal/logger"
	"github.com/marmos91/fsal/pkg/config"
	"github.com/marmos91/fsal/pkg/registry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newStartCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Mount the configured export and serve metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), root)
		},
	}
}

func runStart(parent context.Context, root *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := root.openExport(ctx, false)
	if err != nil {
		return err
	}

	logger.Info("fsal: export %q ready (backend=%s, pseudo_dir=%s)",
		e.exp.Name(), e.cfg.Backend.Type, e.cfg.Export.PseudoDirName)
	reg := e.exp.Registry()
	for _, m := range append([]*registry.Mount{reg.Live()}, reg.Snapshots()...) {
		logger.Info("fsal: mount %d %q (read_only=%v)", m.Index, m.Label, m.Backend.ReadOnly())
	}

	collector, err := config.CreateCollector(e.cfg, e.inst)
	if err != nil {
		logger.Warn("fsal: %v", err)
	} else if collector != nil {
		collector.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.metrics.Server != nil {
		g.Go(func() error {
			return e.metrics.Server.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("fsal: shutdown signal received, closing export")
		return nil
	})

	runErr := g.Wait()

	// The serving context is done; shut down on a fresh one.
	if collector != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
		_ = collector.Stop(stopCtx)
		cancel()
	}
	if err := e.Close(context.Background()); err != nil {
		logger.Error("fsal: shutdown: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("fsal: stopped")
	return runErr
}
