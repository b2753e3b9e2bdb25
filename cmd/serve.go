package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/casadex/casadex/internal/api"
	"github.com/casadex/casadex/internal/sync"
	"github.com/casadex/casadex/internal/watch"
)

// eventBuffer absorbs bursts from the filesystem watcher while the
// worker pool catches up.
const eventBuffer = 256

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the knowledge base server",
	Long: `Reconciles the knowledge base with the source folder, then serves
the chat API while watching the folder for changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("reconciling knowledge base", "source_dir", a.cfg.SourceDir)
	if err := a.syncer.SyncAll(ctx); err != nil {
		// Individual document failures are not fatal; the watcher will
		// retry them on the next change.
		a.logger.Warn("initial sync finished with errors", "error", err)
	}

	events := make(chan sync.Event, eventBuffer)
	watcher, err := watch.New(a.cfg.SourceDir, events, watch.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	server := api.NewServer(a.answer, a.store, a.pool, a.logger)

	// The events channel is never closed: a debounce callback that fired
	// just before shutdown may still be sending, and the syncer's Run
	// exits on context cancellation anyway.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		a.syncer.Run(gctx, events, a.cfg.SyncWorkers)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, a.cfg.ServerAddr)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
