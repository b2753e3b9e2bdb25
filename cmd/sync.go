package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casadex/casadex/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Reconcile the knowledge base with the source folder",
	Long: `Walks the source folder, ingests new and changed documents, and
retires entries whose files no longer exist, then exits.

With a path argument, re-ingests just that file. The path must live
inside the configured source folder.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		return runSync(path)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(path string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if path != "" {
		return syncOne(ctx, a, path)
	}

	if err := a.syncer.SyncAll(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	docs, err := a.store.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	a.logger.Info("knowledge base reconciled", "documents", len(docs))
	return nil
}

// syncOne re-ingests a single file identified by its path inside the
// source folder.
func syncOne(ctx context.Context, a *app, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", path, err)
	}
	root, err := filepath.Abs(a.cfg.SourceDir)
	if err != nil {
		return fmt.Errorf("resolving source folder: %w", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%q is outside the source folder %q", path, a.cfg.SourceDir)
	}
	identity := filepath.ToSlash(rel)

	if err := a.syncer.Handle(ctx, sync.Event{Identity: identity, Op: sync.OpUpsert}); err != nil {
		return fmt.Errorf("ingesting %q: %w", identity, err)
	}
	a.logger.Info("document ingested", "identity", identity)
	return nil
}
