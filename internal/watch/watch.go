// Package watch observes the source folder and translates filesystem
// changes into sync events. Rapid successive writes to one file (editor
// save patterns, partial copies) are debounced into a single event.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/casadex/casadex/internal/sync"
)

// DefaultDebounce is how long a file must stay quiet before its event
// is emitted.
const DefaultDebounce = 500 * time.Millisecond

// Watcher emits sync events for changes under a source folder.
type Watcher struct {
	root     string
	events   chan<- sync.Event
	debounce time.Duration
	logger   *slog.Logger

	mu     gosync.Mutex
	timers map[string]*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Watcher over root that emits into events.
func New(root string, events chan<- sync.Event, opts ...Option) (*Watcher, error) {
	if root == "" {
		return nil, fmt.Errorf("source folder is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event channel is required")
	}

	w := &Watcher{
		root:     root,
		events:   events,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until the context is canceled. The folder and all its
// subdirectories are watched; directories created later are added on
// the fly.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() {
		if err := fsw.Close(); err != nil {
			w.logger.Warn("closing watcher", "error", err)
		}
	}()

	if err := addRecursive(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching source folder", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			w.flushTimers()
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	identity, err := w.identity(ev.Name)
	if err != nil {
		w.logger.Debug("ignoring event outside root", "path", ev.Name)
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, ev.Name); err != nil {
				w.logger.Error("watching new directory", "path", ev.Name, "error", err)
			}
			return
		}
		w.schedule(ctx, identity, sync.OpUpsert)

	case ev.Op.Has(fsnotify.Write):
		w.schedule(ctx, identity, sync.OpUpsert)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.schedule(ctx, identity, sync.OpDelete)
	}
}

// schedule arms (or re-arms) the debounce timer for one identity.
func (w *Watcher) schedule(ctx context.Context, identity string, op sync.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[identity]; ok {
		t.Stop()
	}
	w.timers[identity] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, identity)
		w.mu.Unlock()

		select {
		case w.events <- sync.Event{Identity: identity, Op: op}:
		case <-ctx.Done():
		}
	})
}

// flushTimers stops pending timers on shutdown.
func (w *Watcher) flushTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}

// identity maps an absolute event path to a document identity.
func (w *Watcher) identity(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// addRecursive watches dir and every directory below it.
func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %q: %w", path, err)
		}
		return nil
	})
}
