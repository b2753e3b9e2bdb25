package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/casadex/casadex/internal/log"
	"github.com/casadex/casadex/internal/sync"
)

// startWatcher runs a Watcher over a fresh temp dir. The returned stop
// function must be deferred before goleak verification so the watcher
// goroutine is down when leaks are checked.
func startWatcher(t *testing.T) (string, chan sync.Event, func()) {
	t.Helper()

	root := t.TempDir()
	events := make(chan sync.Event, 16)
	w, err := New(root, events, WithDebounce(50*time.Millisecond), WithLogger(log.NewNop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	stop := func() {
		cancel()
		<-done
	}

	// Give the watcher a moment to register the root directory.
	time.Sleep(100 * time.Millisecond)
	return root, events, stop
}

func waitEvent(t *testing.T, events chan sync.Event) sync.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return sync.Event{}
	}
}

func TestWatcherEmitsUpsertOnCreate(t *testing.T) {
	defer goleak.VerifyNone(t)

	root, events, stop := startWatcher(t)
	defer stop()

	path := filepath.Join(root, "listings.csv")
	if err := os.WriteFile(path, []byte("Price\n100\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Identity != "listings.csv" || ev.Op != sync.OpUpsert {
		t.Errorf("got %+v, want upsert of listings.csv", ev)
	}
}

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	root, events, stop := startWatcher(t)
	defer stop()

	path := filepath.Join(root, "doc.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("revision"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ev := waitEvent(t, events)
	if ev.Identity != "doc.txt" || ev.Op != sync.OpUpsert {
		t.Errorf("got %+v, want upsert of doc.txt", ev)
	}

	// The burst collapses to one event; the channel stays quiet after.
	select {
	case extra := <-events:
		t.Errorf("unexpected extra event %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherEmitsDeleteOnRemove(t *testing.T) {
	defer goleak.VerifyNone(t)

	root, events, stop := startWatcher(t)
	defer stop()

	path := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(path, []byte("short lived"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := waitEvent(t, events)
	if ev.Op != sync.OpUpsert {
		t.Fatalf("got %+v, want initial upsert", ev)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ev = waitEvent(t, events)
	if ev.Identity != "gone.txt" || ev.Op != sync.OpDelete {
		t.Errorf("got %+v, want delete of gone.txt", ev)
	}
}

func TestWatcherCoversNewSubdirectories(t *testing.T) {
	defer goleak.VerifyNone(t)

	root, events, stop := startWatcher(t)
	defer stop()

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Let the watcher pick up the new directory before writing into it.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("nested"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Identity != "sub/inner.txt" || ev.Op != sync.OpUpsert {
		t.Errorf("got %+v, want upsert of sub/inner.txt", ev)
	}
}

func TestWatcherShutdownWithPendingDebounce(t *testing.T) {
	defer goleak.VerifyNone(t)

	root, events, stop := startWatcher(t)

	// Leave several debounce timers pending, then shut down immediately.
	// Callbacks that already fired must either deliver into the still
	// open channel or observe cancellation; neither may panic. The
	// channel is deliberately never closed.
	for i := 0; i < 8; i++ {
		name := filepath.Join(root, fmt.Sprintf("file%d.txt", i))
		if err := os.WriteFile(name, []byte("content"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	stop()

	// Drain whatever made it through before the cancellation won.
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}
