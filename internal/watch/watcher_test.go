package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/streampack/internal/watch"
)

func startWatcher(t *testing.T, dir string, opts watch.Options) *watch.Watcher {
	t.Helper()

	if opts.StableChecks == 0 {
		opts.StableChecks = 2
	}
	if opts.StableInterval == 0 {
		opts.StableInterval = 10 * time.Millisecond
	}
	if opts.StableTimeout == 0 {
		opts.StableTimeout = 2 * time.Second
	}

	w := watch.New(dir, opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	return w
}

func expectFile(t *testing.T, w *watch.Watcher, want string) {
	t.Helper()
	select {
	case got := <-w.Files():
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func expectNoFile(t *testing.T, w *watch.Watcher) {
	t.Helper()
	select {
	case got := <-w.Files():
		t.Errorf("unexpected file emitted: %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherInitialScan(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "movie.mp4")
	if err := os.WriteFile(video, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, dir, watch.Options{})

	expectFile(t, w, video)
	expectNoFile(t, w)
}

func TestWatcherPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, watch.Options{})

	video := filepath.Join(dir, "episode.mkv")
	if err := os.WriteFile(video, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	expectFile(t, w, video)
}

func TestWatcherWaitsForStableFile(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "upload.mp4")

	f, err := os.Create(video)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("part1")); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, dir, watch.Options{
		StableChecks:   3,
		StableInterval: 20 * time.Millisecond,
	})

	// Keep growing the file; it must not be emitted while changing.
	for i := 0; i < 5; i++ {
		time.Sleep(15 * time.Millisecond)
		if _, err := f.Write([]byte("more")); err != nil {
			t.Fatal(err)
		}
	}

	expectFile(t, w, video)
}

func TestWatcherSlowCopyDoesNotStallIntake(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, watch.Options{
		StableChecks:   3,
		StableInterval: 30 * time.Millisecond,
	})

	// A file that keeps growing holds its stability wait open.
	slow := filepath.Join(dir, "slow.mp4")
	f, err := os.Create(slow)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				f.Write([]byte("chunk"))
			}
		}
	}()

	// A complete file arriving afterwards must still come through promptly.
	time.Sleep(50 * time.Millisecond)
	fast := filepath.Join(dir, "fast.mp4")
	if err := os.WriteFile(fast, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	expectFile(t, w, fast)

	// Once the slow copy settles it is emitted too.
	close(stop)
	expectFile(t, w, slow)
}

func TestWatcherSkipFilter(t *testing.T) {
	dir := t.TempDir()
	published := filepath.Join(dir, "done.mp4")
	fresh := filepath.Join(dir, "new.mp4")
	for _, p := range []string{published, fresh} {
		if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w := startWatcher(t, dir, watch.Options{
		Skip: func(path string) bool { return path == published },
	})

	expectFile(t, w, fresh)
	expectNoFile(t, w)
}

func TestWatcherRescan(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, watch.Options{RescanInterval: 50 * time.Millisecond})

	// Write via a rename from outside the watched dir to exercise the
	// rescan path independent of event delivery.
	outside := filepath.Join(t.TempDir(), "late.webm")
	if err := os.WriteFile(outside, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	inside := filepath.Join(dir, "late.webm")
	if err := os.Rename(outside, inside); err != nil {
		t.Fatal(err)
	}

	expectFile(t, w, inside)
}
