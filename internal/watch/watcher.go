// Package watch observes an intake directory and emits paths of stable,
// supported video files. fsnotify provides the fast path; an initial scan
// plus a periodic rescan covers files that predate the watcher and
// filesystems that do not deliver notifications (network mounts).
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gwlsn/streampack/internal/logger"
	"github.com/gwlsn/streampack/internal/scheduler"
)

// Options configures a Watcher.
type Options struct {
	// StableChecks is how many consecutive unchanged size samples a file
	// needs before it is considered fully written.
	StableChecks int
	// StableInterval is the delay between size samples.
	StableInterval time.Duration
	// StableTimeout bounds the whole stability wait for one file.
	StableTimeout time.Duration
	// RescanInterval is how often the directory is re-listed. Zero disables
	// rescans.
	RescanInterval time.Duration
	// Skip, when set, suppresses emission for a path (already-published
	// outputs on rescan).
	Skip func(path string) bool
}

func (o *Options) applyDefaults() {
	if o.StableChecks <= 0 {
		o.StableChecks = 3
	}
	if o.StableInterval <= 0 {
		o.StableInterval = time.Second
	}
	if o.StableTimeout <= 0 {
		o.StableTimeout = 10 * time.Minute
	}
}

// Watcher emits intake file paths on Files until its context is cancelled.
type Watcher struct {
	dir   string
	opts  Options
	files chan string

	// pending tracks files currently in their stability wait, so event and
	// rescan sightings of the same file don't race.
	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

func New(dir string, opts Options) *Watcher {
	opts.applyDefaults()
	return &Watcher{
		dir:     dir,
		opts:    opts,
		files:   make(chan string, 64),
		pending: make(map[string]struct{}),
	}
}

// Files is the channel of stable, supported file paths. Closed when Run
// returns.
func (w *Watcher) Files() <-chan string {
	return w.files
}

// Run watches the intake directory until ctx is cancelled. The initial
// directory listing is emitted first, then fsnotify events and periodic
// rescans. Stability waits run off the watch loop, one goroutine per file,
// so a file that takes minutes to copy in never stalls the rest of the
// intake.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.wg.Wait()
		close(w.files)
	}()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	logger.Info("Watching intake directory", "path", w.dir)

	if err := w.scan(ctx); err != nil {
		return err
	}

	var rescan <-chan time.Time
	if w.opts.RescanInterval > 0 {
		ticker := time.NewTicker(w.opts.RescanInterval)
		defer ticker.Stop()
		rescan = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.emit(ctx, event.Name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", "error", err)

		case <-rescan:
			if err := w.scan(ctx); err != nil {
				return err
			}
		}
	}
}

// scan lists the intake directory and emits every eligible file.
func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read intake directory: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if entry.IsDir() {
			continue
		}
		w.emit(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// emit filters a path and hands it to a stability-wait goroutine that sends
// it on Files once the file stops growing. A path already in its wait is
// left alone.
func (w *Watcher) emit(ctx context.Context, path string) {
	if !scheduler.SupportedSource(path) {
		return
	}
	if w.opts.Skip != nil && w.opts.Skip(path) {
		logger.Debug("Skipping already-processed file", "path", path)
		return
	}

	w.mu.Lock()
	if _, inFlight := w.pending[path]; inFlight {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()

		if err := w.waitForStable(ctx, path); err != nil {
			if ctx.Err() == nil {
				logger.Warn("File never stabilized, skipping", "path", path, "error", err)
			}
			return
		}

		select {
		case w.files <- path:
			logger.Debug("Intake file ready", "path", path)
		case <-ctx.Done():
		}
	}()
}

// waitForStable blocks until the file size has been unchanged for the
// configured number of consecutive samples. A file still being copied in
// grows between samples and resets the count.
func (w *Watcher) waitForStable(ctx context.Context, path string) error {
	deadline := time.Now().Add(w.opts.StableTimeout)

	var lastSize int64 = -1
	stable := 0

	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if info.Size() == lastSize {
			stable++
			if stable >= w.opts.StableChecks {
				return nil
			}
		} else {
			stable = 0
			lastSize = info.Size()
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("file %s still changing after %s", path, w.opts.StableTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.StableInterval):
		}
	}
}
