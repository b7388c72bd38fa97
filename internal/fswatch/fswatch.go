// Package fswatch implements the File-System Watcher of spec.md §4.3: from
// a single root directory, it discovers and maintains live watchers for
// every directory transitively reachable, and exposes a stream of
// WatchedFiles — one per regular file first observed.
package fswatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tripwire/filetail/internal/dirwatch"
	"github.com/tripwire/filetail/internal/ioworker"
	"github.com/tripwire/filetail/internal/notify"
)

// WatchedFile is spec.md §3's WatchedFile: one tracked regular file. Signal
// delivers a value every time the file-system watcher observes the file
// changing; it is closed when the file is removed, moved out, or the
// watcher itself shuts down.
type WatchedFile struct {
	Path   string
	Signal <-chan struct{}
}

// Watcher is the recursive File-System Watcher. Construct with New, call
// Watch once with the root directory, and range over Files.
type Watcher struct {
	handle *notify.Handle
	pool   *ioworker.Pool
	logger *slog.Logger

	dirEvents chan dirwatch.DirectoryEvent
	files     chan *WatchedFile

	// signals is owned exclusively by run; no lock is needed, per spec.md
	// §5 ("No locks on the event-loop side").
	signals map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runWG  sync.WaitGroup
}

// New constructs a Watcher. Events observed under root are forwarded to
// the channel returned by Files until ctx is cancelled or Close is called.
func New(ctx context.Context, handle *notify.Handle, pool *ioworker.Pool, logger *slog.Logger) *Watcher {
	runCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		handle:    handle,
		pool:      pool,
		logger:    logger,
		dirEvents: make(chan dirwatch.DirectoryEvent, 1024),
		files:     make(chan *WatchedFile, 64),
		signals:   make(map[string]chan struct{}),
		ctx:       runCtx,
		cancel:    cancel,
	}
	w.runWG.Add(1)
	go w.run()
	return w
}

// Watch starts recursive discovery rooted at root. It installs the root
// directory's watch synchronously so callers observe an error for a
// missing or non-directory root immediately, then forwards its events into
// the same fan-in channel that every descendant directory uses.
func (w *Watcher) Watch(root string) error {
	dw, err := dirwatch.New(w.ctx, w.handle, w.pool, w.logger, root)
	if err != nil {
		return err
	}
	w.forwardDir(dw)
	return nil
}

// Files returns the channel on which newly discovered regular files are
// delivered, one WatchedFile per path, per spec.md §4.3's dedup invariant.
func (w *Watcher) Files() <-chan *WatchedFile { return w.files }

// Close cancels every descendant directory watcher and closes Files once
// all internal goroutines have exited.
func (w *Watcher) Close() {
	w.cancel()
	w.wg.Wait()
	close(w.dirEvents)
	w.runWG.Wait()
}

// spawnDir installs a directory watcher for path and forwards its events
// into the shared fan-in channel. Failure (path already gone, e.g. a
// race between the kernel CREATE event and a near-simultaneous removal)
// is logged and otherwise ignored: the directory's own Removed event, if
// any, will already be on its way through the parent's stream.
func (w *Watcher) spawnDir(path string) {
	dw, err := dirwatch.New(w.ctx, w.handle, w.pool, w.logger, path)
	if err != nil {
		w.logger.Warn("fswatch: failed to watch directory", slog.String("path", path), slog.Any("error", err))
		return
	}
	w.forwardDir(dw)
}

// forwardDir relays one directory watcher's events into the shared
// fan-in channel until it closes or the Watcher is cancelled, per
// spec.md §9 ("a tree of owning handles plus one fan-in channel, not
// mutual references").
func (w *Watcher) forwardDir(dw *dirwatch.Watcher) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case ev, ok := <-dw.Events():
				if !ok {
					return
				}
				select {
				case w.dirEvents <- ev:
				case <-w.ctx.Done():
					return
				}
			case <-w.ctx.Done():
				return
			}
		}
	}()
}

// run owns the files/signals tables exclusively and implements the
// algorithm of spec.md §4.3.
func (w *Watcher) run() {
	defer w.runWG.Done()
	defer close(w.files)

	for ev := range w.dirEvents {
		w.handleEvent(ev)
	}
}

func (w *Watcher) handleEvent(ev dirwatch.DirectoryEvent) {
	switch {
	case ev.Kind == dirwatch.Updated && ev.IsDir:
		w.spawnDir(ev.Path)

	case ev.Kind == dirwatch.Updated && !ev.IsDir:
		if sig, ok := w.signals[ev.Path]; ok {
			select {
			case sig <- struct{}{}:
				return
			default:
				// A signal is already pending for this file; coalesce
				// (spec.md §4.4's tailer does at most one pending read).
				return
			}
		}
		sig := make(chan struct{}, 1)
		w.signals[ev.Path] = sig
		select {
		case w.files <- &WatchedFile{Path: ev.Path, Signal: sig}:
		case <-w.ctx.Done():
		}

	case ev.Kind == dirwatch.Removed && !ev.IsDir:
		if sig, ok := w.signals[ev.Path]; ok {
			delete(w.signals, ev.Path)
			close(sig)
		}

	case ev.Kind == dirwatch.Removed && ev.IsDir:
		// No action: the directory watcher for this subtree will itself
		// have ended (DELETE_SELF) and pruned its own children through
		// their own Removed events, per spec.md §4.3.
	}
}
