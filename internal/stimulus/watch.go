package stimulus

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FolderChange is one stimulus file that appeared, changed or vanished while
// a session was running.
type FolderChange struct {
	File string
	Op   string
}

// Watcher reports stimulus-folder changes. The plan of a running session is
// fixed at start, so changes are only surfaced as warnings.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dir     string
	logger  *zap.Logger
	changes []FolderChange
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("stimulus watcher: %w", err)
	}
	return &Watcher{
		watcher: w,
		dir:     dir,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start adds the folder and starts the event loop in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	go w.run(ctx)
	return nil
}

// Stop ends the event loop, waits for it and closes the underlying watcher.
// Safe to call more than once and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Debug("stimulus watcher close", zap.Error(err))
	}
}

// Changes returns the stimulus-file changes seen so far.
func (w *Watcher) Changes() []FolderChange {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FolderChange, len(w.changes))
	copy(out, w.changes)
	return out
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("stimulus watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	var op string
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = "create"
	case ev.Op&fsnotify.Write != 0:
		op = "modify"
	case ev.Op&fsnotify.Remove != 0:
		op = "delete"
	case ev.Op&fsnotify.Rename != 0:
		op = "rename"
	default:
		return
	}
	name := filepath.Base(ev.Name)
	if _, ok := ParseFilename(name); !ok {
		return
	}
	w.mu.Lock()
	w.changes = append(w.changes, FolderChange{File: name, Op: op})
	w.mu.Unlock()
	w.logger.Warn("stimulus folder changed during session; plan is unaffected",
		zap.String("file", name), zap.String("op", op))
}
