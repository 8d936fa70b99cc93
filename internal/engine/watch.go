package engine

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ForsakenNGS/LogTrackerApp/internal/addon"
)

// saveWatcher raises the engine's reload hint when an addon save file is
// rewritten. It is a trigger only; the stat high-water-mark in the worker
// decides whether a reload actually happens, so missed events degrade to
// plain polling.
type saveWatcher struct {
	fs   *fsnotify.Watcher
	hint *atomic.Bool
	log  *zap.Logger

	mu      sync.Mutex
	watched []string

	closeOnce sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

func newSaveWatcher(hint *atomic.Bool, log *zap.Logger) (*saveWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &saveWatcher{
		fs:     fsw,
		hint:   hint,
		log:    log,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch replaces the watched directory set, typically after a game
// directory change. Unwatchable directories are logged and skipped.
func (w *saveWatcher) Watch(dirs []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dir := range w.watched {
		w.fs.Remove(dir)
	}
	w.watched = w.watched[:0]
	for _, dir := range dirs {
		if err := w.fs.Add(dir); err != nil {
			w.log.Warn("cannot watch save directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		w.watched = append(w.watched, dir)
	}
}

func (w *saveWatcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != addon.SavedVariablesName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.hint.Store(true)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("save watcher error", zap.Error(err))
		case <-w.stopCh:
			return
		}
	}
}

func (w *saveWatcher) Close() {
	w.closeOnce.Do(func() {
		close(w.stopCh)
		w.fs.Close()
		<-w.done
	})
}
