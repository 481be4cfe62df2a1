package registry

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the custom model directory and reloads the registry when the
// directory changes. It uses polling (not fsnotify) to keep dependencies
// minimal; wake models appear rarely, so a coarse interval is fine.
type Watcher struct {
	reg      *Registry
	dir      string
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
}

// NewWatcher starts polling dir every interval and calls reg.Reload on
// change. Returns nil when dir is empty or interval is not positive, so the
// caller can wire it unconditionally.
func NewWatcher(reg *Registry, dir string, interval time.Duration) *Watcher {
	if dir == "" || interval <= 0 {
		return nil
	}
	w := &Watcher{
		reg:      reg,
		dir:      dir,
		interval: interval,
		done:     make(chan struct{}),
	}
	if info, err := os.Stat(dir); err == nil {
		w.lastMtime = info.ModTime()
	}
	go w.poll()
	return w
}

// Stop stops the directory watcher. Safe to call on a nil watcher.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the directory periodically.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check compares the directory mtime and reloads on change.
func (w *Watcher) check() {
	info, err := os.Stat(w.dir)
	if err != nil {
		slog.Warn("model watcher: cannot stat directory", "dir", w.dir, "err", err)
		return
	}
	if info.ModTime().Equal(w.lastMtime) {
		return
	}
	w.lastMtime = info.ModTime()

	if err := w.reg.Reload(); err != nil {
		slog.Warn("model watcher: reload failed", "dir", w.dir, "err", err)
		return
	}
	slog.Info("model directory changed, registry reloaded", "dir", w.dir)
}
