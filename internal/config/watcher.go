package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a config file for changes and calls a callback with the
// diff whenever a new, valid config is loaded.
type Watcher struct {
	path     string
	onChange func(old, new *Config)

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	current *Config
	done    chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts watching for filesystem events in a background
// goroutine. Invalid reloads are logged and ignored — the watcher keeps
// serving the last known-good config.
func NewWatcher(path string, onChange func(old, new *Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watcher: watch %q: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		fsw:      fsw,
		current:  cfg,
		done:     make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher and releases its inotify/kqueue handle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

// run consumes fsnotify events, debouncing bursts (editors commonly emit
// several WRITE/CHMOD/RENAME events for a single save) before reloading.
func (w *Watcher) run() {
	var debounce *time.Timer
	const debounceWindow = 200 * time.Millisecond

	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				// The watch is bound to the old inode; an atomic
				// write-temp-then-rename replaces it at the same path, which
				// severs that inode's link and commonly surfaces as Remove
				// (or Rename) rather than Write. Re-add the watch on the
				// path itself or every later save goes unnoticed.
				if err := w.fsw.Add(w.path); err != nil {
					slog.Warn("config watcher: failed to re-add watch after rename", "path", w.path, "err", err)
				}
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher: fsnotify error", "path", w.path, "err", err)
		}
	}
}

// reload re-reads and validates the config file, invoking onChange if it
// parses successfully. A failed reload is logged and the watcher keeps
// serving the previously loaded config.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config watcher: failed to reload config, keeping previous", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}
