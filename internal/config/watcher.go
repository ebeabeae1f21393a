package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler is invoked when a watched file changes.
type ReloadHandler func(path string) error

// Watcher hot-reloads individual configuration files (credibility rules,
// thresholds). It watches parent directories because editors replace files
// by rename, which drops a direct file watch.
type Watcher struct {
	watcher  *fsnotify.Watcher
	handlers map[string][]ReloadHandler // keyed by absolute file path
	logger   *zap.Logger
	stopCh   chan struct{}
	mu       sync.RWMutex
	started  bool

	// debounce window so one save does not fire multiple reloads
	debounce time.Duration
	lastFire map[string]time.Time
}

// NewWatcher creates a file watcher. Call Watch to register files, then
// Start.
func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		watcher:  fw,
		handlers: make(map[string][]ReloadHandler),
		logger:   logger,
		stopCh:   make(chan struct{}),
		debounce: 500 * time.Millisecond,
		lastFire: make(map[string]time.Time),
	}, nil
}

// Watch registers a handler for changes to path.
func (w *Watcher) Watch(path string, handler ReloadHandler) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w.mu.Lock()
	w.handlers[abs] = append(w.handlers[abs], handler)
	w.mu.Unlock()

	w.logger.Info("Watching config file", zap.String("path", abs))
	return nil
}

// Start begins dispatching change events. Idempotent.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.loop()
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.dispatch(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) dispatch(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mu.Lock()
	handlers := w.handlers[abs]
	if len(handlers) > 0 {
		if last, ok := w.lastFire[abs]; ok && time.Since(last) < w.debounce {
			w.mu.Unlock()
			return
		}
		w.lastFire[abs] = time.Now()
	}
	w.mu.Unlock()

	for _, h := range handlers {
		if err := h(abs); err != nil {
			w.logger.Error("Config reload failed",
				zap.String("path", abs),
				zap.Error(err),
			)
			continue
		}
		w.logger.Info("Config reloaded", zap.String("path", abs))
	}
}
