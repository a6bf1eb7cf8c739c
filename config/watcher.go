package config

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watcher polls a configuration file's modification time and invokes a
// callback when it changes. Polling keeps the watcher dependency-free
// and works on every filesystem.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *zap.Logger
	onChange func()

	mu      sync.Mutex
	lastMod time.Time
	stop    chan struct{}
	running bool
}

// NewWatcher creates a watcher for path. onChange runs on the watcher
// goroutine after each detected modification.
func NewWatcher(path string, interval time.Duration, logger *zap.Logger, onChange func()) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger,
		onChange: onChange,
		stop:     make(chan struct{}),
	}
}

// Start begins polling in a background goroutine. Starting twice is a
// no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	go w.loop()
}

// Stop ends polling.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stop)
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	changed := info.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	if changed {
		w.logger.Info("config file changed", zap.String("path", w.path))
		if w.onChange != nil {
			w.onChange()
		}
	}
}
