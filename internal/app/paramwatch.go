package app

import (
	"os"
	"sync"
	"time"

	"pendant-drop/internal/config"
	"pendant-drop/internal/logger"

	"github.com/rs/zerolog"
)

// ParamWatcher polls a settings file and commits its crop and edge sections
// to a ParamStore whenever the file's modification time moves forward.
type ParamWatcher struct {
	path          string
	store         *ParamStore
	log           zerolog.Logger
	checkInterval time.Duration

	mu       sync.Mutex
	baseline time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewParamWatcher creates a watcher for path. The file's current
// modification time is the baseline, so only later edits are applied.
func NewParamWatcher(path string, store *ParamStore, checkInterval time.Duration, log zerolog.Logger) (*ParamWatcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &ParamWatcher{
		path:          path,
		store:         store,
		log:           logger.Component(log, "paramwatch").With().Str("path", path).Logger(),
		checkInterval: checkInterval,
		baseline:      info.ModTime(),
	}, nil
}

// Start begins polling in a background goroutine.
func (w *ParamWatcher) Start() {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.watchLoop()
}

// Stop ends polling and waits for the goroutine to exit.
func (w *ParamWatcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *ParamWatcher) watchLoop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check reloads the file once if it changed since the last accepted load
// and reports whether new settings were committed.
func (w *ParamWatcher) Check() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil || !info.ModTime().After(w.baseline) {
		return false
	}
	// a rejected file is not retried until it changes again
	w.baseline = info.ModTime()

	cfg, err := config.Load(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		w.log.Warn().Err(err).Msg("ignoring settings change")
		return false
	}

	cur := w.store.Snapshot()
	changed := false
	if cfg.Edge != cur.Edge {
		if err := w.store.SetEdge(cfg.Edge); err != nil {
			w.log.Warn().Err(err).Msg("ignoring edge settings")
		} else {
			changed = true
		}
	}
	if cfg.Crop != cur.Crop {
		if err := w.store.SetCrop(cfg.Crop); err != nil {
			w.log.Warn().Err(err).Msg("ignoring crop")
		} else {
			changed = true
		}
	}
	if changed {
		w.log.Info().Int("revision", w.store.Snapshot().Revision).Msg("settings reloaded")
	}
	return changed
}
