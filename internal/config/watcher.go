package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeCallback receives the reloaded configuration.
type ChangeCallback func(cfg *Config)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Loader   *Loader
	OnChange ChangeCallback
	// Debounce collapses bursts of writes; 100ms when zero.
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Watcher reloads the config file when it changes on disk. It watches the
// parent directory so editors that replace the file by rename are seen.
type Watcher struct {
	loader   *Loader
	path     string
	onChange ChangeCallback
	debounce time.Duration
	logger   zerolog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewWatcher creates a Watcher. Call Start to begin watching.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	path := cfg.Loader.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("config path is unknown")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		loader:   cfg.Loader,
		path:     filepath.Clean(path),
		onChange: cfg.OnChange,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "config_watcher").Logger(),
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the config file's directory.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.wg.Add(1)
	go w.loop()

	w.logger.Debug().Str("path", w.path).Msg("Config watcher started")
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Ignoring unreadable config change")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("Config reloaded")
	w.onChange(cfg)
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
