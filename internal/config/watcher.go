package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DynamicConfig holds the retrieval knobs that may change at runtime without
// a restart.
type DynamicConfig struct {
	Retrieval RetrievalLimits `yaml:"retrieval"`
	Window    WindowLimits    `yaml:"window"`
	Metadata  ConfigMetadata  `yaml:"metadata"`
}

// RetrievalLimits tunes search behavior.
type RetrievalLimits struct {
	Threshold     float64 `yaml:"threshold"`
	Limit         int     `yaml:"limit"`
	MinImportance float64 `yaml:"minImportance"`
}

// WindowLimits tunes the conversation window.
type WindowLimits struct {
	MaxTokens         int `yaml:"maxTokens"`
	MinMessages       int `yaml:"minMessages"`
	ReserveForContext int `yaml:"reserveForContext"`
}

// ConfigMetadata describes the configuration revision.
type ConfigMetadata struct {
	Version   string    `yaml:"version"`
	UpdatedAt time.Time `yaml:"updatedAt"`
}

// DefaultDynamicConfig returns the built-in defaults, used when no file is
// configured or the file is unreadable.
func DefaultDynamicConfig() *DynamicConfig {
	return &DynamicConfig{
		Retrieval: RetrievalLimits{
			Threshold: 0.6,
			Limit:     20,
		},
		Window: WindowLimits{
			MaxTokens:         8000,
			MinMessages:       5,
			ReserveForContext: 2000,
		},
	}
}

// Watcher watches the dynamic configuration file for changes.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  *DynamicConfig
	onChange []func(*DynamicConfig)
}

// NewWatcher loads the file at path and begins watching it. Change callbacks
// run on the watcher goroutine.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	current, err := loadDynamicConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch registered on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		path:    path,
		watcher: fsw,
		logger:  logger,
		stopCh:  make(chan struct{}),
		current: current,
	}
	go w.loop()
	return w, nil
}

// Current returns the latest configuration snapshot.
func (w *Watcher) Current() *DynamicConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked with each reloaded configuration.
func (w *Watcher) OnChange(fn func(*DynamicConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Stop ends watching.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
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
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	updated, err := loadDynamicConfig(w.path)
	if err != nil {
		// Keep serving the last good config.
		w.logger.Warn("failed to reload dynamic config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = updated
	callbacks := append([]func(*DynamicConfig){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("dynamic config reloaded",
		zap.String("path", w.path),
		zap.String("version", updated.Metadata.Version))
	for _, fn := range callbacks {
		fn(updated)
	}
}

func loadDynamicConfig(path string) (*DynamicConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultDynamicConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
