// settings.go: Per-plugin settings collaborator with Argus hot reload
//
// The execution engine reads settings once per run and injects them into the
// plugin's parameters; it never writes them back. FileSettings backs the
// provider with a JSON or YAML file on disk and keeps it current through the
// Argus file watcher, so the host shell can edit plugin settings without
// restarting anything.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// SettingsProvider supplies per-plugin settings to the execution engine.
// Implementations must be safe for concurrent reads; the engine performs one
// fetch per run.
type SettingsProvider interface {
	// GetPluginSettings returns the settings map for a plugin id. Unknown
	// ids yield an empty map, never nil.
	GetPluginSettings(pluginID string) map[string]any
}

// StaticSettings is a fixed in-memory SettingsProvider, convenient for tests
// and for hosts that manage settings themselves.
type StaticSettings map[string]map[string]any

// GetPluginSettings implements SettingsProvider.
func (s StaticSettings) GetPluginSettings(pluginID string) map[string]any {
	settings, ok := s[pluginID]
	if !ok {
		return map[string]any{}
	}
	copied := make(map[string]any, len(settings))
	for key, value := range settings {
		copied[key] = value
	}
	return copied
}

// settingsFile is the on-disk shape: a top-level "plugins" section mapping
// plugin ids to free-form settings maps.
type settingsFile struct {
	Plugins map[string]map[string]any `json:"plugins" yaml:"plugins"`
}

// FileSettingsOptions configures the settings file watcher.
type FileSettingsOptions struct {
	// PollInterval for file change detection. Defaults to 2s.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// CacheTTL for file stat caching. Defaults to half the poll interval.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// ErrorHandler receives watcher errors. Defaults to logging.
	ErrorHandler func(err error, filepath string) `json:"-" yaml:"-"`
}

// DefaultFileSettingsOptions returns the default watcher options.
func DefaultFileSettingsOptions() FileSettingsOptions {
	return FileSettingsOptions{
		PollInterval: 2 * time.Second,
	}
}

// FileSettings is a SettingsProvider backed by a JSON or YAML file with
// optional hot reload through Argus.
type FileSettings struct {
	path    string
	logger  Logger
	options FileSettingsOptions

	mu   sync.RWMutex
	data map[string]map[string]any

	watcher  *argus.Watcher
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	mutex    sync.Mutex // protects start/stop operations only
}

// NewFileSettings creates a file-backed settings provider and performs the
// initial load. A missing file is not an error; it yields empty settings
// until the file appears and a reload is triggered.
func NewFileSettings(path string, options FileSettingsOptions, logger Logger) (*FileSettings, error) {
	if logger == nil {
		logger = DefaultLogger()
	}
	if options.PollInterval == 0 {
		options.PollInterval = DefaultFileSettingsOptions().PollInterval
	}
	if options.CacheTTL == 0 {
		options.CacheTTL = options.PollInterval / 2
	}

	fs := &FileSettings{
		path:    path,
		logger:  logger,
		options: options,
		data:    make(map[string]map[string]any),
	}

	if err := fs.reload(); err != nil {
		if os.IsNotExist(underlyingCause(err)) {
			logger.Debug("Settings file does not exist yet", "path", path)
		} else {
			return nil, err
		}
	}

	return fs, nil
}

// GetPluginSettings implements SettingsProvider.
func (fs *FileSettings) GetPluginSettings(pluginID string) map[string]any {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	settings, ok := fs.data[pluginID]
	if !ok {
		return map[string]any{}
	}
	copied := make(map[string]any, len(settings))
	for key, value := range settings {
		copied[key] = value
	}
	return copied
}

// Watch begins monitoring the settings file for changes. Each detected
// change triggers a reload; a reload failure keeps the previous settings.
func (fs *FileSettings) Watch() error {
	if fs.stopped.Load() {
		return NewSettingsWatcherError("settings watcher has been permanently stopped", nil)
	}

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if !fs.enabled.CompareAndSwap(false, true) {
		return NewSettingsWatcherError("settings watcher is already running", nil)
	}

	watcher := argus.New(argus.Config{
		PollInterval:         fs.options.PollInterval,
		CacheTTL:             fs.options.CacheTTL,
		MaxWatchedFiles:      5,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			if fs.options.ErrorHandler != nil {
				fs.options.ErrorHandler(err, filepath)
			} else {
				fs.logger.Error("Settings file watching error", "error", err, "file", filepath)
			}
		},
	})
	fs.watcher = watcher

	if err := watcher.Watch(fs.path, fs.handleChange); err != nil {
		fs.enabled.Store(false)
		return NewSettingsWatcherError("failed to watch settings file", err)
	}
	if err := watcher.Start(); err != nil {
		fs.enabled.Store(false)
		return NewSettingsWatcherError("failed to start settings watcher", err)
	}

	fs.logger.Info("Settings watcher started",
		"path", fs.path,
		"poll_interval", fs.options.PollInterval)
	return nil
}

// Stop permanently stops the settings watcher. The provider keeps serving
// the last loaded settings afterwards.
func (fs *FileSettings) Stop() error {
	if fs.stopped.Load() {
		return nil
	}

	var stopErr error
	fs.stopOnce.Do(func() {
		fs.mutex.Lock()
		defer fs.mutex.Unlock()

		if !fs.enabled.CompareAndSwap(true, false) {
			return
		}
		fs.stopped.Store(true)

		if err := fs.watcher.Stop(); err != nil {
			stopErr = NewSettingsWatcherError("failed to stop settings watcher", err)
			return
		}
		fs.logger.Info("Settings watcher stopped")
	})
	return stopErr
}

// handleChange is the Argus change callback.
func (fs *FileSettings) handleChange(event argus.ChangeEvent) {
	if event.IsDelete {
		fs.mu.Lock()
		fs.data = make(map[string]map[string]any)
		fs.mu.Unlock()
		fs.logger.Warn("Settings file deleted, serving empty settings", "path", fs.path)
		return
	}

	if err := fs.reload(); err != nil {
		fs.logger.Error("Settings reload failed, keeping previous settings",
			"path", fs.path,
			"error", err)
		return
	}
	fs.logger.Info("Settings reloaded", "path", fs.path)
}

// reload reads and parses the settings file, replacing the served data on
// success only.
func (fs *FileSettings) reload() error {
	data, err := os.ReadFile(fs.path) // #nosec G304 - path is host-configured
	if err != nil {
		return NewSettingsLoadError(fs.path, err)
	}

	var parsed settingsFile
	switch strings.ToLower(filepath.Ext(fs.path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return NewSettingsLoadError(fs.path, err)
		}
	default:
		if err := json.Unmarshal(data, &parsed); err != nil {
			return NewSettingsLoadError(fs.path, err)
		}
	}

	if parsed.Plugins == nil {
		parsed.Plugins = make(map[string]map[string]any)
	}

	fs.mu.Lock()
	fs.data = parsed.Plugins
	fs.mu.Unlock()
	return nil
}

// underlyingCause unwraps a coded error down to its root cause.
func underlyingCause(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
