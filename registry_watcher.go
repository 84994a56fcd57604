// registry_watcher.go: Manifest change detection and automatic re-discovery
//
// The host shell keeps its plugin list current by watching the manifests of
// discovered plugins: when any of them changes on disk, the watcher re-runs
// the discovery pass and notifies subscribed handlers with the refreshed
// descriptor set. File change detection is delegated to Argus.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// DiscoveryEvent describes a registry refresh triggered by a manifest change.
type DiscoveryEvent struct {
	// Type is "manifest_changed" or "manifest_deleted".
	Type string `json:"type"`

	// Timestamp of the refresh.
	Timestamp time.Time `json:"timestamp"`

	// Path of the manifest that triggered the refresh.
	Path string `json:"path"`

	// Plugins is the refreshed descriptor set.
	Plugins []PluginDescriptor `json:"plugins"`
}

// DiscoveryEventHandler handles registry refresh events.
type DiscoveryEventHandler func(event DiscoveryEvent)

// RegistryWatcherOptions configures manifest watching.
type RegistryWatcherOptions struct {
	// PollInterval for manifest change detection. Defaults to 2s.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// CacheTTL for file stat caching. Defaults to half the poll interval.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultRegistryWatcherOptions returns the default watcher options.
func DefaultRegistryWatcherOptions() RegistryWatcherOptions {
	return RegistryWatcherOptions{
		PollInterval: 2 * time.Second,
	}
}

// RegistryWatcher keeps a Registry current by watching the manifests found
// in the last discovery pass and re-running discovery when one changes.
//
// Watched paths are fixed at Start from the current descriptor set; plugins
// added later are picked up by the next explicit DiscoverPlugins call or
// watcher restart. Handlers run on a guarded goroutine so a panicking
// subscriber never disturbs the watcher.
type RegistryWatcher struct {
	registry *Registry
	logger   Logger
	options  RegistryWatcherOptions

	watcher  *argus.Watcher
	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	mutex    sync.Mutex // protects start/stop operations only

	handlerMu sync.RWMutex
	handlers  []DiscoveryEventHandler
}

// NewRegistryWatcher creates a manifest watcher over the given registry.
func NewRegistryWatcher(registry *Registry, options RegistryWatcherOptions, logger Logger) *RegistryWatcher {
	if logger == nil {
		logger = DefaultLogger()
	}
	if options.PollInterval == 0 {
		options.PollInterval = DefaultRegistryWatcherOptions().PollInterval
	}
	if options.CacheTTL == 0 {
		options.CacheTTL = options.PollInterval / 2
	}

	return &RegistryWatcher{
		registry: registry,
		logger:   logger,
		options:  options,
	}
}

// OnEvent subscribes a handler to registry refresh events.
func (rw *RegistryWatcher) OnEvent(handler DiscoveryEventHandler) {
	rw.handlerMu.Lock()
	defer rw.handlerMu.Unlock()
	rw.handlers = append(rw.handlers, handler)
}

// Start runs a discovery pass and begins watching every discovered manifest.
func (rw *RegistryWatcher) Start() error {
	if rw.stopped.Load() {
		return NewDiscoveryError("registry watcher has been permanently stopped", nil)
	}

	rw.mutex.Lock()
	defer rw.mutex.Unlock()

	if !rw.enabled.CompareAndSwap(false, true) {
		return NewDiscoveryError("registry watcher is already running", nil)
	}

	plugins := rw.registry.DiscoverPlugins()

	watcher := argus.New(argus.Config{
		PollInterval:         rw.options.PollInterval,
		CacheTTL:             rw.options.CacheTTL,
		MaxWatchedFiles:      len(plugins) + 1,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			rw.logger.Error("Manifest watching error", "error", err, "file", filepath)
		},
	})
	rw.watcher = watcher

	watched := 0
	for _, desc := range plugins {
		manifestPath, ok := rw.registry.ManifestPath(desc.ID)
		if !ok {
			continue
		}
		if err := watcher.Watch(manifestPath, rw.handleManifestChange); err != nil {
			rw.logger.Warn("Failed to watch manifest",
				"plugin_id", desc.ID,
				"manifest", manifestPath,
				"error", err)
			continue
		}
		watched++
	}

	if err := watcher.Start(); err != nil {
		rw.enabled.Store(false)
		return NewDiscoveryError("failed to start manifest watcher", err)
	}

	rw.logger.Info("Registry watcher started",
		"watched_manifests", watched,
		"poll_interval", rw.options.PollInterval)
	return nil
}

// Stop permanently stops the registry watcher.
func (rw *RegistryWatcher) Stop() error {
	if rw.stopped.Load() {
		return nil
	}

	var stopErr error
	rw.stopOnce.Do(func() {
		rw.mutex.Lock()
		defer rw.mutex.Unlock()

		if !rw.enabled.CompareAndSwap(true, false) {
			return
		}
		rw.stopped.Store(true)

		if err := rw.watcher.Stop(); err != nil {
			stopErr = NewDiscoveryError("failed to stop manifest watcher", err)
			return
		}
		rw.logger.Info("Registry watcher stopped")
	})
	return stopErr
}

// handleManifestChange re-runs discovery and notifies subscribers.
func (rw *RegistryWatcher) handleManifestChange(event argus.ChangeEvent) {
	eventType := "manifest_changed"
	if event.IsDelete {
		eventType = "manifest_deleted"
	}

	rw.logger.Info("Plugin manifest changed, re-running discovery",
		"path", event.Path,
		"type", eventType)

	plugins := rw.registry.DiscoverPlugins()
	rw.emit(DiscoveryEvent{
		Type:      eventType,
		Timestamp: timecache.CachedTime(),
		Path:      event.Path,
		Plugins:   plugins,
	})
}

// emit delivers an event to all subscribed handlers.
func (rw *RegistryWatcher) emit(event DiscoveryEvent) {
	rw.handlerMu.RLock()
	handlers := make([]DiscoveryEventHandler, len(rw.handlers))
	copy(handlers, rw.handlers)
	rw.handlerMu.RUnlock()

	for _, handler := range handlers {
		h := handler
		SafeGo(rw.logger, func() {
			h(event)
		})
	}
}
