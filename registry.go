// registry.go: Filesystem plugin discovery and registration
//
// This file implements the plugin registry: it turns a directory tree into a
// validated, queryable set of PluginDescriptors. Each immediate subdirectory
// of the plugins root that carries a manifest and an entry-point script is a
// candidate plugin; a bad entry is logged and skipped, never aborts the pass.
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

	"gopkg.in/yaml.v3"
)

// Default plugin package layout. A plugin directory must contain one of the
// manifest files and the entry-point script to be discovered.
var defaultManifestNames = []string{"plugin.json", "plugin.yaml", "plugin.yml"}

const defaultEntryFile = "run.js"

// RegistryConfig configures plugin discovery behavior.
type RegistryConfig struct {
	// Dir is the plugins root directory. Created if it does not exist.
	Dir string `json:"dir" yaml:"dir"`

	// ManifestNames are the accepted manifest filenames, probed in order.
	// Defaults to plugin.json, plugin.yaml, plugin.yml.
	ManifestNames []string `json:"manifest_names,omitempty" yaml:"manifest_names,omitempty"`

	// EntryFile is the entry-point script filename. Defaults to run.js.
	EntryFile string `json:"entry_file,omitempty" yaml:"entry_file,omitempty"`

	// Logger receives discovery diagnostics. Defaults to a silent logger.
	Logger Logger `json:"-" yaml:"-"`
}

// Registry discovers and manages plugins with per-entry error recovery.
//
// The registry owns the descriptor set: a discovery pass clears the previous
// result set and rebuilds it wholesale, so descriptors are immutable once
// registered. All accessors are safe for concurrent use.
//
// Key responsibilities:
//   - Directory scanning with path-containment validation
//   - Manifest parsing (JSON and YAML) with defaulted fields
//   - Plugin id safety and uniqueness enforcement
//   - On-demand dynamic loading of plugin entry-point scripts
type Registry struct {
	config RegistryConfig
	logger Logger

	mu        sync.RWMutex
	plugins   map[string]*PluginDescriptor
	manifests map[string]string // plugin id -> manifest path

	hostMu      sync.RWMutex
	hostModules map[string]map[string]any
}

// NewRegistry creates a plugin registry rooted at config.Dir.
//
// The plugins directory is created if missing so a fresh installation starts
// with an empty, valid registry rather than a discovery error.
func NewRegistry(config RegistryConfig) *Registry {
	setRegistryDefaults(&config)

	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		config.Logger.Warn("Failed to create plugins directory",
			"dir", config.Dir,
			"error", err)
	}

	return &Registry{
		config:      config,
		logger:      config.Logger,
		plugins:     make(map[string]*PluginDescriptor),
		manifests:   make(map[string]string),
		hostModules: make(map[string]map[string]any),
	}
}

// setRegistryDefaults sets default values for unspecified config fields.
func setRegistryDefaults(config *RegistryConfig) {
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if len(config.ManifestNames) == 0 {
		config.ManifestNames = defaultManifestNames
	}
	if config.EntryFile == "" {
		config.EntryFile = defaultEntryFile
	}
}

// Dir returns the plugins root directory.
func (r *Registry) Dir() string {
	return r.config.Dir
}

// DiscoverPlugins scans the plugins directory and rebuilds the descriptor set.
//
// The previous result set is cleared first. Every immediate subdirectory is
// examined independently: entries whose resolved path escapes the plugins
// root are rejected, entries missing a manifest or the entry-point script are
// skipped silently, and malformed manifests are logged and skipped. Partial
// success is the normal case; a single bad entry never fails the pass.
//
// Returns the full set of discovered descriptors, sorted by directory order.
func (r *Registry) DiscoverPlugins() []PluginDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins = make(map[string]*PluginDescriptor)
	r.manifests = make(map[string]string)

	entries, err := os.ReadDir(r.config.Dir)
	if err != nil {
		r.logger.Warn("Plugins directory is not readable",
			"dir", r.config.Dir,
			"error", err)
		return nil
	}

	discovered := make([]PluginDescriptor, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(r.config.Dir, entry.Name())
		desc, manifestPath, ok := r.examinePluginDir(entry.Name(), pluginDir)
		if !ok {
			continue
		}

		if _, exists := r.plugins[desc.ID]; exists {
			r.logger.Warn("Duplicate plugin id, keeping first entry",
				"plugin_id", desc.ID,
				"dir", pluginDir)
			continue
		}

		r.plugins[desc.ID] = desc
		r.manifests[desc.ID] = manifestPath
		discovered = append(discovered, *desc)

		r.logger.Info("Discovered plugin",
			"plugin_id", desc.ID,
			"name", desc.Name,
			"version", desc.Version)
	}

	r.logger.Info("Plugin discovery completed", "plugins_found", len(discovered))
	return discovered
}

// examinePluginDir validates a single candidate directory and builds its
// descriptor. Returns ok=false when the entry must be skipped; the reason is
// already logged at the appropriate level.
func (r *Registry) examinePluginDir(dirName, pluginDir string) (*PluginDescriptor, string, bool) {
	if !r.pathWithinRoot(pluginDir) {
		r.logger.Warn("Skipping plugin with unsafe path", "dir", pluginDir)
		return nil, "", false
	}

	manifestPath, ok := r.findManifest(pluginDir)
	if !ok {
		r.logger.Debug("Skipping directory without manifest", "dir", pluginDir)
		return nil, "", false
	}

	entryPath := filepath.Join(pluginDir, r.config.EntryFile)
	if info, err := os.Stat(entryPath); err != nil || info.IsDir() {
		r.logger.Debug("Skipping plugin without entry-point script",
			"dir", pluginDir,
			"entry", r.config.EntryFile)
		return nil, "", false
	}

	manifest, err := parseManifest(manifestPath)
	if err != nil {
		r.logger.Error("Invalid plugin manifest",
			"manifest", manifestPath,
			"error", err)
		return nil, "", false
	}

	id := manifest.ID
	if id == "" {
		id = dirName
	}
	if !safePluginID(id) {
		r.logger.Error("Invalid plugin id",
			"plugin_id", id,
			"dir", pluginDir)
		return nil, "", false
	}

	name := manifest.Name
	if name == "" {
		name = dirName
	}
	version := manifest.Version
	if version == "" {
		version = "1.0.0"
	}
	author := manifest.Author
	if author == "" {
		author = "Unknown"
	}

	return &PluginDescriptor{
		ID:            id,
		Name:          name,
		Description:   manifest.Description,
		Version:       version,
		Author:        author,
		Path:          pluginDir,
		Icon:          manifest.Icon,
		RequiresAdmin: manifest.RequiresAdmin,
	}, manifestPath, true
}

// pathWithinRoot reports whether the resolved path is contained within the
// plugins root. This defends against symlinked plugin directories referencing
// files outside the intended tree.
func (r *Registry) pathWithinRoot(path string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		r.logger.Warn("Path resolution failed", "path", path, "error", err)
		return false
	}
	root, err := filepath.EvalSymlinks(r.config.Dir)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// findManifest probes the configured manifest names in order.
func (r *Registry) findManifest(pluginDir string) (string, bool) {
	for _, name := range r.config.ManifestNames {
		candidate := filepath.Join(pluginDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// parseManifest reads and decodes a manifest file by extension.
func parseManifest(path string) (*pluginManifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is confined to the plugins root
	if err != nil {
		return nil, NewManifestParseError(path, err)
	}

	var manifest pluginManifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return nil, NewManifestParseError(path, err)
		}
	default:
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, NewManifestParseError(path, err)
		}
	}

	return &manifest, nil
}

// safePluginID reports whether an id is usable as a registry key: non-empty,
// no path separators, no parent-directory tokens.
func safePluginID(id string) bool {
	if id == "" {
		return false
	}
	if strings.ContainsAny(id, `/\`) {
		return false
	}
	return !strings.Contains(id, "..")
}

// GetPlugin returns the descriptor for a plugin id, or nil if unknown.
func (r *Registry) GetPlugin(id string) *PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.plugins[id]
	if !ok {
		return nil
	}
	copied := *desc
	return &copied
}

// Plugins returns all discovered descriptors.
func (r *Registry) Plugins() []PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]PluginDescriptor, 0, len(r.plugins))
	for _, desc := range r.plugins {
		all = append(all, *desc)
	}
	return all
}

// ManifestPath returns the manifest file path recorded for a plugin id
// during the last discovery pass.
func (r *Registry) ManifestPath(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	path, ok := r.manifests[id]
	return path, ok
}

// RegisterHostModule makes a named bundle of host functions and values
// available to plugin scripts through require(name). Registering the same
// name twice replaces the previous exports.
func (r *Registry) RegisterHostModule(name string, exports map[string]any) {
	r.hostMu.Lock()
	defer r.hostMu.Unlock()

	r.hostModules[name] = exports
	r.logger.Debug("Registered host module", "module", name)
}

// hostModule resolves a host module by name.
func (r *Registry) hostModule(name string) (map[string]any, bool) {
	r.hostMu.RLock()
	defer r.hostMu.RUnlock()

	exports, ok := r.hostModules[name]
	return exports, ok
}
