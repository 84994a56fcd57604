// testing_helpers_test.go: shared fixtures for registry and executor tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// writePluginDir creates a plugin directory under root with the given manifest
// file and entry script, returning the plugin directory path.
func writePluginDir(t *testing.T, root, dirName, manifestName, manifest, script string) string {
	t.Helper()

	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	if manifestName != "" {
		if err := os.WriteFile(filepath.Join(dir, manifestName), []byte(manifest), 0o600); err != nil {
			t.Fatalf("failed to write manifest: %v", err)
		}
	}
	if script != "" {
		if err := os.WriteFile(filepath.Join(dir, defaultEntryFile), []byte(script), 0o600); err != nil {
			t.Fatalf("failed to write entry script: %v", err)
		}
	}
	return dir
}

// writeJSONPlugin creates a plugin directory with a plugin.json manifest.
func writeJSONPlugin(t *testing.T, root, dirName, manifest, script string) string {
	t.Helper()
	return writePluginDir(t, root, dirName, "plugin.json", manifest, script)
}

// newTestRegistry creates a registry rooted at a temp directory, capturing
// log output in the returned TestLogger.
func newTestRegistry(t *testing.T) (*Registry, *TestLogger, string) {
	t.Helper()

	root := t.TempDir()
	logger := NewTestLogger()
	registry := NewRegistry(RegistryConfig{
		Dir:    root,
		Logger: logger,
	})
	return registry, logger, root
}

// newTestExecutor creates an executor over a fresh test registry with a fast
// monitor tick so timeout tests stay quick.
func newTestExecutor(t *testing.T, config ExecutorConfig) (*Executor, *Registry, *TestLogger, string) {
	t.Helper()

	registry, logger, root := newTestRegistry(t)
	if config.Logger == nil {
		config.Logger = logger
	}
	if config.MonitorInterval == 0 {
		config.MonitorInterval = 10 * time.Millisecond
	}
	executor := NewExecutor(registry, config)
	return executor, registry, logger, root
}

// runRecorder captures callback traffic from a plugin run. All methods are
// safe for concurrent use since callbacks fire from worker goroutines.
type runRecorder struct {
	mu        sync.Mutex
	logs      []string
	progress  []int
	completed []ExecutionRecord
}

func newRunRecorder() *runRecorder {
	return &runRecorder{}
}

func (r *runRecorder) Callbacks() RunCallbacks {
	return RunCallbacks{
		OnLog: func(message string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.logs = append(r.logs, message)
		},
		OnProgress: func(percent int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, percent)
		},
		OnComplete: func(record ExecutionRecord) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, record)
		},
	}
}

func (r *runRecorder) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.logs))
	copy(out, r.logs)
	return out
}

func (r *runRecorder) Progress() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.progress))
	copy(out, r.progress)
	return out
}

func (r *runRecorder) Completed() []ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ExecutionRecord, len(r.completed))
	copy(out, r.completed)
	return out
}

func (r *runRecorder) HasLog(substr string) bool {
	for _, msg := range r.Logs() {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func (r *runRecorder) HasProgress(percent int) bool {
	for _, p := range r.Progress() {
		if p == percent {
			return true
		}
	}
	return false
}

// waitForCondition polls until cond returns true or the deadline expires.
func waitForCondition(t *testing.T, deadline time.Duration, cond func() bool) bool {
	t.Helper()

	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
