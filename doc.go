// Package gotaskdeck provides plugin discovery and concurrent execution for
// desktop shell applications. It discovers small, independently-authored
// script plugins on the filesystem, validates and dynamically loads each one,
// and runs plugin entry points concurrently with progress reporting,
// cooperative cancellation, and enforced wall-clock timeouts.
//
// Key Features:
//   - Filesystem plugin discovery with per-entry error recovery
//   - Manifest parsing (JSON and YAML) with path-safety validation
//   - Dynamic script loading in a private namespace per plugin
//   - At-most-one concurrent run per plugin identity
//   - Progress clamping, cooperative cancellation, timeout monitoring
//   - Panic-isolated host callbacks and structured logging
//
// Basic Usage:
//
//	registry := gotaskdeck.NewRegistry(gotaskdeck.RegistryConfig{
//		Dir:    "/home/user/.local/share/deck/plugins",
//		Logger: logger,
//	})
//	registry.DiscoverPlugins()
//
//	executor := gotaskdeck.NewExecutor(registry, gotaskdeck.ExecutorConfig{
//		Logger:   logger,
//		Settings: settings,
//	})
//
//	accepted := executor.ExecutePlugin("demo", nil, gotaskdeck.RunCallbacks{
//		OnProgress: func(pct int) { fmt.Printf("%d%%\n", pct) },
//		OnComplete: func(rec gotaskdeck.ExecutionRecord) { fmt.Println(rec.Status) },
//	}, 5*time.Minute)
//
// Plugin Contract:
// A plugin is a directory containing a manifest (plugin.json or plugin.yaml)
// and an entry-point script (run.js) exposing a run(params, progress, cancel)
// function. Cancellation is cooperative: plugin code is expected to poll the
// cancel token and return promptly once it is set. The engine never
// force-terminates a non-cooperating plugin; its record is still marked
// TIMEOUT or CANCELLED while the underlying script runs to completion.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package gotaskdeck
