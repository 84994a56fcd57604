// types.go: Common data types and structures for the task deck plugin system
//
// This file contains the shared data models used throughout the engine: the
// descriptor produced by discovery, the execution record tracked per run, and
// the status enumeration that drives the per-run state machine.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"sync/atomic"
	"time"
)

// ExecutionStatus represents the state of a single plugin run.
//
// Every run moves through StatusPending into StatusRunning and then into
// exactly one terminal state. Transitions are totally ordered per run; no run
// ever reports two terminal states.
//
//	PENDING → RUNNING → {SUCCESS | CANCELLED | ERROR | TIMEOUT}
//
// StatusPending exists only in the instant between record creation and worker
// start. StatusTimeout is set by the timeout monitor and, once set, is never
// downgraded to StatusCancelled by the worker.
type ExecutionStatus int

const (
	StatusPending ExecutionStatus = iota
	StatusRunning
	StatusSuccess
	StatusCancelled
	StatusError
	StatusTimeout
)

// String returns a human-readable representation of the execution status.
func (s ExecutionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one of the four terminal outcomes.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCancelled, StatusError, StatusTimeout:
		return true
	default:
		return false
	}
}

// PluginDescriptor contains the validated metadata produced by discovery for
// one plugin. Descriptors are immutable once registered: a discovery pass
// replaces the whole set wholesale, never mutates entries in place.
//
// Fields:
//   - ID: Unique plugin identifier, safe for use as a map key and in paths
//   - Name: Display name shown by the host shell
//   - Description: Short human-readable description
//   - Version: Plugin version string (defaults to "1.0.0")
//   - Author: Plugin author (defaults to "Unknown")
//   - Path: Absolute path to the plugin directory, owned by the Registry
//   - Icon: Optional icon reference, relative to the plugin directory
//   - RequiresAdmin: Whether the plugin needs elevated rights to be useful
type PluginDescriptor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Version       string `json:"version"`
	Author        string `json:"author"`
	Path          string `json:"path"`
	Icon          string `json:"icon,omitempty"`
	RequiresAdmin bool   `json:"requires_admin"`
}

// pluginManifest is the on-disk manifest shape (plugin.json / plugin.yaml).
//
// All fields are optional; ID and Name default to the directory name,
// Version to "1.0.0" and Author to "Unknown".
type pluginManifest struct {
	ID            string `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	Version       string `json:"version,omitempty" yaml:"version,omitempty"`
	Author        string `json:"author,omitempty" yaml:"author,omitempty"`
	Icon          string `json:"icon,omitempty" yaml:"icon,omitempty"`
	RequiresAdmin bool   `json:"requires_admin,omitempty" yaml:"requires_admin,omitempty"`
}

// ExecutionRecord tracks one invocation attempt of a plugin.
//
// A record is created when a run is requested, mutated by the executor under
// its coordination lock through the state machine, and retained read-only
// after completion until the next run of the same plugin id overwrites it.
// Callers always receive a copy; the executor owns the stored instance.
//
// Fields:
//   - PluginID: Identity of the plugin this run belongs to
//   - RunID: Unique identifier for this specific run, for log correlation
//   - Status: Current state machine position
//   - Message: Human-readable summary of the current state
//   - Progress: Last reported progress, clamped into [0,100]
//   - Error: Failure detail for ERROR and TIMEOUT outcomes
//   - StartedAt: Wall-clock start of the run
//   - ExecutionTime: Elapsed wall time, set once the run is terminal
type ExecutionRecord struct {
	PluginID      string          `json:"plugin_id"`
	RunID         string          `json:"run_id"`
	Status        ExecutionStatus `json:"status"`
	Message       string          `json:"message"`
	Progress      int             `json:"progress"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	ExecutionTime time.Duration   `json:"execution_time"`
}

// CancelToken is the cooperative cancellation flag shared between the
// executor, the timeout monitor and the running plugin. Plugin code is
// expected to poll IsSet periodically and return promptly once it reports
// true; the engine never forces a stop.
type CancelToken struct {
	set atomic.Bool
}

// NewCancelToken creates an unset cancellation token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Set marks the token as cancelled. Setting an already-set token is a no-op.
func (t *CancelToken) Set() {
	t.set.Store(true)
}

// IsSet reports whether cancellation has been requested.
func (t *CancelToken) IsSet() bool {
	return t.set.Load()
}
