// executor.go: Concurrent plugin execution with progress, cancellation and timeout
//
// This file implements the execution engine. Each accepted run gets a
// dedicated worker goroutine and, when a timeout is configured, a dedicated
// monitor goroutine. All shared bookkeeping (active runs, cancellation
// tokens, start times, result records) lives in maps guarded by a single
// coordination lock; the lock is held only for the duration of each map
// operation, never across plugin execution.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"fmt"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// DefaultPluginTimeout is applied when the caller requests the default via
// UseDefaultTimeout and the executor config does not override it.
const DefaultPluginTimeout = 5 * time.Minute

// DefaultMonitorInterval is the timeout monitor's polling period.
const DefaultMonitorInterval = time.Second

// UseDefaultTimeout selects the executor's configured default timeout when
// passed to ExecutePlugin. A zero timeout disables the deadline entirely.
const UseDefaultTimeout time.Duration = -1

// RunCallbacks carries the host-side observers for one run. Any field may be
// nil. All callbacks are invoked from the worker goroutine; marshaling to a
// UI thread is the host's responsibility. A callback that panics is recovered
// and logged; it never aborts the run it observes.
type RunCallbacks struct {
	// OnLog receives human-readable progress and diagnostic messages.
	OnLog func(message string)

	// OnProgress receives progress updates clamped into [0,100].
	OnProgress func(percent int)

	// OnComplete receives the terminal execution record, exactly once.
	OnComplete func(record ExecutionRecord)
}

// ExecutorConfig configures the execution engine.
type ExecutorConfig struct {
	// DefaultTimeout applies to runs started with UseDefaultTimeout.
	// Zero falls back to DefaultPluginTimeout.
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// MonitorInterval is the timeout monitor polling period.
	MonitorInterval time.Duration `json:"monitor_interval" yaml:"monitor_interval"`

	// Settings supplies per-plugin settings injected into run parameters.
	Settings SettingsProvider `json:"-" yaml:"-"`

	// Metrics receives run lifecycle counters and gauges. Optional.
	Metrics MetricsCollector `json:"-" yaml:"-"`

	// Logger receives engine diagnostics. Defaults to a silent logger.
	Logger Logger `json:"-" yaml:"-"`
}

// Executor runs validated plugin entry points concurrently with the caller.
//
// Invariants:
//   - At most one run per plugin id is active at any time.
//   - Status transitions are totally ordered per run; exactly one terminal
//     state is ever reported.
//   - Per-run tracking entries are removed the moment a run is terminal; the
//     ExecutionRecord itself is retained until the next run of the same id.
//   - Cancellation is cooperative: the engine signals intent to stop and the
//     plugin decides when to honor it.
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	logger   Logger
	settings SettingsProvider
	metrics  MetricsCollector

	// Coordination lock for all maps below. Held only for map operations,
	// never while plugin code runs.
	mu      sync.Mutex
	active  map[string]chan struct{} // plugin id -> run completion signal
	tokens  map[string]*CancelToken
	starts  map[string]time.Time
	results map[string]*ExecutionRecord
}

// NewExecutor creates an execution engine over the given registry.
func NewExecutor(registry *Registry, config ExecutorConfig) *Executor {
	setExecutorDefaults(&config)

	return &Executor{
		registry: registry,
		config:   config,
		logger:   config.Logger,
		settings: config.Settings,
		metrics:  config.Metrics,
		active:   make(map[string]chan struct{}),
		tokens:   make(map[string]*CancelToken),
		starts:   make(map[string]time.Time),
		results:  make(map[string]*ExecutionRecord),
	}
}

// setExecutorDefaults sets default values for unspecified config fields.
func setExecutorDefaults(config *ExecutorConfig) {
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if config.MonitorInterval == 0 {
		config.MonitorInterval = DefaultMonitorInterval
	}
	if config.Settings == nil {
		config.Settings = StaticSettings(nil)
	}
}

// ExecutePlugin starts a plugin run off the caller's goroutine.
//
// The descriptor is looked up and the plugin re-validated immediately before
// the run as a defense against stale registry state. Under the coordination
// lock, the at-most-one-run-per-id invariant is enforced, the PENDING record
// and tracking entries are created, and the worker (plus monitor, when
// timeout > 0) is spawned.
//
// Returns true when the run was accepted. The caller must not assume
// synchronous completion: callbacks fire from the worker goroutine.
//
// A timeout of UseDefaultTimeout applies the configured default; zero
// disables the deadline. Timeout enforcement is cooperative; see the
// package documentation.
func (e *Executor) ExecutePlugin(id string, params map[string]any, callbacks RunCallbacks, timeout time.Duration) bool {
	desc := e.registry.GetPlugin(id)
	if desc == nil {
		e.logger.Warn("Execution rejected: plugin not found", "plugin_id", id)
		e.emitLog(callbacks, fmt.Sprintf("Plugin not found: %s", id))
		return false
	}

	if ok, reason := e.registry.ValidatePlugin(id); !ok {
		e.logger.Warn("Execution rejected: plugin validation failed",
			"plugin_id", id,
			"reason", reason)
		e.emitLog(callbacks, fmt.Sprintf("Plugin validation failed: %s", reason))
		return false
	}

	if timeout == UseDefaultTimeout {
		timeout = e.effectiveDefaultTimeout()
	}

	e.mu.Lock()

	if _, running := e.active[id]; running {
		e.mu.Unlock()
		e.logger.Warn("Execution rejected: plugin already running", "plugin_id", id)
		e.emitLog(callbacks, fmt.Sprintf("Plugin %s is already running", id))
		return false
	}

	token := NewCancelToken()
	done := make(chan struct{})
	now := timecache.CachedTime()

	e.tokens[id] = token
	e.active[id] = done
	e.starts[id] = now
	e.results[id] = &ExecutionRecord{
		PluginID:  id,
		RunID:     uuid.NewString(),
		Status:    StatusPending,
		Message:   "Starting...",
		StartedAt: now,
	}

	e.recordRunMetric("runs_started_total", nil)
	e.updateActiveGauge(len(e.active))
	e.mu.Unlock()

	go e.runWorker(*desc, params, callbacks, token, done, timeout)
	if timeout > 0 {
		SafeGo(e.logger, func() {
			e.runMonitor(id, timeout, token, done, callbacks)
		})
	}

	return true
}

// effectiveDefaultTimeout resolves the configured default.
func (e *Executor) effectiveDefaultTimeout() time.Duration {
	if e.config.DefaultTimeout > 0 {
		return e.config.DefaultTimeout
	}
	return DefaultPluginTimeout
}

// runWorker is the per-run worker body. It owns the run's state machine from
// RUNNING to its terminal state and performs all cleanup on every exit path.
func (e *Executor) runWorker(desc PluginDescriptor, params map[string]any, callbacks RunCallbacks, token *CancelToken, done chan struct{}, timeout time.Duration) {
	defer close(done)
	defer withStackRecover(e.logger)()

	id := desc.ID
	start := time.Now()

	e.mu.Lock()
	record := e.results[id]
	record.Status = StatusRunning
	record.Message = "Executing plugin..."
	e.mu.Unlock()

	safeLog := func(message string) {
		e.emitLog(callbacks, message)
	}
	safeProgress := func(value int) {
		clamped := clampProgress(value)
		e.mu.Lock()
		record.Progress = clamped
		e.mu.Unlock()
		if callbacks.OnProgress != nil {
			guardCallback(e.logger, "progress", func() {
				callbacks.OnProgress(clamped)
			})
		}
	}

	if timeout > 0 {
		safeLog(fmt.Sprintf("Starting plugin: %s (timeout: %s)", desc.Name, timeout))
	} else {
		safeLog(fmt.Sprintf("Starting plugin: %s", desc.Name))
	}
	safeProgress(0)

	runErr := e.invokeEntry(id, params, safeLog, safeProgress, token)
	elapsed := time.Since(start)

	e.mu.Lock()
	record.ExecutionTime = elapsed
	switch {
	case runErr != nil:
		record.Status = StatusError
		record.Message = fmt.Sprintf("Error: %v", runErr)
		record.Error = runErr.Error()
	case token.IsSet():
		if record.Status == StatusTimeout {
			// The monitor already labeled the outcome; never downgrade.
		} else {
			record.Status = StatusCancelled
			record.Message = "Cancelled by user"
		}
	default:
		record.Status = StatusSuccess
		record.Message = "Completed successfully"
		record.Progress = 100
	}
	terminal := record.Status
	snapshot := *record
	e.mu.Unlock()

	switch terminal {
	case StatusError:
		e.logger.Error("Plugin run failed",
			"plugin_id", id,
			"run_id", snapshot.RunID,
			"error", snapshot.Error)
		safeLog(fmt.Sprintf("Plugin error: %s", snapshot.Error))
		safeProgress(0)
	case StatusCancelled:
		safeLog("Plugin execution cancelled")
	case StatusTimeout:
		safeLog(fmt.Sprintf("Plugin timed out after %.1fs", elapsed.Seconds()))
	default:
		safeLog(fmt.Sprintf("Plugin completed: %s (%.1fs)", desc.Name, elapsed.Seconds()))
		safeProgress(100)
	}

	e.recordRunMetric("runs_completed_total", map[string]string{"status": terminal.String()})

	if callbacks.OnComplete != nil {
		guardCallback(e.logger, "complete", func() {
			callbacks.OnComplete(snapshot)
		})
	}

	e.mu.Lock()
	delete(e.active, id)
	delete(e.tokens, id)
	delete(e.starts, id)
	e.updateActiveGauge(len(e.active))
	e.mu.Unlock()
}

// invokeEntry loads a fresh module for this run, injects the log callback
// and the plugin's settings into the parameter map, and calls the entry
// point. Plugin code receives its own copy of the parameters.
func (e *Executor) invokeEntry(id string, params map[string]any, safeLog func(string), safeProgress func(int), token *CancelToken) error {
	module, err := e.registry.LoadPluginModule(id)
	if err != nil {
		return err
	}

	pluginParams := make(map[string]any, len(params)+2)
	for key, value := range params {
		pluginParams[key] = value
	}
	pluginParams["log"] = safeLog
	pluginParams["settings"] = e.settings.GetPluginSettings(id)

	safeLog("Executing plugin...")
	return module.Invoke(pluginParams, safeProgress, token)
}

// runMonitor enforces the wall-clock timeout for one run. It polls at the
// configured interval and exits quietly as soon as the run completes. When
// the deadline passes while the worker is still alive, it sets the
// cancellation token and labels the record TIMEOUT in the same critical
// section, then exits. It never interrupts the worker itself; termination
// stays cooperative.
func (e *Executor) runMonitor(id string, timeout time.Duration, token *CancelToken, done chan struct{}, callbacks RunCallbacks) {
	start := timecache.CachedTime()
	ticker := time.NewTicker(e.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if timecache.CachedTime().Sub(start) < timeout {
			continue
		}

		e.mu.Lock()
		if record, ok := e.results[id]; ok && record.Status == StatusRunning {
			token.Set()
			record.Status = StatusTimeout
			record.Message = fmt.Sprintf("Execution timeout after %s", timeout)
			record.Error = "Plugin exceeded maximum execution time"
		}
		e.mu.Unlock()

		e.logger.Warn("Plugin execution timeout", "plugin_id", id, "timeout", timeout)
		e.emitLog(callbacks, fmt.Sprintf("Plugin execution timeout (%s) - cancelling...", timeout))
		e.recordRunMetric("runs_timed_out_total", nil)
		return
	}
}

// CancelPlugin requests cancellation of an active run. Returns whether a
// cancellation token was found for the id. Does not block for completion.
func (e *Executor) CancelPlugin(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	token, ok := e.tokens[id]
	if !ok {
		return false
	}
	token.Set()
	e.logger.Info("Cancellation requested", "plugin_id", id)
	return true
}

// CancelAll requests cancellation of every active run. It snapshots the
// current active ids first so the tracking map is never mutated mid-iteration.
func (e *Executor) CancelAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.tokens))
	for id := range e.tokens {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.CancelPlugin(id)
	}
}

// IsPluginRunning reports whether a run for the id is currently active.
func (e *Executor) IsPluginRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.active[id]
	return ok
}

// GetResult returns a copy of the most recent execution record for the id.
// The record of a completed run remains available until the next run of the
// same plugin overwrites it.
func (e *Executor) GetResult(id string) (ExecutionRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.results[id]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *record, true
}

// GetExecutionTime returns the live elapsed time of an active run, or the
// stored terminal execution time of the last completed run.
func (e *Executor) GetExecutionTime(id string) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if start, ok := e.starts[id]; ok {
		return timecache.CachedTime().Sub(start), true
	}
	if record, ok := e.results[id]; ok && record.ExecutionTime > 0 {
		return record.ExecutionTime, true
	}
	return 0, false
}

// GetActivePlugins returns the ids of all currently running plugins.
func (e *Executor) GetActivePlugins() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// WaitForCompletion blocks until the run for the id finishes or the wait
// timeout elapses. A non-positive timeout waits indefinitely. Returns whether
// the run finished; an id with no active run is reported as finished.
func (e *Executor) WaitForCompletion(id string, timeout time.Duration) bool {
	e.mu.Lock()
	done, ok := e.active[id]
	e.mu.Unlock()

	if !ok {
		return true
	}

	if timeout <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// emitLog forwards a message to the host's log callback under panic guard.
func (e *Executor) emitLog(callbacks RunCallbacks, message string) {
	if callbacks.OnLog == nil {
		return
	}
	guardCallback(e.logger, "log", func() {
		callbacks.OnLog(message)
	})
}

// clampProgress clamps a reported progress value into [0,100].
func clampProgress(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

// recordRunMetric increments a run lifecycle counter when metrics are enabled.
func (e *Executor) recordRunMetric(name string, labels map[string]string) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncrementCounter("taskdeck_"+name, labels, 1)
}

// updateActiveGauge publishes the active-run count. Callers hold the lock.
func (e *Executor) updateActiveGauge(count int) {
	if e.metrics == nil {
		return
	}
	e.metrics.SetGauge("taskdeck_active_runs", nil, float64(count))
}
