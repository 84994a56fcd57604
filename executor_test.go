// executor_test.go: test coverage for concurrent plugin execution
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"testing"
	"time"
)

// cooperativeLoopScript polls the cancellation token between short sleeps and
// returns promptly once cancellation is requested.
const cooperativeLoopScript = `function run(params, progress, cancel) {
	for (var i = 0; i < 200; i++) {
		if (cancel.isSet()) {
			return;
		}
		sleep(10);
	}
}`

// stubbornScript ignores the cancellation token entirely.
const stubbornScript = `function run(params, progress, cancel) {
	sleep(400);
}`

func TestExecutor_SuccessfulRun(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	script := `function run(params, progress, cancel) {
	progress(50);
	sleep(20);
}`
	writeJSONPlugin(t, root, "worker", `{"id": "worker", "name": "Worker"}`, script)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if !executor.ExecutePlugin("worker", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected execution to be accepted")
	}
	if !executor.WaitForCompletion("worker", 5*time.Second) {
		t.Fatal("run did not complete in time")
	}

	record, ok := executor.GetResult("worker")
	if !ok {
		t.Fatal("expected a result record")
	}
	if record.Status != StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", record.Status)
	}
	if record.Progress != 100 {
		t.Errorf("expected final progress 100, got %d", record.Progress)
	}
	if record.Message != "Completed successfully" {
		t.Errorf("unexpected message: %q", record.Message)
	}
	if record.ExecutionTime <= 0 {
		t.Errorf("expected positive execution time, got %s", record.ExecutionTime)
	}
	if record.RunID == "" {
		t.Error("expected a non-empty run id")
	}
	if record.PluginID != "worker" {
		t.Errorf("expected plugin id 'worker', got %q", record.PluginID)
	}

	if !recorder.HasProgress(50) {
		t.Errorf("expected progress 50 to be reported, got %v", recorder.Progress())
	}
	completed := recorder.Completed()
	if len(completed) != 1 {
		t.Fatalf("expected exactly one completion callback, got %d", len(completed))
	}
	if completed[0].Status != StatusSuccess {
		t.Errorf("expected completion record SUCCESS, got %s", completed[0].Status)
	}
}

func TestExecutor_RejectsUnknownPlugin(t *testing.T) {
	executor, _, _, _ := newTestExecutor(t, ExecutorConfig{})

	recorder := newRunRecorder()
	if executor.ExecutePlugin("ghost", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected execution of unknown plugin to be rejected")
	}
	if !recorder.HasLog("Plugin not found") {
		t.Errorf("expected a not-found log message, got %v", recorder.Logs())
	}
}

func TestExecutor_RejectsInvalidPlugin(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	writeJSONPlugin(t, root, "broken", `{"id": "broken"}`, `function run( {`)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if executor.ExecutePlugin("broken", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected execution of invalid plugin to be rejected")
	}
	if !recorder.HasLog("Plugin validation failed") {
		t.Errorf("expected a validation-failed log message, got %v", recorder.Logs())
	}
}

func TestExecutor_SingleRunPerPlugin(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	writeJSONPlugin(t, root, "slow", `{"id": "slow"}`, cooperativeLoopScript)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if !executor.ExecutePlugin("slow", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected first execution to be accepted")
	}

	second := newRunRecorder()
	if executor.ExecutePlugin("slow", nil, second.Callbacks(), 0) {
		t.Fatal("expected second execution of the same plugin to be rejected")
	}
	if !second.HasLog("already running") {
		t.Errorf("expected an already-running log message, got %v", second.Logs())
	}

	executor.CancelPlugin("slow")
	if !executor.WaitForCompletion("slow", 5*time.Second) {
		t.Fatal("run did not complete after cancellation")
	}
}

func TestExecutor_ConcurrentDistinctPlugins(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	writeJSONPlugin(t, root, "first", `{"id": "first"}`, cooperativeLoopScript)
	writeJSONPlugin(t, root, "second", `{"id": "second"}`, cooperativeLoopScript)
	registry.DiscoverPlugins()

	if !executor.ExecutePlugin("first", nil, RunCallbacks{}, 0) {
		t.Fatal("expected first plugin to start")
	}
	if !executor.ExecutePlugin("second", nil, RunCallbacks{}, 0) {
		t.Fatal("expected second plugin to start")
	}

	active := executor.GetActivePlugins()
	if len(active) != 2 {
		t.Errorf("expected 2 active plugins, got %v", active)
	}
	if !executor.IsPluginRunning("first") || !executor.IsPluginRunning("second") {
		t.Error("expected both plugins to report as running")
	}

	executor.CancelAll()
	if !executor.WaitForCompletion("first", 5*time.Second) {
		t.Fatal("first run did not complete")
	}
	if !executor.WaitForCompletion("second", 5*time.Second) {
		t.Fatal("second run did not complete")
	}

	for _, id := range []string{"first", "second"} {
		record, ok := executor.GetResult(id)
		if !ok {
			t.Fatalf("expected a result for %s", id)
		}
		if record.Status != StatusCancelled {
			t.Errorf("expected %s to be CANCELLED, got %s", id, record.Status)
		}
	}
}

func TestExecutor_CooperativeCancellation(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	writeJSONPlugin(t, root, "loop", `{"id": "loop"}`, cooperativeLoopScript)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if !executor.ExecutePlugin("loop", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected execution to start")
	}

	if !executor.CancelPlugin("loop") {
		t.Fatal("expected cancellation to find an active token")
	}
	if !executor.WaitForCompletion("loop", 5*time.Second) {
		t.Fatal("cancelled run did not complete")
	}

	record, _ := executor.GetResult("loop")
	if record.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", record.Status)
	}
	if record.Message != "Cancelled by user" {
		t.Errorf("unexpected message: %q", record.Message)
	}

	// No active run left, so a second cancel finds nothing.
	if executor.CancelPlugin("loop") {
		t.Error("expected cancel of a finished run to return false")
	}
}

func TestExecutor_Timeout(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	writeJSONPlugin(t, root, "stuck", `{"id": "stuck"}`, stubbornScript)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if !executor.ExecutePlugin("stuck", nil, recorder.Callbacks(), 50*time.Millisecond) {
		t.Fatal("expected execution to start")
	}

	// The monitor must label the record TIMEOUT while the stubborn worker is
	// still sleeping.
	labelled := waitForCondition(t, 2*time.Second, func() bool {
		record, ok := executor.GetResult("stuck")
		return ok && record.Status == StatusTimeout
	})
	if !labelled {
		t.Fatal("record was never labelled TIMEOUT")
	}
	if !executor.IsPluginRunning("stuck") {
		t.Error("expected the worker to still be alive when the timeout fires")
	}

	if !executor.WaitForCompletion("stuck", 5*time.Second) {
		t.Fatal("timed-out run never finished")
	}

	// The worker observed a set token on exit, but TIMEOUT is never
	// downgraded to CANCELLED.
	record, _ := executor.GetResult("stuck")
	if record.Status != StatusTimeout {
		t.Errorf("expected final status TIMEOUT, got %s", record.Status)
	}
	if record.Error == "" {
		t.Error("expected a timeout error detail")
	}
	if executor.IsPluginRunning("stuck") {
		t.Error("expected tracking cleanup after the worker exits")
	}

	completed := recorder.Completed()
	if len(completed) != 1 || completed[0].Status != StatusTimeout {
		t.Errorf("expected one TIMEOUT completion, got %v", completed)
	}
}

func TestExecutor_ZeroTimeoutDisablesMonitor(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	script := `function run(params, progress, cancel) { sleep(80); }`
	writeJSONPlugin(t, root, "untimed", `{"id": "untimed"}`, script)
	registry.DiscoverPlugins()

	if !executor.ExecutePlugin("untimed", nil, RunCallbacks{}, 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("untimed", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	record, _ := executor.GetResult("untimed")
	if record.Status != StatusSuccess {
		t.Errorf("expected SUCCESS with no deadline, got %s", record.Status)
	}
}

func TestExecutor_DefaultTimeoutSentinel(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{
		DefaultTimeout: 50 * time.Millisecond,
	})
	writeJSONPlugin(t, root, "stuck", `{"id": "stuck"}`, stubbornScript)
	registry.DiscoverPlugins()

	if !executor.ExecutePlugin("stuck", nil, RunCallbacks{}, UseDefaultTimeout) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("stuck", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	record, _ := executor.GetResult("stuck")
	if record.Status != StatusTimeout {
		t.Errorf("expected the configured default timeout to apply, got %s", record.Status)
	}
}

func TestExecutor_ScriptErrorProducesErrorStatus(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	script := `function run(params, progress, cancel) { throw new Error("boom"); }`
	writeJSONPlugin(t, root, "faulty", `{"id": "faulty"}`, script)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if !executor.ExecutePlugin("faulty", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("faulty", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	record, _ := executor.GetResult("faulty")
	if record.Status != StatusError {
		t.Errorf("expected ERROR, got %s", record.Status)
	}
	if record.Error == "" {
		t.Error("expected a non-empty error detail")
	}

	completed := recorder.Completed()
	if len(completed) != 1 || completed[0].Status != StatusError {
		t.Errorf("expected one ERROR completion, got %v", completed)
	}
}

func TestExecutor_ProgressClamping(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	script := `function run(params, progress, cancel) {
	progress(-20);
	progress(35);
	progress(150);
}`
	writeJSONPlugin(t, root, "clamped", `{"id": "clamped"}`, script)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if !executor.ExecutePlugin("clamped", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("clamped", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	observed := recorder.Progress()
	for _, p := range observed {
		if p < 0 || p > 100 {
			t.Errorf("progress %d escaped the [0,100] range", p)
		}
	}
	if !recorder.HasProgress(35) {
		t.Errorf("expected progress 35 to pass through unchanged, got %v", observed)
	}
	if !recorder.HasProgress(0) || !recorder.HasProgress(100) {
		t.Errorf("expected clamped extremes 0 and 100, got %v", observed)
	}
}

func TestExecutor_CallbackPanicIsolation(t *testing.T) {
	executor, registry, logger, root := newTestExecutor(t, ExecutorConfig{})
	script := `function run(params, progress, cancel) { progress(10); }`
	writeJSONPlugin(t, root, "survivor", `{"id": "survivor"}`, script)
	registry.DiscoverPlugins()

	callbacks := RunCallbacks{
		OnProgress: func(int) { panic("host callback exploded") },
	}
	if !executor.ExecutePlugin("survivor", nil, callbacks, 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("survivor", 5*time.Second) {
		t.Fatal("run did not complete despite panicking callback")
	}

	record, _ := executor.GetResult("survivor")
	if record.Status != StatusSuccess {
		t.Errorf("expected the run to succeed despite the callback panic, got %s", record.Status)
	}
	if logger.CountLevel("ERROR") == 0 {
		t.Error("expected the callback panic to be logged")
	}
}

func TestExecutor_TrackingCleanup(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	script := `function run(params, progress, cancel) { sleep(20); }`
	writeJSONPlugin(t, root, "tidy", `{"id": "tidy"}`, script)
	registry.DiscoverPlugins()

	if !executor.ExecutePlugin("tidy", nil, RunCallbacks{}, 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("tidy", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	if executor.IsPluginRunning("tidy") {
		t.Error("expected no active run after completion")
	}
	if active := executor.GetActivePlugins(); len(active) != 0 {
		t.Errorf("expected empty active set, got %v", active)
	}
	if _, ok := executor.GetResult("tidy"); !ok {
		t.Error("expected the result record to be retained")
	}
	if elapsed, ok := executor.GetExecutionTime("tidy"); !ok || elapsed <= 0 {
		t.Errorf("expected stored execution time, got %s (ok=%v)", elapsed, ok)
	}
}

func TestExecutor_GetExecutionTimeWhileRunning(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	writeJSONPlugin(t, root, "live", `{"id": "live"}`, cooperativeLoopScript)
	registry.DiscoverPlugins()

	if !executor.ExecutePlugin("live", nil, RunCallbacks{}, 0) {
		t.Fatal("expected execution to start")
	}

	hasElapsed := waitForCondition(t, 2*time.Second, func() bool {
		elapsed, ok := executor.GetExecutionTime("live")
		return ok && elapsed > 0
	})
	if !hasElapsed {
		t.Error("expected a positive live elapsed time")
	}

	executor.CancelPlugin("live")
	executor.WaitForCompletion("live", 5*time.Second)
}

func TestExecutor_WaitForCompletion(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	writeJSONPlugin(t, root, "waiter", `{"id": "waiter"}`, cooperativeLoopScript)
	registry.DiscoverPlugins()

	t.Run("no_active_run_reports_finished", func(t *testing.T) {
		if !executor.WaitForCompletion("never-started", 10*time.Millisecond) {
			t.Error("expected an id with no run to report finished")
		}
	})

	t.Run("returns_false_when_wait_times_out", func(t *testing.T) {
		if !executor.ExecutePlugin("waiter", nil, RunCallbacks{}, 0) {
			t.Fatal("expected execution to start")
		}
		if executor.WaitForCompletion("waiter", 30*time.Millisecond) {
			t.Error("expected the wait to time out while the plugin loops")
		}

		executor.CancelPlugin("waiter")
		if !executor.WaitForCompletion("waiter", 5*time.Second) {
			t.Fatal("run did not complete after cancellation")
		}
	})
}

func TestExecutor_SettingsInjection(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{
		Settings: StaticSettings{
			"greeter": {"greeting": "hello from settings"},
		},
	})
	script := `function run(params, progress, cancel) {
	params.log("greeting=" + params.settings.greeting);
}`
	writeJSONPlugin(t, root, "greeter", `{"id": "greeter"}`, script)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	if !executor.ExecutePlugin("greeter", nil, recorder.Callbacks(), 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("greeter", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	if !recorder.HasLog("greeting=hello from settings") {
		t.Errorf("expected the script to read its settings, got logs %v", recorder.Logs())
	}
}

func TestExecutor_ParamsArePassedThrough(t *testing.T) {
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{})
	script := `function run(params, progress, cancel) {
	params.log("target=" + params.target);
}`
	writeJSONPlugin(t, root, "paramd", `{"id": "paramd"}`, script)
	registry.DiscoverPlugins()

	recorder := newRunRecorder()
	params := map[string]any{"target": "drive-c"}
	if !executor.ExecutePlugin("paramd", params, recorder.Callbacks(), 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("paramd", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	if !recorder.HasLog("target=drive-c") {
		t.Errorf("expected the script to observe caller params, got %v", recorder.Logs())
	}
	// The caller's map must not gain the injected entries.
	if _, ok := params["log"]; ok {
		t.Error("expected the caller's parameter map to stay unmodified")
	}
	if _, ok := params["settings"]; ok {
		t.Error("expected the caller's parameter map to stay unmodified")
	}
}

func TestExecutor_Metrics(t *testing.T) {
	metrics := NewInMemoryMetricsCollector()
	executor, registry, _, root := newTestExecutor(t, ExecutorConfig{Metrics: metrics})
	script := `function run(params, progress, cancel) {}`
	writeJSONPlugin(t, root, "counted", `{"id": "counted"}`, script)
	registry.DiscoverPlugins()

	if !executor.ExecutePlugin("counted", nil, RunCallbacks{}, 0) {
		t.Fatal("expected execution to start")
	}
	if !executor.WaitForCompletion("counted", 5*time.Second) {
		t.Fatal("run did not complete")
	}

	if got := metrics.Counter("taskdeck_runs_started_total", nil); got != 1 {
		t.Errorf("expected 1 started run, got %d", got)
	}
	completedKey := map[string]string{"status": "success"}
	if got := metrics.Counter("taskdeck_runs_completed_total", completedKey); got != 1 {
		t.Errorf("expected 1 successful completion, got %d", got)
	}

	// The gauge drops back to zero once cleanup runs, which happens after the
	// done channel closes.
	settled := waitForCondition(t, 2*time.Second, func() bool {
		return metrics.Gauge("taskdeck_active_runs", nil) == 0
	})
	if !settled {
		t.Errorf("expected active gauge to settle at 0, got %f", metrics.Gauge("taskdeck_active_runs", nil))
	}
}
