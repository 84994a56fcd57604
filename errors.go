// errors.go: structured error definitions for the task deck plugin system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"github.com/agilira/go-errors"
)

// Error codes for the go-taskdeck system
const (
	// Registry and discovery errors (1000-1099)
	ErrCodePluginNotFound    = "TASKDECK_1001"
	ErrCodeInvalidPluginID   = "TASKDECK_1002"
	ErrCodeDuplicatePluginID = "TASKDECK_1003"
	ErrCodeUnsafePluginPath  = "TASKDECK_1004"
	ErrCodeManifestParse     = "TASKDECK_1005"
	ErrCodeDiscoveryError    = "TASKDECK_1006"

	// Module loading errors (1100-1199)
	ErrCodeModuleLoad      = "TASKDECK_1101"
	ErrCodeModuleSyntax    = "TASKDECK_1102"
	ErrCodeModuleImport    = "TASKDECK_1103"
	ErrCodeModuleRuntime   = "TASKDECK_1104"
	ErrCodeMissingEntry    = "TASKDECK_1105"
	ErrCodeEntryNotCallble = "TASKDECK_1106"

	// Validation errors (1200-1299)
	ErrCodeValidationFailed = "TASKDECK_1201"

	// Execution errors (1300-1399)
	ErrCodeExecutionFailed  = "TASKDECK_1301"
	ErrCodeExecutionTimeout = "TASKDECK_1302"
	ErrCodeRunCancelled     = "TASKDECK_1303"
	ErrCodeAlreadyRunning   = "TASKDECK_1304"

	// Settings errors (1400-1499)
	ErrCodeSettingsLoad    = "TASKDECK_1401"
	ErrCodeSettingsWatcher = "TASKDECK_1402"
)

// Registry and discovery error constructors

func NewPluginNotFoundError(id string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("The requested plugin is not registered").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewInvalidPluginIDError(id string, dir string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginID, "Invalid plugin id").
		WithUserMessage("Plugin id must be non-empty and must not contain path separators or parent-directory tokens").
		WithContext("plugin_id", id).
		WithContext("plugin_dir", dir).
		WithSeverity("error")
}

func NewDuplicatePluginIDError(id string, dir string) *errors.Error {
	return errors.New(ErrCodeDuplicatePluginID, "Duplicate plugin id").
		WithUserMessage("A plugin with this id was already discovered; the first entry is kept").
		WithContext("plugin_id", id).
		WithContext("plugin_dir", dir).
		WithSeverity("warning")
}

func NewUnsafePluginPathError(path string) *errors.Error {
	return errors.New(ErrCodeUnsafePluginPath, "Unsafe plugin path").
		WithUserMessage("Plugin path resolves outside the plugins directory").
		WithContext("attempted_path", path).
		WithSeverity("error")
}

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParse, "Manifest parse error").
		WithUserMessage("Failed to parse the plugin manifest").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

func NewDiscoveryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDiscoveryError, "Discovery error: "+message).
		WithUserMessage("Plugin discovery failed").
		WithSeverity("error")
}

// Module loading error constructors.
//
// Syntax, import and runtime failures are three distinct kinds so the host
// can present different remediation text for each: the offending line for
// syntax errors, the missing dependency name for import errors, and the
// original failure text for initialization errors.

func NewModuleLoadError(id string, message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleLoad, "Module load error: "+message).
		WithUserMessage("The plugin entry point could not be read or instantiated").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewModuleSyntaxError(id string, detail string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleSyntax, "Syntax error in plugin script").
		WithUserMessage("The plugin script contains a syntax error").
		WithContext("plugin_id", id).
		WithContext("detail", detail).
		WithSeverity("error")
}

func NewModuleImportError(id string, dependency string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleImport, "Missing plugin dependency").
		WithUserMessage("The plugin requires a host module that is not registered").
		WithContext("plugin_id", id).
		WithContext("dependency", dependency).
		WithSeverity("error")
}

func NewModuleRuntimeError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleRuntime, "Plugin initialization error").
		WithUserMessage("The plugin script failed during top-level initialization").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewMissingEntryError(id string, entry string) *errors.Error {
	return errors.New(ErrCodeMissingEntry, "Missing plugin entry point").
		WithUserMessage("The plugin script does not expose the expected entry function").
		WithContext("plugin_id", id).
		WithContext("entry", entry).
		WithSeverity("error")
}

func NewEntryNotCallableError(id string, entry string) *errors.Error {
	return errors.New(ErrCodeEntryNotCallble, "Plugin entry point is not callable").
		WithUserMessage("The plugin exposes the entry name but it is not a function").
		WithContext("plugin_id", id).
		WithContext("entry", entry).
		WithSeverity("error")
}

// Validation error constructor

func NewValidationError(id string, reason string) *errors.Error {
	return errors.New(ErrCodeValidationFailed, "Plugin validation failed: "+reason).
		WithUserMessage("The plugin cannot be executed in its current state").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

// Execution error constructors

func NewExecutionFailedError(id string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeExecutionFailed, "Plugin execution failed").
		WithUserMessage("The plugin raised an error while executing").
		WithContext("plugin_id", id).
		WithSeverity("error")
}

func NewExecutionTimeoutError(id string, timeout interface{}) *errors.Error {
	return errors.New(ErrCodeExecutionTimeout, "Plugin execution timeout").
		WithUserMessage("The plugin exceeded its maximum execution time").
		WithContext("plugin_id", id).
		WithContext("timeout", timeout).
		WithSeverity("warning").
		AsRetryable()
}

func NewRunCancelledError(id string) *errors.Error {
	return errors.New(ErrCodeRunCancelled, "Plugin run cancelled").
		WithUserMessage("The plugin run was cancelled on request").
		WithContext("plugin_id", id).
		WithSeverity("warning")
}

func NewAlreadyRunningError(id string) *errors.Error {
	return errors.New(ErrCodeAlreadyRunning, "Plugin already running").
		WithUserMessage("Only one concurrent run per plugin is allowed").
		WithContext("plugin_id", id).
		WithSeverity("warning")
}

// Settings error constructors

func NewSettingsLoadError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeSettingsLoad, "Settings load error").
		WithUserMessage("Failed to read or parse the settings file").
		WithContext("settings_path", path).
		WithSeverity("error")
}

func NewSettingsWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeSettingsWatcher, "Settings watcher error: "+message).
		WithUserMessage("Settings file monitoring failed").
		WithSeverity("error")
}
