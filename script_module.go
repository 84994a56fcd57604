// script_module.go: Dynamic loading of plugin entry-point scripts
//
// This file implements the loaded-unit abstraction over the embedded
// JavaScript engine. Each load compiles the plugin's entry-point script
// under a private namespace keyed by the plugin id and runs its top-level
// code in a fresh runtime, so two plugins never collide even if they define
// same-named internals. Load failures are split into three distinguishable
// kinds (syntax, import, runtime) so the host can present specific
// remediation text for each.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
)

// entryFunctionName is the function every plugin script must expose.
const entryFunctionName = "run"

// expectedEntryArity is the declared parameter count of the entry function:
// run(params, progress, cancel). A mismatch is a compatibility warning, not
// a validation failure.
const expectedEntryArity = 3

// ScriptModule is a loaded plugin code unit: a compiled script bound to its
// own runtime. Modules are single-use from a concurrency standpoint: the
// underlying runtime is not goroutine-safe, and the executor loads a fresh
// module for every run.
type ScriptModule struct {
	pluginID string
	vm       *goja.Runtime
}

// LoadPluginModule resolves, compiles and instantiates a plugin's entry-point
// script.
//
// Failure taxonomy:
//   - unknown id: plugin-not-found error
//   - entry file missing or unreadable: module load error
//   - compilation failure: syntax-kind error carrying the engine's
//     line/message detail
//   - require() of an unregistered host module during top-level init:
//     import-kind error carrying the dependency name
//   - any other top-level failure: runtime-kind error carrying the original
//     exception text
func (r *Registry) LoadPluginModule(id string) (*ScriptModule, error) {
	desc := r.GetPlugin(id)
	if desc == nil {
		return nil, NewPluginNotFoundError(id)
	}

	entryPath, err := r.entryScriptPath(desc)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(entryPath) // #nosec G304 - path is confined to the plugins root
	if err != nil {
		return nil, NewModuleLoadError(id, "entry script is not readable", err)
	}

	// Private namespace per plugin id.
	program, err := goja.Compile(fmt.Sprintf("taskdeck_plugin_%s", id), string(src), true)
	if err != nil {
		var syntaxErr *goja.CompilerSyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, NewModuleSyntaxError(id, syntaxErr.Error(), err)
		}
		return nil, NewModuleLoadError(id, "script compilation failed", err)
	}

	vm := goja.New()
	missingDep := r.installHostBindings(vm, id)

	if _, err := vm.RunProgram(program); err != nil {
		if dep := *missingDep; dep != "" {
			return nil, NewModuleImportError(id, dep, err)
		}
		return nil, NewModuleRuntimeError(id, err)
	}

	return &ScriptModule{pluginID: id, vm: vm}, nil
}

// entryScriptPath resolves and stats the plugin's entry-point file.
func (r *Registry) entryScriptPath(desc *PluginDescriptor) (string, error) {
	entryPath := filepath.Join(desc.Path, r.config.EntryFile)

	info, err := os.Stat(entryPath)
	if err != nil {
		return "", NewModuleLoadError(desc.ID, "entry script is missing", err)
	}
	if !info.Mode().IsRegular() {
		return "", NewModuleLoadError(desc.ID, "entry script is not a regular file", nil)
	}
	return entryPath, nil
}

// installHostBindings wires the host-side utilities into a fresh runtime and
// returns the location where an unresolved require() records the missing
// dependency name. Recording the name directly is more reliable than
// unwrapping the engine's thrown exception after the fact.
func (r *Registry) installHostBindings(vm *goja.Runtime, pluginID string) *string {
	missingDep := new(string)

	_ = vm.Set("require", func(name string) (goja.Value, error) {
		exports, ok := r.hostModule(name)
		if !ok {
			*missingDep = name
			return nil, NewModuleImportError(pluginID, name, nil)
		}
		return vm.ToValue(exports), nil
	})

	_ = vm.Set("sprintf", fmt.Sprintf)
	_ = vm.Set("sleep", func(ms int64) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	})

	return missingDep
}

// entry resolves the module's entry function and its declared arity.
func (m *ScriptModule) entry() (goja.Callable, int, error) {
	value := m.vm.Get(entryFunctionName)
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, 0, NewMissingEntryError(m.pluginID, entryFunctionName)
	}

	callable, ok := goja.AssertFunction(value)
	if !ok {
		return nil, 0, NewEntryNotCallableError(m.pluginID, entryFunctionName)
	}

	arity := int(value.ToObject(m.vm).Get("length").ToInteger())
	return callable, arity, nil
}

// Invoke calls the module's entry function with the standard plugin
// interface: run(params, progress, cancel). The cancel argument is exposed
// to script code as an object with an isSet() method.
//
// The return value of the entry function is intentionally ignored; run
// status is inferred from the cancellation token and from whether the call
// raised an exception.
func (m *ScriptModule) Invoke(params map[string]any, progress func(int), token *CancelToken) error {
	callable, _, err := m.entry()
	if err != nil {
		return err
	}

	cancelObj := m.vm.NewObject()
	_ = cancelObj.Set("isSet", token.IsSet)

	_, err = callable(goja.Undefined(),
		m.vm.ToValue(params),
		m.vm.ToValue(progress),
		cancelObj)
	return err
}
