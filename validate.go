// validate.go: Pre-execution plugin validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

// ValidatePlugin checks that a plugin can be executed and returns the reason
// when it cannot.
//
// The checks, in order: the id is registered, the plugin path still resolves
// inside the plugins root, the entry-point script exists and is a regular
// file, the script loads (surfacing the load-failure kind in the reason),
// and the loaded unit exposes a callable run function.
//
// The declared parameter count of the entry function is inspected as a
// non-fatal check: a mismatch against the expected arity is logged as a
// warning and validation still succeeds, preserving forward compatibility
// with plugins written against a slightly different contract version.
func (r *Registry) ValidatePlugin(id string) (bool, string) {
	desc := r.GetPlugin(id)
	if desc == nil {
		return false, NewPluginNotFoundError(id).Error()
	}

	if !r.pathWithinRoot(desc.Path) {
		return false, NewUnsafePluginPathError(desc.Path).Error()
	}

	if _, err := r.entryScriptPath(desc); err != nil {
		return false, err.Error()
	}

	module, err := r.LoadPluginModule(id)
	if err != nil {
		return false, err.Error()
	}

	_, arity, err := module.entry()
	if err != nil {
		return false, err.Error()
	}

	if arity != expectedEntryArity {
		r.logger.Warn("Plugin entry function has unexpected parameter count",
			"plugin_id", id,
			"declared", arity,
			"expected", expectedEntryArity)
	}

	return true, ""
}
