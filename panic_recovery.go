// panic_recovery.go: Standardized panic recovery utilities with stack trace support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"runtime"
)

// withStackRecover returns a panic recovery function that logs panic details
// including full stack trace. Used to guard the per-run worker and monitor
// goroutines so that a panic in engine bookkeeping can never crash the host.
//
// The returned function should be called with defer to ensure proper recovery.
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)

			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// SafeGo executes a function in a new goroutine with automatic panic recovery.
//
// If the function panics, the panic is logged and the goroutine terminates
// gracefully without crashing the application.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// guardCallback invokes a host-supplied callback and recovers any panic it
// raises, diverting the failure to the logger. A misbehaving UI handler must
// never abort a running plugin.
func guardCallback(logger Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered in host callback",
				"callback", name,
				"panic", r)
		}
	}()
	fn()
}
