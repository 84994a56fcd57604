// logging.go: Pluggable logging interface for the task deck plugin system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"sync"
)

// Logger defines the pluggable logging interface for the go-taskdeck library.
//
// This interface enables hosts to integrate any logging framework (zap,
// logrus, zerolog, custom loggers) without external dependencies. The
// library never writes to standard output on its own; everything the engine
// has to say (discovery skips, validation warnings, run transitions,
// recovered callback panics) flows through this interface.
//
// Design principles:
//   - Zero dependencies: Interface has no external logging dependencies
//   - Level-based: Standard log levels (Debug, Info, Warn, Error)
//   - Structured args: Key-value pairs for structured logging
//   - Contextual logging: With() method for adding persistent context
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NoOpLogger provides a silent logger implementation for testing and
// minimal setups. It discards all log messages.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n // Return same instance since it's stateless
}

// DefaultLogger creates a reasonable default logger for the library.
//
// Returns NoOpLogger; hosts should provide their own Logger implementation.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// TestLogger captures log messages for assertions in tests.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message for testing.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

func (t *TestLogger) append(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   level,
		Message: msg,
		Args:    args,
	})
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.append("DEBUG", msg, args) }

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.append("INFO", msg, args) }

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.append("WARN", msg, args) }

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.append("ERROR", msg, args) }

// With implements Logger interface (shares the captured message slice)
func (t *TestLogger) With(args ...any) Logger {
	return t
}

// HasMessage checks if the logger captured a message with the given level and text.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// CountLevel returns the number of captured messages at the given level.
func (t *TestLogger) CountLevel(level string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, msg := range t.Messages {
		if msg.Level == level {
			count++
		}
	}
	return count
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}
