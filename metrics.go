// metrics.go: Run lifecycle metrics collection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gotaskdeck

import (
	"sort"
	"strings"
	"sync"
)

// MetricsCollector receives run lifecycle counters and gauges from the
// executor. Hosts can bridge this interface to their monitoring system of
// choice; the engine itself stays transport-agnostic.
type MetricsCollector interface {
	// IncrementCounter adds value to a named counter with optional labels.
	IncrementCounter(name string, labels map[string]string, value int64)

	// SetGauge sets a named gauge with optional labels.
	SetGauge(name string, labels map[string]string, value float64)

	// GetMetrics returns a snapshot of all collected values.
	GetMetrics() map[string]interface{}
}

// InMemoryMetricsCollector is a thread-safe MetricsCollector that keeps all
// values in process memory. Suitable for tests and for hosts that poll
// metrics through GetMetrics.
type InMemoryMetricsCollector struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
}

// NewInMemoryMetricsCollector creates an empty in-memory collector.
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
	}
}

// IncrementCounter implements MetricsCollector.
func (c *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key] += value
}

// SetGauge implements MetricsCollector.
func (c *InMemoryMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key] = value
}

// GetMetrics implements MetricsCollector.
func (c *InMemoryMetricsCollector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for key, value := range c.counters {
		counters[key] = value
	}
	gauges := make(map[string]float64, len(c.gauges))
	for key, value := range c.gauges {
		gauges[key] = value
	}

	return map[string]interface{}{
		"counters": counters,
		"gauges":   gauges,
	}
}

// Counter returns the current value of a counter, for test assertions.
func (c *InMemoryMetricsCollector) Counter(name string, labels map[string]string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[metricKey(name, labels)]
}

// Gauge returns the current value of a gauge, for test assertions.
func (c *InMemoryMetricsCollector) Gauge(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[metricKey(name, labels)]
}

// metricKey builds a stable key from a metric name and its labels.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, key := range keys {
		sb.WriteByte('{')
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(labels[key])
		sb.WriteByte('}')
	}
	return sb.String()
}
