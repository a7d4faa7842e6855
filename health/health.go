// Package health tracks consecutive call failures independently of the
// circuit breaker and declares the connection unhealthy after a streak.
// Recovery is optimistic: once the cool-down interval has passed since the
// last failure, the connection is assumed healthy again without a verified
// reconnect.
package health

import (
	"sync"
	"time"
)

// Defaults applied by New for zero arguments.
const (
	DefaultMaxFailures   = 3
	DefaultCheckInterval = 30 * time.Second
)

// Monitor is a failure-streak tracker.
type Monitor struct {
	maxFailures   int
	checkInterval time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
	healthy     bool
}

// New creates a healthy Monitor. Zero arguments take the package defaults.
func New(maxFailures int, checkInterval time.Duration) *Monitor {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Monitor{
		maxFailures:   maxFailures,
		checkInterval: checkInterval,
		lastSuccess:   time.Now(),
		healthy:       true,
	}
}

// RecordSuccess resets the failure streak and marks the connection healthy.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.lastSuccess = time.Now()
	m.healthy = true
}

// RecordFailure extends the failure streak; at maxFailures the connection
// flips unhealthy.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	m.lastFailure = time.Now()
	if m.failures >= m.maxFailures {
		m.healthy = false
	}
}

// Healthy reports the current verdict. While unhealthy it re-evaluates the
// cool-down: once checkInterval has elapsed since the last failure, the
// monitor flips back to healthy and the streak resets.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.healthy {
		return true
	}
	if time.Since(m.lastFailure) >= m.checkInterval {
		m.healthy = true
		m.failures = 0
		return true
	}
	return false
}

// Failures returns the current consecutive-failure count.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// LastSuccess returns when a call last succeeded.
func (m *Monitor) LastSuccess() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess
}

// Reset clears the streak and marks the connection healthy.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
	m.healthy = true
}
