// Package perfmonitor measures wall-clock durations such as how long a room
// stayed between its start and stop transitions.
package perfmonitor

import (
	"sync"
	"time"
)

// PerformanceMonitor records a start and an end instant. Safe for concurrent
// use.
type PerformanceMonitor struct {
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no recorded instants.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start instant, overwriting a previous one.
func (pm *PerformanceMonitor) Start() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.startTime = time.Now()
}

// Stop records the end instant. It is ignored until Start has been called.
func (pm *PerformanceMonitor) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.startTime.IsZero() {
		return
	}

	pm.endTime = time.Now()
}

// Reset clears both instants.
func (pm *PerformanceMonitor) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.startTime = time.Time{}
	pm.endTime = time.Time{}
}

// ElapsedMilliseconds returns end minus start in milliseconds, or 0 unless
// both instants are recorded.
func (pm *PerformanceMonitor) ElapsedMilliseconds() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.startTime.IsZero() || pm.endTime.IsZero() {
		return 0
	}

	return float64(pm.endTime.Sub(pm.startTime)) / float64(time.Millisecond)
}
