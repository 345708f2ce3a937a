// Package perfmonitor measures wall-clock time spent in a block of work,
// such as one registry sweep, and reports it to a Prometheus observer.
package perfmonitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PerformanceMonitor is a start/stop stopwatch. It is not safe for
// concurrent use; give each measuring goroutine its own monitor.
type PerformanceMonitor struct {
	now       func() time.Time
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor that has not been started.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{now: time.Now}
}

// Measure runs f between Start and Stop and returns the stopped monitor.
func Measure(f func()) *PerformanceMonitor {
	p := NewPerformanceMonitor()
	p.Start()
	f()
	p.Stop()
	return p
}

// Start records the start time and clears any previous stop time.
func (p *PerformanceMonitor) Start() {
	p.startTime = p.now()
	p.endTime = time.Time{}
}

// Stop records the end time. It is a no-op if Start was not called.
func (p *PerformanceMonitor) Stop() {
	if p.startTime.IsZero() {
		return
	}

	p.endTime = p.now()
}

// Reset clears both timestamps.
func (p *PerformanceMonitor) Reset() {
	p.startTime, p.endTime = time.Time{}, time.Time{}
}

// Elapsed returns the time between Start and Stop, or zero if either is
// missing.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns Elapsed in fractional milliseconds.
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}

// ObserveTo records the measurement in seconds on o.
//
// Parameters:
//   - o: A histogram or summary; nil is ignored
//
// Returns:
//   - false if the monitor has not been both started and stopped
func (p *PerformanceMonitor) ObserveTo(o prometheus.Observer) bool {
	if o == nil || p.startTime.IsZero() || p.endTime.IsZero() {
		return false
	}

	o.Observe(p.Elapsed().Seconds())
	return true
}
