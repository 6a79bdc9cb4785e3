// Package lifecycle tracks process readiness for the health endpoint.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle phase.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseServing
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseServing:
		return "serving"
	case PhaseShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

var phase atomic.Int32

// MarkServing records that the listener is up. Has no effect once shutdown began.
func MarkServing() {
	phase.CompareAndSwap(int32(PhaseStarting), int32(PhaseServing))
}

// MarkShuttingDown records that SIGTERM/SIGINT was received. The health
// handler answers 503 from here on.
func MarkShuttingDown() {
	phase.Store(int32(PhaseShuttingDown))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return Current() == PhaseShuttingDown
}

// Reset returns to PhaseStarting. For tests only.
func Reset() {
	phase.Store(int32(PhaseStarting))
}
