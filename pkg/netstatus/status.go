// Package netstatus tracks whether the ticket-tracker APIs are reachable,
// based on the outcomes callers report.
//
// The tracker applies hysteresis: one failure moves an online tracker to
// degraded, FailureThreshold consecutive failures declare it offline, and
// RecoveryThreshold consecutive successes bring it back online. Single
// transient errors therefore never flip the status to offline.
package netstatus

import (
	"time"
)

// Status is the network status reported by the tracker.
type Status string

const (
	// StatusOnline means recent requests succeed.
	StatusOnline Status = "online"

	// StatusDegraded means some recent requests failed.
	StatusDegraded Status = "degraded"

	// StatusOffline means FailureThreshold consecutive requests failed.
	StatusOffline Status = "offline"
)

// Default thresholds.
const (
	DefaultFailureThreshold  = 3
	DefaultRecoveryThreshold = 1
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusDegraded, StatusOffline:
		return true
	default:
		return false
	}
}

// gaugeValue maps a status to the value exported by the status gauge.
func (s Status) gaugeValue() float64 {
	switch s {
	case StatusDegraded:
		return 1
	case StatusOffline:
		return 2
	default:
		return 0
	}
}

// Snapshot is a consistent view of the tracker state.
type Snapshot struct {
	Status               Status    `json:"status"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastChange           time.Time `json:"last_change"`
}

// Config holds the tracker thresholds.
type Config struct {
	// FailureThreshold consecutive failures declare the network offline.
	FailureThreshold int

	// RecoveryThreshold consecutive successes bring a degraded or offline
	// network back online.
	RecoveryThreshold int
}

// DefaultConfig returns the default thresholds (3 failures, 1 success).
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  DefaultFailureThreshold,
		RecoveryThreshold: DefaultRecoveryThreshold,
	}
}
