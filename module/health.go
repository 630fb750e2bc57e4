package module

import "time"

// HealthStatus is the health of a module as reported by its HealthCheck
// or derived by the health monitor.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "UNKNOWN"
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// String returns the status name.
func (s HealthStatus) String() string { return string(s) }

// IsHealthy returns true if the status represents a healthy state.
func (s HealthStatus) IsHealthy() bool { return s == HealthHealthy }

// Severity ranks statuses for aggregation: UNHEALTHY > DEGRADED > HEALTHY > UNKNOWN.
func (s HealthStatus) Severity() int {
	switch s {
	case HealthUnhealthy:
		return 3
	case HealthDegraded:
		return 2
	case HealthHealthy:
		return 1
	default:
		return 0
	}
}

// WorstStatus returns whichever of a and b ranks higher by Severity.
func WorstStatus(a, b HealthStatus) HealthStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// HealthResult is what a module reports from HealthCheck.
type HealthResult struct {
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// UnhealthyResult builds the synthetic result used when a check fails,
// times out or panics.
func UnhealthyResult(err error) HealthResult {
	return HealthResult{
		Status:    HealthUnhealthy,
		Message:   "health check failed",
		Errors:    []string{err.Error()},
		Timestamp: time.Now(),
	}
}
