package health

import (
	"slices"
	"time"

	"github.com/GoCodeAlone/modkernel/module"
)

// SystemSummary aggregates every tracked module. The overall status is the
// worst module status, UNKNOWN when nothing is tracked.
func (m *Monitor) SystemSummary() Summary {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := Summary{
		Status:      module.HealthUnknown,
		Modules:     make(map[string]ModuleSummary, len(m.records)),
		GeneratedAt: now,
	}
	for name, rec := range m.records {
		ms := summarize(name, rec, now)
		sum.Modules[name] = ms
		sum.Status = module.WorstStatus(sum.Status, ms.Status)
		switch ms.Status {
		case module.HealthHealthy:
			sum.Healthy++
		case module.HealthDegraded:
			sum.Degraded++
		case module.HealthUnhealthy:
			sum.Unhealthy++
		default:
			sum.Unknown++
		}
	}
	for _, a := range m.alerts {
		if !a.Acknowledged {
			sum.ActiveAlerts++
		}
	}
	return sum
}

func summarize(name string, rec *record, now time.Time) ModuleSummary {
	ms := ModuleSummary{
		Name:                 name,
		Status:               rec.status,
		Uptime:               now.Sub(rec.startedAt),
		LastCheck:            rec.lastCheck,
		ConsecutiveFailures:  rec.consecutiveFailures,
		ConsecutiveSuccesses: rec.consecutiveSuccesses,
		History:              slices.Clone(rec.history),
	}

	recent := rec.history[max(0, len(rec.history)-summaryWindow):]
	if len(recent) == 0 {
		return ms
	}
	var total time.Duration
	failures := 0
	for _, h := range recent {
		total += h.Duration
		if !h.Status.IsHealthy() {
			failures++
		}
	}
	ms.AverageCheckDuration = total / time.Duration(len(recent))
	ms.ErrorRate = float64(failures) / float64(len(recent))
	return ms
}
