package health

import (
	"fmt"
	"maps"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/modkernel/module"
)

// CollectMetrics snapshots Instance.Metrics of every running module and
// keeps the snapshot for ModuleMetrics and the Prometheus collector.
func (m *Monitor) CollectMetrics() map[string]module.Metrics {
	snapshot := make(map[string]module.Metrics)
	for name, inst := range m.source.RunningInstances() {
		metrics, ok := safeMetrics(inst)
		if !ok {
			m.logger.Warn("Module metrics collection panicked", "module", name)
			continue
		}
		snapshot[name] = metrics
	}

	m.mu.Lock()
	m.metrics = snapshot
	m.mu.Unlock()
	m.logger.Debug("Collected module metrics", "modules", len(snapshot))
	return maps.Clone(snapshot)
}

// ModuleMetrics returns the last collected metrics snapshot.
func (m *Monitor) ModuleMetrics() map[string]module.Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.metrics)
}

func safeMetrics(inst module.Instance) (metrics module.Metrics, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return inst.Metrics(), true
}

// Collector implements prometheus.Collector for the monitor:
//
//	<ns>_status{module,status}           1 for the current status
//	<ns>_consecutive_failures{module}
//	<ns>_active_alerts
//	<ns>_module_requests_total{module}
//	<ns>_module_errors_total{module}
//	<ns>_module_memory_bytes{module}
//	<ns>_module_startup_seconds{module}
//	<ns>_module_response_seconds{module}
type Collector struct {
	monitor *Monitor

	statusDesc   *prometheus.Desc
	failuresDesc *prometheus.Desc
	alertsDesc   *prometheus.Desc
	requestsDesc *prometheus.Desc
	errorsDesc   *prometheus.Desc
	memoryDesc   *prometheus.Desc
	startupDesc  *prometheus.Desc
	responseDesc *prometheus.Desc
}

// NewCollector creates a collector for monitor. namespace defaults to
// modkernel_health.
func NewCollector(monitor *Monitor, namespace string) *Collector {
	if namespace == "" {
		namespace = "modkernel_health"
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(fmt.Sprintf("%s_%s", namespace, name), help, labels, nil)
	}
	return &Collector{
		monitor:      monitor,
		statusDesc:   desc("status", "Current module health status", "module", "status"),
		failuresDesc: desc("consecutive_failures", "Consecutive failing health checks", "module"),
		alertsDesc:   desc("active_alerts", "Unacknowledged health alerts"),
		requestsDesc: desc("module_requests_total", "Requests reported by the module", "module"),
		errorsDesc:   desc("module_errors_total", "Errors reported by the module", "module"),
		memoryDesc:   desc("module_memory_bytes", "Memory usage reported by the module", "module"),
		startupDesc:  desc("module_startup_seconds", "Time the module took to start", "module"),
		responseDesc: desc("module_response_seconds", "Average response time reported by the module", "module"),
	}
}

// Describe sends metric descriptors.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.statusDesc
	ch <- c.failuresDesc
	ch <- c.alertsDesc
	ch <- c.requestsDesc
	ch <- c.errorsDesc
	ch <- c.memoryDesc
	ch <- c.startupDesc
	ch <- c.responseDesc
}

// Collect emits the current summary and the last metrics snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	summary := c.monitor.SystemSummary()
	for name, ms := range summary.Modules {
		ch <- prometheus.MustNewConstMetric(c.statusDesc, prometheus.GaugeValue, 1, name, string(ms.Status))
		ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.GaugeValue, float64(ms.ConsecutiveFailures), name)
	}
	ch <- prometheus.MustNewConstMetric(c.alertsDesc, prometheus.GaugeValue, float64(summary.ActiveAlerts))

	for name, m := range c.monitor.ModuleMetrics() {
		ch <- prometheus.MustNewConstMetric(c.requestsDesc, prometheus.CounterValue, float64(m.RequestCount), name)
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(m.ErrorCount), name)
		ch <- prometheus.MustNewConstMetric(c.memoryDesc, prometheus.GaugeValue, float64(m.MemoryUsage), name)
		ch <- prometheus.MustNewConstMetric(c.startupDesc, prometheus.GaugeValue, m.StartupTime.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.responseDesc, prometheus.GaugeValue, m.AverageResponseTime.Seconds(), name)
	}
}
