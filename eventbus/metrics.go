package eventbus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements prometheus.Collector for bus statistics. Counters
// are produced as ConstMetrics on scrape from Statistics():
//
//	<ns>_published_total{event_type}
//	<ns>_handler_invocations_total{event_type}
//	<ns>_handler_errors_total{event_type}
//	<ns>_subscriptions
type Collector struct {
	bus *Bus

	publishedDesc   *prometheus.Desc
	invocationsDesc *prometheus.Desc
	errorsDesc      *prometheus.Desc
	subsDesc        *prometheus.Desc
}

// NewCollector creates a collector for bus. namespace defaults to
// modkernel_eventbus.
func NewCollector(bus *Bus, namespace string) *Collector {
	if namespace == "" {
		namespace = "modkernel_eventbus"
	}
	return &Collector{
		bus: bus,
		publishedDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_published_total", namespace),
			"Total events published (cumulative)",
			[]string{"event_type"}, nil,
		),
		invocationsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_handler_invocations_total", namespace),
			"Total handler invocations including retries (cumulative)",
			[]string{"event_type"}, nil,
		),
		errorsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_handler_errors_total", namespace),
			"Total failed handler invocations (cumulative)",
			[]string{"event_type"}, nil,
		),
		subsDesc: prometheus.NewDesc(
			fmt.Sprintf("%s_subscriptions", namespace),
			"Active subscriptions",
			nil, nil,
		),
	}
}

// Describe sends metric descriptors.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.publishedDesc
	ch <- c.invocationsDesc
	ch <- c.errorsDesc
	ch <- c.subsDesc
}

// Collect gathers current stats and emits ConstMetrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.bus.Statistics()

	for eventType, n := range stats.EventsByType {
		ch <- prometheus.MustNewConstMetric(c.publishedDesc, prometheus.CounterValue, float64(n), eventType)
	}

	invocations := make(map[string]uint64)
	failures := make(map[string]uint64)
	for _, hs := range stats.Handlers {
		invocations[hs.EventType] += hs.Invocations
		failures[hs.EventType] += hs.Errors
	}
	for eventType, n := range invocations {
		ch <- prometheus.MustNewConstMetric(c.invocationsDesc, prometheus.CounterValue, float64(n), eventType)
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(failures[eventType]), eventType)
	}

	ch <- prometheus.MustNewConstMetric(c.subsDesc, prometheus.GaugeValue, float64(stats.Subscriptions))
}
