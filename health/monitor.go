// Package health tracks the health of running modules. Checks run on a
// schedule, statuses are smoothed with failure and success thresholds and
// status changes raise alerts.
package health

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

type record struct {
	status               module.HealthStatus
	consecutiveFailures  int
	consecutiveSuccesses int
	lastCheck            time.Time
	startedAt            time.Time
	history              []HistoryEntry
}

// Monitor owns the health records, alerts and metrics snapshots of the
// modules it tracks.
type Monitor struct {
	cfg    Config
	source ModuleSource
	logger logging.Logger

	mu        sync.RWMutex
	records   map[string]*record
	alerts    []*Alert
	metrics   map[string]module.Metrics
	listeners map[int]func(StatusChange)
	nextID    int

	runMu     sync.Mutex
	scheduler *cron.Cron
	subIDs    []string
}

// New creates a monitor. Call Start to begin periodic checks.
func New(cfg Config) (*Monitor, error) {
	if cfg.Source == nil {
		return nil, ErrSourceRequired
	}
	cfg.applyDefaults()
	return &Monitor{
		cfg:       cfg,
		source:    cfg.Source,
		logger:    cfg.Logger,
		records:   make(map[string]*record),
		metrics:   make(map[string]module.Metrics),
		listeners: make(map[int]func(StatusChange)),
	}, nil
}

// Start seeds records for running modules, follows module start and stop
// events and schedules the periodic checks.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.scheduler != nil {
		return ErrMonitorRunning
	}

	m.seedRunning()

	m.subIDs = []string{
		m.source.Subscribe(module.EventStarted, m.onModuleStarted, 0),
		m.source.Subscribe(module.EventStopped, m.onModuleStopped, 0),
	}

	c := cron.New()
	if _, err := c.AddFunc(every(m.cfg.CheckInterval), func() { m.PerformHealthChecks(context.WithoutCancel(ctx)) }); err != nil {
		m.unsubscribe()
		return fmt.Errorf("schedule health checks: %w", err)
	}
	if m.cfg.EnableMetrics {
		if _, err := c.AddFunc(every(m.cfg.MetricsInterval), func() { m.CollectMetrics() }); err != nil {
			m.unsubscribe()
			return fmt.Errorf("schedule metrics collection: %w", err)
		}
	}
	c.Start()
	m.scheduler = c

	m.logger.Info("Health monitor started",
		"interval", m.cfg.CheckInterval, "failureThreshold", m.cfg.FailureThreshold,
		"successThreshold", m.cfg.SuccessThreshold, "metrics", m.cfg.EnableMetrics)
	return nil
}

// Stop cancels the schedules and stops following module events. Records
// and alerts are kept.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.scheduler == nil {
		return
	}
	m.scheduler.Stop()
	m.scheduler = nil
	m.unsubscribe()
	m.logger.Info("Health monitor stopped")
}

// seedRunning tracks modules that were already running, keeping the start
// time the source recorded for them.
func (m *Monitor) seedRunning() {
	running := m.source.RunningInstances()
	started := make(map[string]time.Time, len(running))
	for name := range running {
		if info, ok := m.source.GetModule(name); ok {
			started[name] = info.StartedAt
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range running {
		if _, ok := m.records[name]; !ok {
			m.records[name] = newRecord(started[name])
		}
	}
}

func (m *Monitor) unsubscribe() {
	for _, id := range m.subIDs {
		m.source.Unsubscribe(id)
	}
	m.subIDs = nil
}

func (m *Monitor) onModuleStarted(_ context.Context, event module.Event) error {
	m.mu.Lock()
	m.records[event.ModuleName] = newRecord(event.Timestamp)
	m.mu.Unlock()
	return nil
}

func (m *Monitor) onModuleStopped(_ context.Context, event module.Event) error {
	m.Forget(event.ModuleName)
	return nil
}

// Forget drops the record, metrics and alerts of a module.
func (m *Monitor) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, name)
	delete(m.metrics, name)
	m.alerts = slices.DeleteFunc(m.alerts, func(a *Alert) bool { return a.ModuleName == name })
}

// OnStatusChange registers fn for status change notifications and returns
// a function that removes it.
func (m *Monitor) OnStatusChange(fn func(StatusChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// CheckModuleHealth checks one tracked module and applies the result.
// Check failures are reported as UNHEALTHY results, never as errors.
func (m *Monitor) CheckModuleHealth(ctx context.Context, name string) (module.HealthResult, error) {
	m.mu.RLock()
	_, tracked := m.records[name]
	m.mu.RUnlock()
	inst, ok := m.source.Instance(name)
	if !tracked || !ok {
		return module.HealthResult{}, fmt.Errorf("%w: %s", ErrModuleNotMonitored, name)
	}
	return m.check(ctx, name, inst), nil
}

// PerformHealthChecks checks every running module concurrently, bounded
// by MaxConcurrentChecks.
func (m *Monitor) PerformHealthChecks(ctx context.Context) map[string]module.HealthResult {
	running := m.source.RunningInstances()
	results := make(map[string]module.HealthResult, len(running))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(m.cfg.MaxConcurrentChecks)
	for name, inst := range running {
		g.Go(func() error {
			res := m.check(ctx, name, inst)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Monitor) check(ctx context.Context, name string, inst module.Instance) module.HealthResult {
	began := time.Now()
	res := registry.CheckInstance(ctx, name, inst, m.cfg.CheckTimeout)
	m.apply(ctx, name, res, time.Since(began))
	return res
}

// apply folds a check result into the module's record. Results for modules
// that stopped while being checked are dropped.
func (m *Monitor) apply(ctx context.Context, name string, res module.HealthResult, took time.Duration) {
	now := time.Now()

	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("Dropping health result for untracked module", "module", name)
		return
	}

	if res.Status.IsHealthy() {
		rec.consecutiveSuccesses++
		rec.consecutiveFailures = 0
	} else {
		rec.consecutiveFailures++
		rec.consecutiveSuccesses = 0
	}

	status := res.Status
	switch {
	case rec.consecutiveFailures >= m.cfg.FailureThreshold:
		status = module.HealthUnhealthy
	case rec.consecutiveSuccesses >= m.cfg.SuccessThreshold:
		status = module.HealthHealthy
	}

	rec.lastCheck = now
	previous := rec.status
	if status == previous {
		m.mu.Unlock()
		return
	}

	rec.status = status
	rec.history = append(rec.history, HistoryEntry{
		Timestamp: now,
		Status:    status,
		Duration:  took,
		Result:    res,
		Error:     strings.Join(res.Errors, "; "),
	})
	if over := len(rec.history) - m.cfg.HistorySize; over > 0 {
		rec.history = slices.Delete(rec.history, 0, over)
	}

	alert := m.alertFor(name, previous, status, res, now)
	if alert != nil {
		m.alerts = append(m.alerts, alert)
	}
	listeners := make([]func(StatusChange), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	change := StatusChange{ModuleName: name, Previous: previous, Current: status, Result: res, Timestamp: now}
	m.logger.Info("Module health changed", "module", name, "from", string(previous), "to", string(status))
	if alert != nil {
		m.logger.Warn("Health alert raised", "module", name, "severity", string(alert.Severity), "message", alert.Message)
	}
	for _, fn := range listeners {
		notify(fn, change)
	}
	if m.cfg.Bus != nil {
		if err := m.cfg.Bus.Publish(ctx, EventStatusChanged, change); err != nil {
			m.logger.Warn("Failed to publish health status change", "module", name, "error", err)
		}
	}
}

func (m *Monitor) alertFor(name string, previous, current module.HealthStatus, res module.HealthResult, now time.Time) *Alert {
	var (
		severity Severity
		message  string
	)
	switch {
	case current == module.HealthUnhealthy:
		severity, message = SeverityError, fmt.Sprintf("module %s is unhealthy", name)
	case current == module.HealthDegraded:
		severity, message = SeverityWarning, fmt.Sprintf("module %s is degraded", name)
	case previous == module.HealthUnhealthy && current == module.HealthHealthy:
		severity, message = SeverityInfo, fmt.Sprintf("module %s recovered", name)
	default:
		return nil
	}
	data := map[string]any{"previous": string(previous), "current": string(current)}
	if res.Message != "" {
		data["message"] = res.Message
	}
	if len(res.Errors) > 0 {
		data["errors"] = slices.Clone(res.Errors)
	}
	return &Alert{
		ID:         uuid.NewString(),
		Severity:   severity,
		ModuleName: name,
		Message:    message,
		Timestamp:  now,
		Data:       data,
	}
}

// Status returns the current status of a tracked module.
func (m *Monitor) Status(name string) (module.HealthStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return module.HealthUnknown, false
	}
	return rec.status, true
}

// History returns the status change history of a tracked module.
func (m *Monitor) History(name string) []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return nil
	}
	return slices.Clone(rec.history)
}

// ActiveAlerts returns unacknowledged alerts, newest first.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Alert
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if !m.alerts[i].Acknowledged {
			out = append(out, *m.alerts[i])
		}
	}
	return out
}

// AcknowledgeAlert marks an alert as acknowledged.
func (m *Monitor) AcknowledgeAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// ClearOldAlerts removes acknowledged alerts older than maxAge and returns
// how many were removed.
func (m *Monitor) ClearOldAlerts(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.alerts)
	m.alerts = slices.DeleteFunc(m.alerts, func(a *Alert) bool {
		return a.Acknowledged && a.Timestamp.Before(cutoff)
	})
	return before - len(m.alerts)
}

func newRecord(startedAt time.Time) *record {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &record{status: module.HealthUnknown, startedAt: startedAt}
}

func notify(fn func(StatusChange), change StatusChange) {
	defer func() { _ = recover() }()
	fn(change)
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}
