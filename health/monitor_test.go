package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modkernel/eventbus"
	"github.com/GoCodeAlone/modkernel/module"
	"github.com/GoCodeAlone/modkernel/registry"
)

var errCheckFailed = errors.New("check failed")

// stubModule reports whatever status it is told to.
type stubModule struct {
	module.Base

	mu      sync.Mutex
	status  module.HealthStatus
	err     error
	delay   time.Duration
	panics  bool
	metrics module.Metrics

	// entered is signalled when a check begins; the check then blocks
	// until gate is closed.
	entered chan struct{}
	gate    chan struct{}
}

func newStub(status module.HealthStatus) *stubModule {
	return &stubModule{status: status}
}

func (p *stubModule) set(status module.HealthStatus) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

func (p *stubModule) HealthCheck(ctx context.Context) (module.HealthResult, error) {
	p.mu.Lock()
	status, err, delay, panics := p.status, p.err, p.delay, p.panics
	entered, gate := p.entered, p.gate
	p.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return module.HealthResult{}, ctx.Err()
		}
	}
	if panics {
		panic("check exploded")
	}
	return module.HealthResult{Status: status, Message: string(status)}, err
}

func (p *stubModule) Metrics() module.Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// staticSource serves a fixed set of running instances.
type staticSource struct {
	mu        sync.Mutex
	instances map[string]module.Instance
	started   map[string]time.Time
	subs      map[string]module.EventType
	next      int
}

func newStaticSource(instances map[string]module.Instance) *staticSource {
	return &staticSource{instances: instances, started: map[string]time.Time{}, subs: map[string]module.EventType{}}
}

func (s *staticSource) Subscribe(eventType module.EventType, _ module.HandlerFunc, _ int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := string(rune('a' + s.next))
	s.subs[id] = eventType
	return id
}

func (s *staticSource) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	delete(s.subs, id)
	return ok
}

func (s *staticSource) RunningInstances() map[string]module.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]module.Instance, len(s.instances))
	for k, v := range s.instances {
		out[k] = v
	}
	return out
}

func (s *staticSource) Instance(name string) (module.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[name]
	return inst, ok
}

func (s *staticSource) GetModule(name string) (registry.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[name]; !ok {
		return registry.Info{}, false
	}
	return registry.Info{Config: module.Config{Name: name}, State: module.StateRunning, StartedAt: s.started[name]}, true
}

// newMonitor returns a monitor already tracking the source's running
// modules, without scheduling checks.
func newMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	m.seedRunning()
	t.Cleanup(m.Stop)
	return m
}

func startRegistryModule(t *testing.T, reg *registry.Registry, name string, stub *stubModule) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, reg.RegisterModuleType(name, func(module.Config, map[string]module.Instance) (module.Instance, error) {
		return stub, nil
	}, "1.0.0"))
	require.NoError(t, reg.InstallModule(ctx, module.Config{Name: name, Version: "1.0.0"}))
	require.NoError(t, reg.ConfigureModule(ctx, name, nil))
	require.NoError(t, reg.StartModule(ctx, name))
}

func countAlerts(alerts []Alert, module string, severity Severity) int {
	n := 0
	for _, a := range alerts {
		if a.ModuleName == module && a.Severity == severity {
			n++
		}
	}
	return n
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrSourceRequired)
}

func TestThresholdsConvergeAndRecover(t *testing.T) {
	degraded := newStub(module.HealthDegraded)
	unhealthy := newStub(module.HealthUnhealthy)
	m := newMonitor(t, Config{
		Source:           newStaticSource(map[string]module.Instance{"degraded": degraded, "unhealthy": unhealthy}),
		FailureThreshold: 2,
		SuccessThreshold: 2,
	})
	ctx := context.Background()

	m.PerformHealthChecks(ctx)
	status, _ := m.Status("degraded")
	assert.Equal(t, module.HealthDegraded, status)
	status, _ = m.Status("unhealthy")
	assert.Equal(t, module.HealthUnhealthy, status)

	m.PerformHealthChecks(ctx)
	for _, name := range []string{"degraded", "unhealthy"} {
		status, _ := m.Status(name)
		assert.Equal(t, module.HealthUnhealthy, status, name)
	}

	degraded.set(module.HealthHealthy)
	unhealthy.set(module.HealthHealthy)
	for range 3 {
		m.PerformHealthChecks(ctx)
	}

	alerts := m.ActiveAlerts()
	for _, name := range []string{"degraded", "unhealthy"} {
		status, _ := m.Status(name)
		assert.Equal(t, module.HealthHealthy, status, name)
		assert.Equal(t, 1, countAlerts(alerts, name, SeverityInfo), name)
		assert.Equal(t, 1, countAlerts(alerts, name, SeverityError), name)
	}
	assert.Equal(t, 1, countAlerts(alerts, "degraded", SeverityWarning))
	assert.Equal(t, 0, countAlerts(alerts, "unhealthy", SeverityWarning))

	sum := m.SystemSummary()
	assert.Equal(t, 3, sum.Modules["degraded"].ConsecutiveSuccesses)
	assert.Zero(t, sum.Modules["degraded"].ConsecutiveFailures)
}

func TestCheckFailuresBecomeUnhealthy(t *testing.T) {
	failing := newStub(module.HealthHealthy)
	failing.err = errCheckFailed
	slow := newStub(module.HealthHealthy)
	slow.delay = time.Second
	panicky := newStub(module.HealthHealthy)
	panicky.panics = true

	m := newMonitor(t, Config{
		Source:       newStaticSource(map[string]module.Instance{"failing": failing, "slow": slow, "panicky": panicky}),
		CheckTimeout: 20 * time.Millisecond,
	})
	ctx := context.Background()

	cases := map[string]string{"failing": "check failed", "slow": "timed out", "panicky": "check exploded"}
	for name, want := range cases {
		res, err := m.CheckModuleHealth(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, module.HealthUnhealthy, res.Status, name)
		require.NotEmpty(t, res.Errors, name)
		assert.Contains(t, res.Errors[0], want, name)
	}

	_, err := m.CheckModuleHealth(ctx, "ghost")
	require.ErrorIs(t, err, ErrModuleNotMonitored)
}

func TestHistoryIsBoundedFIFO(t *testing.T) {
	stub := newStub(module.HealthDegraded)
	m := newMonitor(t, Config{
		Source:           newStaticSource(map[string]module.Instance{"flappy": stub}),
		FailureThreshold: 100,
		SuccessThreshold: 100,
		HistorySize:      3,
	})

	statuses := []module.HealthStatus{
		module.HealthDegraded, module.HealthHealthy, module.HealthDegraded,
		module.HealthHealthy, module.HealthDegraded,
	}
	for _, s := range statuses {
		stub.set(s)
		_, err := m.CheckModuleHealth(context.Background(), "flappy")
		require.NoError(t, err)
	}

	history := m.History("flappy")
	require.Len(t, history, 3)
	assert.Equal(t, []module.HealthStatus{module.HealthDegraded, module.HealthHealthy, module.HealthDegraded},
		[]module.HealthStatus{history[0].Status, history[1].Status, history[2].Status})
	assert.True(t, history[0].Timestamp.Before(history[2].Timestamp) || history[0].Timestamp.Equal(history[2].Timestamp))
}

func TestAlertLifecycle(t *testing.T) {
	stub := newStub(module.HealthDegraded)
	m := newMonitor(t, Config{Source: newStaticSource(map[string]module.Instance{"api": stub})})
	ctx := context.Background()

	_, _ = m.CheckModuleHealth(ctx, "api")
	stub.set(module.HealthUnhealthy)
	_, _ = m.CheckModuleHealth(ctx, "api")

	alerts := m.ActiveAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, SeverityError, alerts[0].Severity)
	assert.Equal(t, SeverityWarning, alerts[1].Severity)
	assert.Equal(t, "UNHEALTHY", alerts[0].Data["current"])

	require.NoError(t, m.AcknowledgeAlert(alerts[1].ID))
	require.ErrorIs(t, m.AcknowledgeAlert("missing"), ErrAlertNotFound)
	assert.Len(t, m.ActiveAlerts(), 1)

	assert.Zero(t, m.ClearOldAlerts(time.Hour))
	assert.Equal(t, 1, m.ClearOldAlerts(0))
	assert.Len(t, m.ActiveAlerts(), 1)
}

func TestStatusChangeNotifications(t *testing.T) {
	stub := newStub(module.HealthHealthy)
	bus := eventbus.New(eventbus.Config{})
	var busEvents []StatusChange
	_, err := bus.Subscribe(EventStatusChanged, func(_ context.Context, env eventbus.Envelope) error {
		busEvents = append(busEvents, env.Data.(StatusChange))
		return nil
	})
	require.NoError(t, err)

	m := newMonitor(t, Config{Source: newStaticSource(map[string]module.Instance{"api": stub}), Bus: bus})
	var changes []StatusChange
	remove := m.OnStatusChange(func(c StatusChange) { changes = append(changes, c) })
	m.OnStatusChange(func(StatusChange) { panic("listener exploded") })

	_, _ = m.CheckModuleHealth(context.Background(), "api")
	_, _ = m.CheckModuleHealth(context.Background(), "api")
	require.Len(t, changes, 1)
	assert.Equal(t, module.HealthUnknown, changes[0].Previous)
	assert.Equal(t, module.HealthHealthy, changes[0].Current)
	require.Len(t, busEvents, 1)
	assert.Equal(t, "api", busEvents[0].ModuleName)

	remove()
	stub.set(module.HealthDegraded)
	_, _ = m.CheckModuleHealth(context.Background(), "api")
	assert.Len(t, changes, 1)
	assert.Len(t, busEvents, 2)
}

func TestSystemSummary(t *testing.T) {
	good := newStub(module.HealthHealthy)
	meh := newStub(module.HealthDegraded)
	bad := newStub(module.HealthHealthy)
	bad.err = errCheckFailed
	m := newMonitor(t, Config{Source: newStaticSource(map[string]module.Instance{"good": good, "meh": meh, "bad": bad})})

	assert.Equal(t, module.HealthUnknown, m.SystemSummary().Status)

	m.PerformHealthChecks(context.Background())
	sum := m.SystemSummary()
	assert.Equal(t, module.HealthUnhealthy, sum.Status)
	assert.Equal(t, 1, sum.Healthy)
	assert.Equal(t, 1, sum.Degraded)
	assert.Equal(t, 1, sum.Unhealthy)
	assert.Equal(t, 2, sum.ActiveAlerts)
	assert.InDelta(t, 1.0, sum.Modules["bad"].ErrorRate, 0.001)
	assert.Zero(t, sum.Modules["good"].ErrorRate)
	assert.InDelta(t, 1.0, sum.Modules["meh"].ErrorRate, 0.001)
	assert.Len(t, sum.Modules["good"].History, 1)
	assert.False(t, sum.Modules["good"].LastCheck.IsZero())
	assert.GreaterOrEqual(t, sum.Modules["good"].Uptime, time.Duration(0))

	m.Forget("bad")
	sum = m.SystemSummary()
	assert.Equal(t, module.HealthDegraded, sum.Status)
	assert.Equal(t, 1, sum.ActiveAlerts)
}

func TestMonitorFollowsRegistryEvents(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.Config{})
	t.Cleanup(func() { _ = reg.Shutdown(ctx) })

	startRegistryModule(t, reg, "early", newStub(module.HealthUnhealthy))

	baseline := reg.SubscriberCount()
	m := newMonitor(t, Config{Source: reg})
	require.NoError(t, m.Start(ctx))
	require.ErrorIs(t, m.Start(ctx), ErrMonitorRunning)
	assert.Equal(t, baseline+2, reg.SubscriberCount())

	status, tracked := m.Status("early")
	require.True(t, tracked)
	assert.Equal(t, module.HealthUnknown, status)
	info, ok := reg.GetModule("early")
	require.True(t, ok)
	m.mu.RLock()
	assert.Equal(t, info.StartedAt, m.records["early"].startedAt)
	m.mu.RUnlock()

	startRegistryModule(t, reg, "late", newStub(module.HealthHealthy))
	_, tracked = m.Status("late")
	assert.True(t, tracked)

	m.PerformHealthChecks(ctx)
	require.Len(t, m.ActiveAlerts(), 1)

	require.NoError(t, reg.StopModule(ctx, "early"))
	_, tracked = m.Status("early")
	assert.False(t, tracked)
	assert.Empty(t, m.ActiveAlerts())

	m.Stop()
	assert.Equal(t, baseline, reg.SubscriberCount())
}

func TestCheckSkipsModulesThatAreNotRunning(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.Config{})
	t.Cleanup(func() { _ = reg.Shutdown(ctx) })
	startRegistryModule(t, reg, "svc", newStub(module.HealthUnhealthy))

	m := newMonitor(t, Config{Source: reg, FailureThreshold: 1})
	require.NoError(t, m.Start(ctx))
	require.NoError(t, reg.StopModule(ctx, "svc"))

	_, err := m.CheckModuleHealth(ctx, "svc")
	require.ErrorIs(t, err, ErrModuleNotMonitored)

	_, tracked := m.Status("svc")
	assert.False(t, tracked)
	assert.Empty(t, m.ActiveAlerts())
	assert.Empty(t, m.SystemSummary().Modules)
}

func TestResultForModuleStoppedDuringCheckIsDropped(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.Config{})
	t.Cleanup(func() { _ = reg.Shutdown(ctx) })

	stub := newStub(module.HealthUnhealthy)
	stub.entered = make(chan struct{}, 1)
	stub.gate = make(chan struct{})
	startRegistryModule(t, reg, "svc", stub)

	m := newMonitor(t, Config{Source: reg, FailureThreshold: 1})
	require.NoError(t, m.Start(ctx))

	done := make(chan map[string]module.HealthResult, 1)
	go func() { done <- m.PerformHealthChecks(ctx) }()

	select {
	case <-stub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("health check never started")
	}
	require.NoError(t, reg.StopModule(ctx, "svc"))
	close(stub.gate)

	results := <-done
	assert.Equal(t, module.HealthUnhealthy, results["svc"].Status)

	info, ok := reg.GetModule("svc")
	require.True(t, ok)
	assert.Equal(t, module.StateConfigured, info.State)
	_, tracked := m.Status("svc")
	assert.False(t, tracked)
	assert.Empty(t, m.ActiveAlerts())
	assert.Equal(t, module.HealthUnknown, m.SystemSummary().Status)
}

func TestUptimeCountsFromModuleStart(t *testing.T) {
	source := newStaticSource(map[string]module.Instance{"api": newStub(module.HealthHealthy)})
	source.started["api"] = time.Now().Add(-time.Hour)
	m := newMonitor(t, Config{Source: source})

	assert.GreaterOrEqual(t, m.SystemSummary().Modules["api"].Uptime, time.Hour)
}

func TestScheduledChecks(t *testing.T) {
	stub := newStub(module.HealthHealthy)
	stub.metrics = module.Metrics{RequestCount: 3}
	m := newMonitor(t, Config{
		Source:          newStaticSource(map[string]module.Instance{"api": stub}),
		CheckInterval:   time.Second,
		EnableMetrics:   true,
		MetricsInterval: time.Second,
	})
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool {
		status, _ := m.Status("api")
		return status == module.HealthHealthy && len(m.ModuleMetrics()) == 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestCollector(t *testing.T) {
	stub := newStub(module.HealthHealthy)
	stub.metrics = module.Metrics{RequestCount: 12, ErrorCount: 2, AverageResponseTime: 5 * time.Millisecond}
	m := newMonitor(t, Config{Source: newStaticSource(map[string]module.Instance{"api": stub})})

	_, _ = m.CheckModuleHealth(context.Background(), "api")
	collected := m.CollectMetrics()
	assert.EqualValues(t, 12, collected["api"].RequestCount)

	c := NewCollector(m, "")
	assert.Equal(t, 1, testutil.CollectAndCount(c, "modkernel_health_status"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "modkernel_health_module_requests_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "modkernel_health_active_alerts"))
}
