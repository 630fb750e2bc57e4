package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modkernel/module"
)

var (
	errHookFailed   = errors.New("hook failed")
	errCheckFailed  = errors.New("check failed")
	errHandlerBoom  = errors.New("handler boom")
	errConstructing = errors.New("cannot construct")
)

// fakeModule records hook calls and can be told to fail, panic or stall.
type fakeModule struct {
	module.Base

	mu        sync.Mutex
	calls     []string
	settings  map[string]any
	failOn    map[string]error
	panicOn   map[string]bool
	delayOn   map[string]time.Duration
	health    module.HealthResult
	healthErr error
	handlers  []module.HandlerRegistration
	metrics   module.Metrics
	deps      map[string]module.Instance
	sequence  *callLog
	name      string
}

func newFakeModule(name string) *fakeModule {
	return &fakeModule{
		name:    name,
		failOn:  map[string]error{},
		panicOn: map[string]bool{},
		delayOn: map[string]time.Duration{},
		health:  module.HealthResult{Status: module.HealthHealthy, Message: "ok"},
	}
}

func (m *fakeModule) hook(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	err := m.failOn[op]
	shouldPanic := m.panicOn[op]
	delay := m.delayOn[op]
	seq := m.sequence
	m.mu.Unlock()

	if seq != nil {
		seq.add(op + ":" + m.name)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if shouldPanic {
		panic(op + " exploded")
	}
	return err
}

func (m *fakeModule) Install(ctx context.Context) error { return m.hook(ctx, "install") }
func (m *fakeModule) Configure(ctx context.Context, settings map[string]any) error {
	m.mu.Lock()
	m.settings = settings
	m.mu.Unlock()
	return m.hook(ctx, "configure")
}
func (m *fakeModule) Start(ctx context.Context) error     { return m.hook(ctx, "start") }
func (m *fakeModule) Stop(ctx context.Context) error      { return m.hook(ctx, "stop") }
func (m *fakeModule) Uninstall(ctx context.Context) error { return m.hook(ctx, "uninstall") }
func (m *fakeModule) Cleanup(ctx context.Context) error   { return m.hook(ctx, "cleanup") }

func (m *fakeModule) HealthCheck(ctx context.Context) (module.HealthResult, error) {
	if err := m.hook(ctx, "health"); err != nil {
		return module.HealthResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health, m.healthErr
}

func (m *fakeModule) Metrics() module.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

func (m *fakeModule) EventHandlers() []module.HandlerRegistration { return m.handlers }

func (m *fakeModule) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *fakeModule) Settings() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *fakeModule) constructor() module.Constructor {
	return func(_ module.Config, deps map[string]module.Instance) (module.Instance, error) {
		m.deps = deps
		return m, nil
	}
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *callLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// eventRecorder collects every registry event.
type eventRecorder struct {
	mu     sync.Mutex
	events []module.Event
}

func recordEvents(r *Registry) *eventRecorder {
	rec := &eventRecorder{}
	r.Subscribe(AnyEvent, func(_ context.Context, e module.Event) error {
		rec.mu.Lock()
		rec.events = append(rec.events, e)
		rec.mu.Unlock()
		return nil
	}, 0)
	return rec
}

func (rec *eventRecorder) Types() []module.EventType {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]module.EventType, len(rec.events))
	for i, e := range rec.events {
		out[i] = e.Type
	}
	return out
}

func (rec *eventRecorder) Events() []module.Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]module.Event(nil), rec.events...)
}

func testConfig(name string) module.Config {
	return module.Config{Name: name, Version: "1.0.0", Priority: module.PriorityMedium}
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

// installModule registers a type for m and installs it with cfg.
func installModule(t *testing.T, r *Registry, m *fakeModule, cfg module.Config) {
	t.Helper()
	require.NoError(t, r.RegisterModuleType(cfg.Name, m.constructor(), cfg.Version))
	require.NoError(t, r.InstallModule(context.Background(), cfg))
}

func runModule(t *testing.T, r *Registry, m *fakeModule, cfg module.Config) {
	t.Helper()
	installModule(t, r, m, cfg)
	require.NoError(t, r.ConfigureModule(context.Background(), cfg.Name, cfg.Settings))
	require.NoError(t, r.StartModule(context.Background(), cfg.Name))
}
