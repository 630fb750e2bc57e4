package module

import (
	"context"
	"time"
)

// Instance is the contract every module implements. The kernel calls the
// hooks in lifecycle order and may call HealthCheck and Metrics at any
// time while the module is running. Every hook receives a context that is
// cancelled if the kernel gives up waiting for it.
type Instance interface {
	Install(ctx context.Context) error
	Configure(ctx context.Context, settings map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Uninstall(ctx context.Context) error
	HealthCheck(ctx context.Context) (HealthResult, error)
	Metrics() Metrics
	EventHandlers() []HandlerRegistration
	Cleanup(ctx context.Context) error
}

// Metrics are the counters a module reports about itself. The registry
// fills StartupTime itself.
type Metrics struct {
	StartupTime         time.Duration `json:"startupTime"`
	MemoryUsage         uint64        `json:"memoryUsage"`
	RequestCount        uint64        `json:"requestCount"`
	ErrorCount          uint64        `json:"errorCount"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
}

// HandlerFunc handles a lifecycle event.
type HandlerFunc func(ctx context.Context, event Event) error

// HandlerRegistration is an event handler a module wants wired while it is
// running.
type HandlerRegistration struct {
	EventType EventType
	Priority  int
	Handler   HandlerFunc
}

// Constructor builds a module instance. deps holds the live instances of
// the module's declared dependencies keyed by module name.
type Constructor func(cfg Config, deps map[string]Instance) (Instance, error)

// Base is an embeddable Instance whose hooks all succeed and report
// HEALTHY.
type Base struct{}

func (Base) Install(context.Context) error                   { return nil }
func (Base) Configure(context.Context, map[string]any) error { return nil }
func (Base) Start(context.Context) error                     { return nil }
func (Base) Stop(context.Context) error                      { return nil }
func (Base) Uninstall(context.Context) error                 { return nil }
func (Base) Cleanup(context.Context) error                   { return nil }
func (Base) Metrics() Metrics                                { return Metrics{} }
func (Base) EventHandlers() []HandlerRegistration            { return nil }

func (Base) HealthCheck(context.Context) (HealthResult, error) {
	return HealthResult{Status: HealthHealthy, Timestamp: time.Now()}, nil
}
