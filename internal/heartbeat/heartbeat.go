// Package heartbeat is a small demo module that logs a message on a fixed
// interval. It supports hot reload of its interval and message.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/modkernel/logging"
	"github.com/GoCodeAlone/modkernel/module"
)

// TypeName is the catalog name of the heartbeat module type.
const TypeName = "heartbeat"

// Version of the heartbeat module type.
const Version = "1.0.0"

// DefaultInterval applies when settings carry no interval.
const DefaultInterval = 5 * time.Second

// missedBeats is how many intervals may pass without a beat before the
// module reports itself DEGRADED.
const missedBeats = 3

// ErrInvalidInterval is returned by Configure for unusable intervals.
var ErrInvalidInterval = errors.New("heartbeat interval must be a positive duration")

// Module emits heartbeats while running.
type Module struct {
	module.Base

	name   string
	logger logging.Logger

	mu        sync.Mutex
	interval  time.Duration
	message   string
	scheduler *cron.Cron
	entry     cron.EntryID
	beats     uint64
	startedAt time.Time
	lastBeat  time.Time
}

// Constructor returns the module constructor registered under TypeName.
func Constructor(logger logging.Logger) module.Constructor {
	return func(cfg module.Config, _ map[string]module.Instance) (module.Instance, error) {
		return &Module{
			name:     cfg.Name,
			logger:   logging.OrNop(logger),
			interval: DefaultInterval,
			message:  "alive",
		}, nil
	}
}

// Configure reads "interval" (a duration string or a number of seconds)
// and "message". A running module is rescheduled with the new interval.
func (m *Module) Configure(_ context.Context, settings map[string]any) error {
	interval := DefaultInterval
	if raw, ok := settings["interval"]; ok {
		d, err := parseInterval(raw)
		if err != nil {
			return err
		}
		interval = d
	}
	message := "alive"
	if raw, ok := settings["message"]; ok {
		message = fmt.Sprint(raw)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = interval
	m.message = message
	if m.scheduler != nil {
		m.scheduler.Remove(m.entry)
		return m.scheduleLocked()
	}
	return nil
}

func parseInterval(raw any) (time.Duration, error) {
	var d time.Duration
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, v)
		}
		d = parsed
	case int:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidInterval, raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, d)
	}
	return d, nil
}

// Start begins emitting heartbeats.
func (m *Module) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler = cron.New()
	if err := m.scheduleLocked(); err != nil {
		m.scheduler = nil
		return err
	}
	m.startedAt = time.Now()
	m.scheduler.Start()
	m.logger.Info("Heartbeat started", "module", m.name, "interval", m.interval)
	return nil
}

func (m *Module) scheduleLocked() error {
	id, err := m.scheduler.AddFunc(fmt.Sprintf("@every %s", m.interval), m.beat)
	if err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	m.entry = id
	return nil
}

// Stop waits for a running beat to finish or ctx to end.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	scheduler := m.scheduler
	m.scheduler = nil
	m.mu.Unlock()
	if scheduler == nil {
		return nil
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	m.logger.Info("Heartbeat stopped", "module", m.name)
	return nil
}

func (m *Module) beat() {
	m.mu.Lock()
	m.beats++
	m.lastBeat = time.Now()
	beats, message := m.beats, m.message
	m.mu.Unlock()
	m.logger.Info("Heartbeat", "module", m.name, "message", message, "beat", beats)
}

// HealthCheck is DEGRADED when no beat was seen for several intervals.
func (m *Module) HealthCheck(context.Context) (module.HealthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	details := map[string]any{"beats": m.beats, "interval": m.interval.String()}

	if m.scheduler == nil {
		return module.HealthResult{Status: module.HealthUnknown, Message: "not running", Details: details, Timestamp: now}, nil
	}
	last := m.lastBeat
	if last.IsZero() {
		last = m.startedAt
	}
	if since := now.Sub(last); since > missedBeats*m.interval {
		return module.HealthResult{
			Status:    module.HealthDegraded,
			Message:   fmt.Sprintf("no heartbeat for %s", since.Round(time.Millisecond)),
			Details:   details,
			Timestamp: now,
		}, nil
	}
	return module.HealthResult{Status: module.HealthHealthy, Message: m.message, Details: details, Timestamp: now}, nil
}

// Metrics reports the number of beats as the request count.
func (m *Module) Metrics() module.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return module.Metrics{RequestCount: m.beats}
}
