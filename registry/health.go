package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/modkernel/module"
)

const maxConcurrentHealthChecks = 8

// CheckInstance runs inst.HealthCheck bounded by timeout. Errors, panics
// and timeouts come back as UNHEALTHY results; a missing status is
// reported as UNKNOWN.
func CheckInstance(ctx context.Context, name string, inst module.Instance, timeout time.Duration) module.HealthResult {
	var result module.HealthResult
	err := CallWithTimeout(ctx, timeout, name, module.OpHealth, func(c context.Context) error {
		res, err := inst.HealthCheck(c)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return module.UnhealthyResult(err)
	}
	if result.Status == "" {
		result.Status = module.HealthUnknown
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return result
}

// PerformHealthCheck checks every RUNNING module, records each result on
// its entry and emits one health check event per module.
func (r *Registry) PerformHealthCheck(ctx context.Context) map[string]module.HealthResult {
	running := r.RunningInstances()
	results := make(map[string]module.HealthResult, len(running))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(maxConcurrentHealthChecks)
	for name, inst := range running {
		g.Go(func() error {
			res := CheckInstance(ctx, name, inst, r.cfg.HealthCheckTimeout)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for name, res := range results {
		r.mu.Lock()
		if e, ok := r.entries[name]; ok {
			stored := res
			e.lastHealth = &stored
		}
		r.mu.Unlock()
		if !res.Status.IsHealthy() {
			r.logger.Warn("Module health check reported a problem", "module", name, "status", string(res.Status), "message", res.Message)
		}
		r.emit(ctx, module.EventHealthCheck, name, module.HealthCheckData{Result: res}, nil)
	}
	return results
}

// StartHealthSchedule runs PerformHealthCheck every HealthCheckInterval
// until Shutdown. Intervals below one second are rounded up by the
// scheduler. Calling it again while scheduled is a no-op.
func (r *Registry) StartHealthSchedule() error {
	if r.cfg.HealthCheckInterval <= 0 {
		return ErrInvalidInterval
	}
	if r.IsShuttingDown() {
		return ErrShuttingDown
	}

	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.scheduler != nil {
		return nil
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", r.cfg.HealthCheckInterval)
	if _, err := c.AddFunc(spec, func() { r.PerformHealthCheck(context.Background()) }); err != nil {
		return fmt.Errorf("schedule health check %q: %w", spec, err)
	}
	c.Start()
	r.scheduler = c
	r.logger.Debug("Scheduled periodic health checks", "interval", r.cfg.HealthCheckInterval)
	return nil
}

func (r *Registry) stopHealthSchedule() {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	if r.scheduler == nil {
		return
	}
	r.scheduler.Stop()
	r.scheduler = nil
}
