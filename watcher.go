package modkernel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/modkernel/module"
)

// watchDebounce coalesces the burst of write events editors produce.
const watchDebounce = 100 * time.Millisecond

// ReloadReport describes one manifest reload.
type ReloadReport struct {
	// Reloaded lists modules whose new settings were applied.
	Reloaded []string
	// Skipped lists changed modules that are not installed or do not
	// support hot reload.
	Skipped []string
	// Failed maps module names to their reload error.
	Failed map[string]error
}

// Err joins the reload failures.
func (r ReloadReport) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for name, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// ReloadConfig loads path and re-applies settings to every installed
// hot-reload module whose settings differ from the ones in the registry.
// The manifest of the Context is replaced with the loaded one.
func (c *Context) ReloadConfig(ctx context.Context, path string) (ReloadReport, error) {
	report := ReloadReport{Failed: make(map[string]error)}
	cfg, err := LoadConfig(path)
	if err != nil {
		return report, err
	}

	reg := c.Registry()
	logger := c.Logger()
	for _, spec := range cfg.Modules {
		name := spec.Config.Name
		info, ok := reg.GetModule(name)
		if !ok {
			report.Skipped = append(report.Skipped, name)
			logger.Debug("Manifest module not installed, skipping reload", "module", name)
			continue
		}
		if settingsEqual(info.Settings, spec.Config.Settings) {
			continue
		}
		if !info.Config.HotReload {
			report.Skipped = append(report.Skipped, name)
			logger.Warn("Module settings changed but hot reload is disabled", "module", name)
			continue
		}
		if info.State != module.StateConfigured && info.State != module.StateRunning {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if err := reg.ReloadModule(ctx, name, spec.Config.Settings); err != nil {
			report.Failed[name] = err
			continue
		}
		report.Reloaded = append(report.Reloaded, name)
	}

	c.mu.Lock()
	c.cfg.Modules = cfg.Modules
	c.mu.Unlock()

	logger.Info("Configuration reloaded", "path", path,
		"reloaded", len(report.Reloaded), "skipped", len(report.Skipped), "failed", len(report.Failed))
	return report, nil
}

// settingsEqual treats nil and empty settings as equal.
func settingsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// WatchConfig watches the directory of path and calls ReloadConfig after
// the file is written or recreated. It blocks until ctx is done. onReload,
// when non-nil, receives every reload outcome.
func (c *Context) WatchConfig(ctx context.Context, path string, onReload func(ReloadReport, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(path)
	logger := c.Logger()
	logger.Info("Watching configuration", "path", path)

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

	reload := func() {
		report, err := c.ReloadConfig(ctx, path)
		if err != nil {
			logger.Error("Configuration reload failed", "path", path, "error", err)
		} else if ferr := report.Err(); ferr != nil {
			logger.Error("Module reload failed", "path", path, "error", ferr)
		}
		if onReload != nil {
			onReload(report, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)
		}
	}
}
