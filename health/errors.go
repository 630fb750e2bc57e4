package health

import "errors"

// Static errors for health package
var (
	ErrSourceRequired     = errors.New("health monitor requires a module source")
	ErrMonitorRunning     = errors.New("health monitor is already running")
	ErrModuleNotMonitored = errors.New("module is not running")
	ErrAlertNotFound      = errors.New("alert not found")
)
