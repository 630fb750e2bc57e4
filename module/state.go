package module

// State is the lifecycle state of a single module.
type State string

const (
	StateUninstalled State = "UNINSTALLED"
	StateInstalled   State = "INSTALLED"
	StateConfigured  State = "CONFIGURED"
	StateStarting    State = "STARTING"
	StateRunning     State = "RUNNING"
	StateStopping    State = "STOPPING"
	StateFailed      State = "FAILED"
)

// String returns the state name.
func (s State) String() string { return string(s) }

// Operation names used in lifecycle errors and events.
const (
	OpInstall   = "install"
	OpConfigure = "configure"
	OpStart     = "start"
	OpStop      = "stop"
	OpUninstall = "uninstall"
	OpReload    = "reload"
	OpHealth    = "healthCheck"
)

// requiredStates maps an operation to the states it may start from.
// Uninstall is accepted from any state and is not listed.
var requiredStates = map[string][]State{
	OpInstall:   {StateUninstalled},
	OpConfigure: {StateInstalled},
	OpStart:     {StateConfigured},
	OpStop:      {StateRunning},
	OpReload:    {StateConfigured, StateRunning},
}

// CheckTransition returns a *LifecycleError when op may not run from the
// current state.
func CheckTransition(name, op string, current State) error {
	allowed, ok := requiredStates[op]
	if !ok {
		return nil
	}
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}
	return &LifecycleError{Module: name, Operation: op, State: current, Allowed: allowed}
}
