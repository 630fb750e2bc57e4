package lifecycle

import "errors"

// Static errors for lifecycle package
var (
	ErrRegistryRequired = errors.New("lifecycle manager requires a module registry")
	ErrSequenceFailed   = errors.New("lifecycle sequence failed")
)

// ManagerFailureName is the module name recorded for failures raised by
// the manager itself rather than by a module.
const ManagerFailureName = "lifecycle-manager"
