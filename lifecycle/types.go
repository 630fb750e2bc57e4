package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the progress of a lifecycle sequence.
type Phase string

const (
	PhasePlanning   Phase = "PLANNING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseCompleted  Phase = "COMPLETED"
	PhaseFailed     Phase = "FAILED"
	PhaseRolledBack Phase = "ROLLED_BACK"
)

// Kind names a lifecycle sequence.
type Kind string

const (
	KindStartup  Kind = "startup"
	KindShutdown Kind = "shutdown"
)

// Default option values.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConcurrency = 5
)

// Options control one lifecycle sequence.
type Options struct {
	// Timeout bounds each per-module operation.
	Timeout time.Duration
	// RollbackOnFailure stops every module started by an aborted startup.
	RollbackOnFailure bool
	// MaxConcurrency caps the size of a batch.
	MaxConcurrency int
	// ContinueOnError keeps running later batches after a failure.
	ContinueOnError bool
	// Order replaces the priority plan with an explicit module order.
	Order []string
}

// Option customizes Options.
type Option func(*Options)

// DefaultOptions returns the options used when no Option is given.
func DefaultOptions() Options {
	return Options{
		Timeout:           DefaultTimeout,
		RollbackOnFailure: true,
		MaxConcurrency:    DefaultMaxConcurrency,
	}
}

// WithTimeout sets the per-module operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRollback enables or disables rollback after a failed startup.
func WithRollback(enabled bool) Option {
	return func(o *Options) { o.RollbackOnFailure = enabled }
}

// WithMaxConcurrency sets the maximum batch size.
func WithMaxConcurrency(n int) Option {
	return func(o *Options) { o.MaxConcurrency = n }
}

// WithContinueOnError keeps later batches running after failures.
func WithContinueOnError(enabled bool) Option {
	return func(o *Options) { o.ContinueOnError = enabled }
}

// WithOrder runs the named modules in the given order instead of the
// priority plan.
func WithOrder(names ...string) Option {
	return func(o *Options) { o.Order = append([]string(nil), names...) }
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return o
}

// Failure is a module that failed during a sequence.
type Failure struct {
	Module string
	Err    error
}

// Result describes a finished lifecycle sequence.
type Result struct {
	Kind             Kind
	Phase            Phase
	StartedAt        time.Time
	CompletedAt      time.Time
	Duration         time.Duration
	TotalModules     int
	SucceededModules []string
	FailedModules    []Failure
}

// Err joins the module failures, or returns nil when there were none.
func (r *Result) Err() error {
	if len(r.FailedModules) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.FailedModules))
	for _, f := range r.FailedModules {
		errs = append(errs, fmt.Errorf("%s: %w", f.Module, f.Err))
	}
	return fmt.Errorf("%s %w: %w", r.Kind, ErrSequenceFailed, errors.Join(errs...))
}

// Operation describes the sequence currently in flight.
type Operation struct {
	Kind      Kind
	Phase     Phase
	StartedAt time.Time
}

// SequenceEvent is the payload of the lifecycle sequence bus events.
type SequenceEvent struct {
	Kind         Kind
	Phase        Phase
	TotalModules int
	Succeeded    int
	Failed       int
	Duration     time.Duration
}

// Bus event types published by the manager.
const (
	EventSequenceStarted   = "lifecycle.sequence.started"
	EventSequenceCompleted = "lifecycle.sequence.completed"
)
