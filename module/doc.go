// Package module defines the data model shared by every kernel component:
// module configuration and priority, the per-module state machine, the
// instance contract implemented by pluggable modules, lifecycle events,
// health results and the kernel error taxonomy.
//
// A module is an independently lifecycled unit of functionality. The
// kernel drives it through Install, Configure, Start, Stop and Uninstall
// and supervises it through HealthCheck:
//
//	type Billing struct{ module.Base }
//
//	func (b *Billing) Start(ctx context.Context) error { ... }
//
// Embedding Base supplies no-op implementations of the hooks a module does
// not care about.
package module
