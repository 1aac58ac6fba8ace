// Package intc is the interrupt-controller driver contract (enabling a
// line, registering a handler, dispatching an IRQ), structured the
// same way pgtable.Codec keeps the generic page-table engine decoupled
// from per-architecture bit layouts: trap dispatch only ever talks to
// the Controller interface, never a concrete APIC/GIC/PLIC driver.
package intc

import "klog"

/// Controller is implemented once per platform interrupt hardware
/// (APIC on x86-64, GIC on AArch64, PLIC on RISC-V); none of those
/// drivers ship in this tree, only the contract and a handler
/// registry every implementation can embed.
type Controller interface {
	SetEnable(gsi uint32, enable bool)
	RegisterHandler(vector uint64, fn func())
	HandleIRQ(vector uint64)
}

/// Registry is a reusable handler table a Controller implementation
/// can embed to get RegisterHandler/HandleIRQ for free; it does not by
/// itself implement SetEnable, which is always hardware-specific.
type Registry struct {
	handlers map[uint64]func()
}

/// NewRegistry builds an empty handler table.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint64]func())}
}

/// RegisterHandler installs fn as the handler for vector, replacing
/// any previous registration.
func (r *Registry) RegisterHandler(vector uint64, fn func()) {
	r.handlers[vector] = fn
}

/// HandleIRQ dispatches vector to its registered handler. An
/// unregistered vector is logged and otherwise ignored: a spurious
/// interrupt should never bring the kernel down.
func (r *Registry) HandleIRQ(vector uint64) {
	fn, ok := r.handlers[vector]
	if !ok {
		klog.Warnf("intc: unhandled interrupt vector %d", vector)
		return
	}
	fn()
}
