// Package percpu is the per-hart block: the current and idle task
// handles plus a hook for architecture scratch (GDT/TSS on x86-64, and
// similar structures on the other architectures), reached through the
// architectural thread-pointer register so fetching the current
// per-hart block costs one load.
package percpu

import (
	"unsafe"

	"arch"
)

/// PerCpu holds the state owned exclusively by one hart. Fields here
// are only ever mutated by their owning hart; CurrentTask in
// particular may only be replaced with IRQs disabled.
type PerCpu[T any] struct {
	a *arch.Arch

	id int

	currentTask *T
	idleTask    *T

	// ArchScratch is the architecture-specific per-hart block Install
	// set up during New: x86-64's GDT/TSS pair, or a no-op placeholder
	// on an architecture with nothing further to install.
	ArchScratch arch.PerCPUScratch
}

/// New builds a per-hart block for hart id, not yet carrying a current
/// or idle task, and installs its architecture scratch block.
func New[T any](a *arch.Arch, id int) *PerCpu[T] {
	c := &PerCpu[T]{a: a, id: id}
	if a.NewPerCPUScratch != nil {
		c.ArchScratch = a.NewPerCPUScratch()
		c.ArchScratch.Install()
	}
	return c
}

/// ID returns the hart number this block belongs to.
func (c *PerCpu[T]) ID() int { return c.id }

/// CurrentTask returns the task presently running on this hart.
func (c *PerCpu[T]) CurrentTask() *T { return c.currentTask }

/// SetCurrentTask installs t as the running task. The caller must have
/// IRQs disabled: this is the one field mutation the scheduler allows
/// to race with an interrupt if IRQs are left enabled, and it does
/// not.
func (c *PerCpu[T]) SetCurrentTask(t *T) {
	if !c.a.Caps.IRQsDisabled() {
		panic("percpu: SetCurrentTask called with IRQs enabled")
	}
	c.currentTask = t
}

/// IdleTask returns the hart's idle task, selected by the scheduler
/// only when the ready queue is empty.
func (c *PerCpu[T]) IdleTask() *T { return c.idleTask }

/// SetIdleTask installs the hart's idle task once, at boot.
func (c *PerCpu[T]) SetIdleTask(t *T) { c.idleTask = t }

/// InstallThreadPointer publishes blk as this hart's per-CPU block via
/// the architecture's thread-pointer register, so a later Current call
/// on this hart costs one load.
func InstallThreadPointer[T any](a *arch.Arch, blk *PerCpu[T]) {
	a.Caps.SetThreadPointer(uintptr(unsafe.Pointer(blk)))
}

/// Current recovers the calling hart's per-CPU block from the
/// architecture's thread-pointer register.
func Current[T any](a *arch.Arch) *PerCpu[T] {
	return (*PerCpu[T])(unsafe.Pointer(a.Caps.ThreadPointer()))
}
