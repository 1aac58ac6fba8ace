package sched

import (
	"sync"

	"arch"
)

/// BigLock is the kernel's single IRQ-disabling lock: acquiring it
/// disables IRQs on the local hart, and releasing
/// it restores whatever IRQ-enable state was in effect beforehand
/// (nested acquisition on one hart is never attempted in this
/// kernel). It satisfies sync.Locker so it can back a wait.Waiter
/// directly.
type BigLock struct {
	mu   sync.Mutex
	caps arch.Capabilities

	wasEnabled bool
}

/// NewBigLock builds a big lock bound to the hart's capability set.
func NewBigLock(caps arch.Capabilities) *BigLock {
	return &BigLock{caps: caps}
}

/// Lock disables IRQs and then acquires the underlying mutex.
func (l *BigLock) Lock() {
	wasEnabled := l.caps.DisableIRQs()
	l.mu.Lock()
	l.wasEnabled = wasEnabled
}

/// Unlock releases the mutex and restores the IRQ-enable state that
/// was in effect when Lock was called.
func (l *BigLock) Unlock() {
	wasEnabled := l.wasEnabled
	l.mu.Unlock()
	if wasEnabled {
		l.caps.EnableIRQs()
	}
}
