// Package config holds the kernel's compile-time tunables. A kernel has
// no on-disk config to hot-reload, so this is deliberately a plain
// const block rather than a flag/viper layer.
package config

const (
	/// PageShift is the base-2 exponent of the page size on every
	/// supported architecture.
	PageShift uint = 12

	/// PageSize is the size in bytes of a single page frame.
	PageSize int = 1 << PageShift

	/// MaxQuantum is the number of timer ticks a task may run before
	/// the scheduler requests a reschedule.
	MaxQuantum uint32 = 5

	/// TicksPerSec is the periodic scheduler tick rate.
	TicksPerSec uint64 = 100

	/// NanosPerSec converts seconds to nanoseconds; kept as a named
	/// constant since the timer tick/ns conversion divides by it.
	NanosPerSec uint64 = 1_000_000_000

	/// KernelStackSize is the size in bytes of a task's kernel stack.
	KernelStackSize int = 64 * 1024

	/// UserStackSize is the size in bytes of a user task's stack area.
	UserStackSize int = 256 * 1024

	/// UserBase is the lowest virtual address a user mapping may use.
	UserBase uint64 = 0x1000

	/// UserSize bounds the span of user-addressable virtual memory
	/// starting at UserBase; used by the copy-in/copy-out bounds check.
	UserSize uint64 = 0x0000_4000_0000_0000

	/// MaxCstrLen bounds a single bounded string copy-in (e.g. exec's
	/// path argument).
	MaxCstrLen = 256

	/// MaxReadWriteLen bounds a single read/write syscall's buffer so
	/// a runaway length argument cannot pin the kernel indefinitely.
	MaxReadWriteLen = 4096
)
