// Command kernel is the host-simulated boot entry point: the
// initialization order (frame allocator, kernel address space, per-CPU
// block, scheduler, timer, console, interrupt registry, application
// table, trap dispatcher) for running this tree's kernel core against
// a simulated physical memory arena instead of real hardware.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"arch"
	archaarch64 "archaarch64"
	archriscv "archriscv"
	archx8664 "archx8664"
	"config"
	"console"
	"frame"
	"intc"
	"klog"
	"loader"
	"memaddr"
	"percpu"
	"sched"
	"task"
	"timer"
	"trap"
	"vm"
)

// arenaSize is the simulated machine's physical RAM, large enough to
// hold the kernel image's page tables and a handful of user tasks'
// address spaces with room to spare.
const arenaSize = 64 * 1024 * 1024

func selectArch(name string) *arch.Arch {
	switch name {
	case "x86_64":
		return archx8664.New()
	case "aarch64":
		return archaarch64.New()
	case "riscv":
		return archriscv.New()
	default:
		log.Fatalf("kernel: unknown -arch %q (want x86_64, aarch64, or riscv)", name)
		return nil
	}
}

// simController answers intc.Controller by embedding the reusable
// handler registry and treating SetEnable as a no-op; the simulated
// machine has no real line-routing hardware to program.
type simController struct {
	*intc.Registry
}

func (simController) SetEnable(gsi uint32, enable bool) {}

// gsiTimer and gsiConsole are this simulated machine's two interrupt
// lines: the periodic scheduler tick and the console UART's receive
// line, both normally wired straight into an architecture's entry
// stub ahead of Kernel.HandleTrap.
const (
	gsiTimer = iota
	gsiConsole
)

// wallClock answers timer.Platform with the host's monotonic clock.
// Ticks are nanoseconds directly (freqHz below is 1e9), so there is no
// SetOneshot hardware to arm; HandleTimerIRQ is instead driven by a
// fixed-rate goroutine below standing in for the periodic timer
// interrupt a real platform would deliver.
type wallClock struct{ start time.Time }

func (w *wallClock) CurrentTicks() uint64 { return uint64(time.Since(w.start)) }
func (w *wallClock) SetOneshot(deadlineNs uint64) {}

// stdioDriver answers console.Driver over the host process's own
// stdin/stdout, standing in for a UART or framebuffer console.
type stdioDriver struct{}

func (stdioDriver) PutChar(b byte) { os.Stdout.Write([]byte{b}) }
func (stdioDriver) GetChar() (byte, bool) { return 0, false }

func main() {
	archName := flag.String("arch", "x86_64", "target architecture: x86_64, aarch64, or riscv")
	shellName := flag.String("shell", "shell", "name of the embedded application to spawn as the initial task")
	flag.Parse()

	a := selectArch(*archName)

	arena := make([]byte, arenaSize)
	dmap := func(pa memaddr.PhysAddr) []byte {
		off := uint64(pa)
		if off >= uint64(len(arena)) {
			log.Fatalf("kernel: physical address %s outside simulated arena", pa)
		}
		return arena[off:]
	}

	// Reserve the low megabyte for the kernel image itself; frames are
	// handed out starting just past it, mirroring a real boot's
	// end-of-kernel-image frame allocator base.
	const kernelImageBytes = 1 * 1024 * 1024
	allocBase := memaddr.PhysAddr(kernelImageBytes).AlignUp()
	allocLimit := memaddr.PhysAddr(arenaSize).AlignDown()
	alloc := frame.New(allocBase, allocLimit)

	kernelMS := vm.NewKernel(a, alloc, dmap)

	// Map the whole arena into the kernel's identity/direct-map window
	// at PhysVirtOffset, the same relationship DirectMap(pa) describes.
	directMapStart := memaddr.VirtAddr(a.PhysVirtOffset)
	kernelMS.Insert(vm.NewOffset(directMapStart, uint64(arenaSize), memaddr.Read|memaddr.Write, int64(a.PhysVirtOffset)))

	kernelStart := directMapStart
	kernelEnd := directMapStart.Add(uint64(arenaSize))

	con := console.NewDevice(stdioDriver{})

	intctl := simController{intc.NewRegistry()}

	cpu := percpu.New[task.Task](a, 0)

	idleEntry := func(arg uintptr) {
		for {
			a.Caps.WaitForInts()
		}
	}
	idle := task.NewIdle(a, idleEntry, config.KernelStackSize)

	// root is the never-reaped ancestor every orphan is reparented to
	// on exit; once booted it spends its life reaping them.
	var mgr *sched.Manager
	rootEntry := func(arg uintptr) {
		for {
			mgr.WaitPid(mgr.Current(), -1, 0)
		}
	}
	root := task.NewKernel(a, rootEntry, 0, config.KernelStackSize)

	mgr = sched.NewManager(a, cpu, root, idle)
	percpu.InstallThreadPointer(a, cpu)

	clock := &wallClock{start: time.Now()}
	timerSvc := timer.NewService(clock, config.NanosPerSec, mgr.TimerTick)

	apps := loader.NewTable(loadEmbeddedApps())

	trapKernel := trap.New(a, mgr, timerSvc, intctl, con, apps, dmap, kernelMS, kernelStart, kernelEnd)

	// Neither line has real routing hardware behind it, so each is
	// driven by a goroutine standing in for the architecture entry
	// stub that would otherwise save a TrapFrame and call HandleTrap
	// directly off the interrupt vector.
	intctl.RegisterHandler(a.Frame.ExternalInterruptFrame(gsiTimer).Vector, timerSvc.HandleTimerIRQ)
	intctl.RegisterHandler(a.Frame.ExternalInterruptFrame(gsiConsole).Vector, func() {})

	go func() {
		tick := time.Second / time.Duration(config.TicksPerSec)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for range ticker.C {
			trapKernel.HandleTrap(a.Frame.ExternalInterruptFrame(gsiTimer))
		}
	}()

	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				return
			}
			con.FeedByte(buf[0])
			trapKernel.HandleTrap(a.Frame.ExternalInterruptFrame(gsiConsole))
		}
	}()

	data, ok := apps.GetAppDataByName(*shellName)
	if !ok {
		klog.Warnf("kernel: no embedded application named %q, booting with no initial task", *shellName)
		klog.Warnf("kernel: populate it with tools/genapps before running")
	} else {
		shellMS := vm.NewUser(kernelMS, kernelStart, kernelEnd)
		entry, stackTop, err := shellMS.LoadUser(data)
		if err != nil {
			log.Fatalf("kernel: loading initial shell: %v", err)
		}
		tf := &arch.TrapFrame{PC: uint64(entry), SPReg: uint64(stackTop)}
		shell := task.NewUser(a, tf, shellMS, config.KernelStackSize)
		mgr.Spawn(shell)
	}

	fmt.Fprintf(os.Stderr, "kernel: booted on %s, %d apps embedded\n", a.Name, len(apps.Names()))

	// The real dispatcher never returns from its boot thread: it
	// yields into the idle task and every further transfer happens
	// through trap entry/exit. This host simulation has no way to make
	// a Go call "not return" the way a real context switch does, so it
	// blocks here instead, letting the timer and console goroutines
	// above drive the scheduler via YieldNow from deep inside
	// Kernel.HandleTrap (wired by the architecture's own entry stub,
	// which this tree does not implement: boot assembly is out of
	// scope).
	select {}
}
