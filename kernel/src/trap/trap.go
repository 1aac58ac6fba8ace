// Package trap is the common trap handler every architecture's entry
// stub calls into after saving a TrapFrame, dispatching on arch.Cause
// and, for system calls, on the stable syscall table, built around
// this kernel's arch.FrameOps/Cause abstraction (vector → cause →
// handler) instead of hardwiring one architecture's vector constants.
package trap

import (
	"encoding/binary"

	"arch"
	"config"
	"console"
	"defs"
	"intc"
	"klog"
	"loader"
	"memaddr"
	"sched"
	"task"
	"timer"
	"uaccess"
	"vm"
	"wait"
)

/// Kernel bundles every subsystem the trap handler and syscall table
/// need to reach.
type Kernel struct {
	a        *arch.Arch
	mgr      *sched.Manager
	timerSvc *timer.Service
	intctl   intc.Controller
	con      *console.Device
	apps     *loader.Table
	dmap     func(memaddr.PhysAddr) []byte
	kernelMS *vm.MemorySet

	kernelStart, kernelEnd memaddr.VirtAddr

	consoleWaiter *wait.Waiter[task.Task]
}

/// New builds the trap dispatcher. kernelMS is the template kernel
/// address space exec and fork clone the kernel half from; kernelStart
/// /kernelEnd bound that shared range.
func New(
	a *arch.Arch,
	mgr *sched.Manager,
	timerSvc *timer.Service,
	intctl intc.Controller,
	con *console.Device,
	apps *loader.Table,
	dmap func(memaddr.PhysAddr) []byte,
	kernelMS *vm.MemorySet,
	kernelStart, kernelEnd memaddr.VirtAddr,
) *Kernel {
	k := &Kernel{
		a: a, mgr: mgr, timerSvc: timerSvc, intctl: intctl, con: con, apps: apps,
		dmap: dmap, kernelMS: kernelMS, kernelStart: kernelStart, kernelEnd: kernelEnd,
	}
	k.consoleWaiter = wait.New[task.Task](mgr.BigLock(), mgr)
	con.SetWakeup(func() {
		mgr.BigLock().Lock()
		k.consoleWaiter.NotifyLocked()
		mgr.BigLock().Unlock()
	})
	return k
}

/// HandleTrap is called by an architecture's entry stub with the
/// TrapFrame it just saved (the current task's UserFrame). It
/// dispatches on Classify and, on return, the dispatcher honors
/// need_resched via YieldNow.
func (k *Kernel) HandleTrap(tf *arch.TrapFrame) {
	cause := k.a.Frame.Classify(tf)
	k.a.Caps.EnableIRQs()

	switch cause {
	case arch.CauseSyscall:
		id, a0, a1, a2 := k.a.Frame.SyscallArgs(tf)
		ret := k.dispatchSyscall(tf, id, a0, a1, a2)
		k.a.Frame.SetReturn(tf, ret)
		k.a.Frame.AdvancePastSyscall(tf)

	case arch.CausePageFaultUser:
		addr := k.a.Frame.FaultAddr(tf)
		klog.Warnf("trap: user page fault at %s, killing task", addr)
		k.mgr.ExitCurrent(-1)

	case arch.CausePageFaultKernel:
		addr := k.a.Frame.FaultAddr(tf)
		klog.Panicf("trap: kernel page fault at %s, pc=%#x", addr, tf.PC)

	case arch.CauseExternalInterrupt:
		k.intctl.HandleIRQ(tf.Vector)
		k.mgr.YieldNow()

	default:
		klog.Panicf("trap: unhandled exception, vector=%#x pc=%#x", tf.Vector, tf.PC)
	}

	k.mgr.YieldNow()
}

func negErr(e defs.Err_t) uint64 { return uint64(-int64(e)) }

func (k *Kernel) dispatchSyscall(tf *arch.TrapFrame, id, a0, a1, a2 uint64) uint64 {
	switch id {
	case defs.SYS_READ:
		return k.sysRead(a0, a1, a2)
	case defs.SYS_WRITE:
		return k.sysWrite(a0, a1, a2)
	case defs.SYS_YIELD:
		k.mgr.YieldCurrent()
		return 0
	case defs.SYS_GETPID:
		return uint64(k.mgr.Current().ID)
	case defs.SYS_CLONE:
		return k.sysClone(a0)
	case defs.SYS_FORK:
		return k.sysFork()
	case defs.SYS_EXEC:
		return k.sysExec(tf, a0)
	case defs.SYS_EXIT:
		k.mgr.ExitCurrent(int32(a0))
		return 0
	case defs.SYS_WAITPID:
		return k.sysWaitPid(a0, a1, a2)
	case defs.SYS_GET_TIME_MS:
		return k.timerSvc.CurrentTimeNs() / 1_000_000
	case defs.SYS_CLOCK_GETTIME:
		return k.sysClockGetTime(a1)
	case defs.SYS_CLOCK_NANOSLEEP:
		return k.sysClockNanosleep(a1, a2)
	default:
		return negErr(defs.ENOSYS)
	}
}

func (k *Kernel) currentVM() *vm.MemorySet {
	return k.mgr.Current().VM.Get()
}

func (k *Kernel) sysRead(fd, addr, length uint64) uint64 {
	if fd != uint64(defs.FD_STDIN) {
		return negErr(defs.EINVAL)
	}
	n := int(length)
	if n > config.MaxReadWriteLen {
		n = config.MaxReadWriteLen
	}
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, ok := k.con.GetChar()
		for !ok {
			k.consoleWaiter.Wait()
			b, ok = k.con.GetChar()
		}
		buf[i] = b
	}
	if err := uaccess.Write(k.currentVM(), k.dmap, addr, buf); err != nil {
		return negErr(defs.EFAULT)
	}
	return uint64(n)
}

func (k *Kernel) sysWrite(fd, addr, length uint64) uint64 {
	if fd != uint64(defs.FD_STDOUT) && fd != uint64(defs.FD_STDERR) {
		return negErr(defs.EINVAL)
	}
	n := int(length)
	if n > config.MaxReadWriteLen {
		n = config.MaxReadWriteLen
	}
	buf := make([]byte, n)
	if err := uaccess.Read(k.currentVM(), k.dmap, addr, buf); err != nil {
		return negErr(defs.EFAULT)
	}
	k.con.WriteString(string(buf))
	return uint64(n)
}

func (k *Kernel) sysClone(newsp uint64) uint64 {
	parent := k.mgr.Current()
	child := task.NewClone(k.a, parent, config.KernelStackSize)
	child.UserFrame.SPReg = newsp
	k.a.Frame.SetReturn(child.UserFrame, 0)
	k.mgr.Spawn(child)
	return uint64(child.ID)
}

func (k *Kernel) sysFork() uint64 {
	parent := k.mgr.Current()
	child := task.NewFork(k.a, parent, k.kernelStart, k.kernelEnd, config.KernelStackSize)
	k.a.Frame.SetReturn(child.UserFrame, 0)
	k.mgr.Spawn(child)
	return uint64(child.ID)
}

func (k *Kernel) sysExec(tf *arch.TrapFrame, pathAddr uint64) uint64 {
	cur := k.mgr.Current()
	path, err := uaccess.ReadCString(k.currentVM(), k.dmap, pathAddr, config.MaxCstrLen)
	if err != nil {
		return negErr(defs.EFAULT)
	}
	data, ok := k.apps.GetAppDataByName(path)
	if !ok {
		return negErr(defs.ENOENT)
	}
	nms := vm.NewUser(k.kernelMS, k.kernelStart, k.kernelEnd)
	entry, stackTop, e := nms.LoadUser(data)
	if e != nil {
		return negErr(defs.ENOENT)
	}
	cur.ReplaceVM(nms)
	*tf = arch.TrapFrame{}
	tf.PC = uint64(entry)
	tf.SPReg = uint64(stackTop)
	return 0
}

func (k *Kernel) sysWaitPid(pidArg, codeAddr, optsArg uint64) uint64 {
	cur := k.mgr.Current()
	pid := int(int64(int32(pidArg)))
	gotPid, code, ok := k.mgr.WaitPid(cur, pid, uint32(optsArg))
	if !ok {
		return ^uint64(0) // no matching zombie child: "Return -1 to user"
	}
	if codeAddr != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(code))
		if err := uaccess.Write(k.currentVM(), k.dmap, codeAddr, buf[:]); err != nil {
			return negErr(defs.EFAULT)
		}
	}
	return uint64(gotPid)
}

func (k *Kernel) sysClockGetTime(tsAddr uint64) uint64 {
	now := k.timerSvc.CurrentTimeNs()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], now/config.NanosPerSec)
	binary.LittleEndian.PutUint64(buf[8:16], now%config.NanosPerSec)
	if err := uaccess.Write(k.currentVM(), k.dmap, tsAddr, buf[:]); err != nil {
		return negErr(defs.EFAULT)
	}
	return 0
}

func (k *Kernel) sysClockNanosleep(flags, tsAddr uint64) uint64 {
	var buf [16]byte
	if err := uaccess.Read(k.currentVM(), k.dmap, tsAddr, buf[:]); err != nil {
		return negErr(defs.EFAULT)
	}
	sec := binary.LittleEndian.Uint64(buf[0:8])
	nsec := binary.LittleEndian.Uint64(buf[8:16])
	requested := sec*config.NanosPerSec + nsec

	var deadline uint64
	if flags&defs.ClockNanosleepAbsolute != 0 {
		deadline = requested
	} else {
		deadline = k.timerSvc.CurrentTimeNs() + requested
	}
	k.mgr.SleepCurrent(deadline, k.timerSvc)
	return 0
}
