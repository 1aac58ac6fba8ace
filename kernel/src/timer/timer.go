// Package timer is the platform timer service: monotonic ticks, a
// fixed-point tick-to-nanosecond ratio, and a min-heap of deadline
// callbacks serviced from the timer interrupt, using container/heap as
// a priority queue ordered by nanosecond deadline instead of task
// priority.
package timer

import (
	"container/heap"
	"sync"

	"config"
)

/// Platform is the driver contract a timer needs: a source of
/// monotonic ticks and a one-shot alarm.
type Platform interface {
	CurrentTicks() uint64
	SetOneshot(deadlineNs uint64)
}

/// pendingCallback is one entry in the deadline heap.
type pendingCallback struct {
	deadlineNs uint64
	fn         func()
}

type callbackHeap []*pendingCallback

func (h callbackHeap) Len() int            { return len(h) }
func (h callbackHeap) Less(i, j int) bool  { return h[i].deadlineNs < h[j].deadlineNs }
func (h callbackHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *callbackHeap) Push(x interface{}) { *h = append(*h, x.(*pendingCallback)) }
func (h *callbackHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

/// Service is the kernel-side timer state: a platform driver, the
/// fixed-point tick→ns ratio computed once from the driver's
/// frequency, the periodic scheduler-tick deadline, and the min-heap
/// of one-shot callbacks installed by sleep_current and
/// clock_nanosleep.
type Service struct {
	mu sync.Mutex

	platform Platform
	mult     uint32
	shift    uint8

	periodicIntervalNs uint64
	nextPeriodicNs     uint64

	pending callbackHeap

	// onTick is called once per elapsed periodic interval; the
	// scheduler wires its tick (quantum decrement, need_resched) here.
	onTick func()
}

// computeRatio picks mult/(1<<shift) approximating NANOS_PER_SEC/freqHz
// with the largest shift that keeps mult within a uint32, the same
// fixed-point trick used to avoid 128-bit division on the tick-to-ns
// fast path.
func computeRatio(freqHz uint64) (mult uint32, shift uint8) {
	for s := uint8(32); ; s-- {
		m := (config.NanosPerSec << s) / freqHz
		if m <= 0xFFFFFFFF {
			return uint32(m), s
		}
		if s == 0 {
			return uint32(m), 0
		}
	}
}

/// NewService builds a timer service driving platform, whose tick rate
/// is freqHz, and whose periodic deadline calls onTick once every
/// NanosPerSec/TicksPerSec nanoseconds (TicksPerSec times a second).
func NewService(platform Platform, freqHz uint64, onTick func()) *Service {
	mult, shift := computeRatio(freqHz)
	s := &Service{
		platform:           platform,
		mult:               mult,
		shift:              shift,
		periodicIntervalNs: config.NanosPerSec / config.TicksPerSec,
		onTick:             onTick,
	}
	s.nextPeriodicNs = s.CurrentTimeNs() + s.periodicIntervalNs
	heap.Init(&s.pending)
	s.arm()
	return s
}

/// CurrentTicks returns the platform's raw monotonic tick count.
func (s *Service) CurrentTicks() uint64 { return s.platform.CurrentTicks() }

/// TicksToNs converts a tick count to nanoseconds using the
/// precomputed fixed-point ratio.
func (s *Service) TicksToNs(ticks uint64) uint64 {
	return (ticks * uint64(s.mult)) >> s.shift
}

/// CurrentTimeNs returns the monotonic clock in nanoseconds.
func (s *Service) CurrentTimeNs() uint64 { return s.TicksToNs(s.CurrentTicks()) }

// arm must be called with mu held. It schedules the platform's next
// one-shot alarm at the earlier of the next periodic tick and the
// earliest pending callback.
func (s *Service) arm() {
	next := s.nextPeriodicNs
	if s.pending.Len() > 0 && s.pending[0].deadlineNs < next {
		next = s.pending[0].deadlineNs
	}
	s.platform.SetOneshot(next)
}

/// SetTimer installs a one-shot callback to fire at or after
/// deadlineNs, re-arming the platform alarm if this deadline is
/// sooner than whatever is currently armed.
func (s *Service) SetTimer(deadlineNs uint64, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.pending, &pendingCallback{deadlineNs: deadlineNs, fn: fn})
	s.arm()
}

/// HandleTimerIRQ is called from trap dispatch on every timer
/// interrupt. It advances the periodic deadline and invokes the
/// scheduler tick hook if the periodic interval has elapsed, then
/// pops and runs every callback whose deadline has passed, and
/// finally re-arms the platform alarm.
func (s *Service) HandleTimerIRQ() {
	s.mu.Lock()
	now := s.CurrentTimeNs()
	if now >= s.nextPeriodicNs {
		s.nextPeriodicNs += s.periodicIntervalNs
		tick := s.onTick
		s.mu.Unlock()
		if tick != nil {
			tick()
		}
		s.mu.Lock()
	}
	var fired []func()
	for s.pending.Len() > 0 && s.pending[0].deadlineNs <= now {
		cb := heap.Pop(&s.pending).(*pendingCallback)
		fired = append(fired, cb.fn)
	}
	s.arm()
	s.mu.Unlock()

	// Callbacks run in IRQ context and must not suspend; they
	// typically just unblock a task and set need_resched, same as the
	// scheduler tick hook above.
	for _, fn := range fired {
		fn()
	}
}
