package timer

import "testing"

type fakePlatform struct {
	ticks   uint64
	oneshot uint64
}

func (p *fakePlatform) CurrentTicks() uint64    { return p.ticks }
func (p *fakePlatform) SetOneshot(deadline uint64) { p.oneshot = deadline }

// freqHz equal to NanosPerSec makes one tick equal to one nanosecond,
// so the fixed-point ratio collapses to the identity for the small
// values these tests use.
const testFreqHz = 1_000_000_000

func TestNewServiceArmsTheFirstPeriodicTick(t *testing.T) {
	p := &fakePlatform{}
	onTick := func() {}
	s := NewService(p, testFreqHz, onTick)

	wantInterval := uint64(1_000_000_000) / 100 // NanosPerSec / TicksPerSec
	if p.oneshot != wantInterval {
		t.Fatalf("expected first oneshot at %d; got %d", wantInterval, p.oneshot)
	}
	if s.TicksToNs(1000) != 1000 {
		t.Fatalf("expected a 1:1 tick/ns ratio at freqHz == NanosPerSec; got %d", s.TicksToNs(1000))
	}
}

func TestSetTimerArmsTheEarlierDeadline(t *testing.T) {
	p := &fakePlatform{}
	s := NewService(p, testFreqHz, func() {})

	s.SetTimer(1000, func() {})
	if p.oneshot != 1000 {
		t.Fatalf("expected SetTimer to re-arm to the sooner deadline 1000; got %d", p.oneshot)
	}

	s.SetTimer(50_000_000, func() {})
	if p.oneshot != 1000 {
		t.Fatalf("expected a later deadline not to move the armed alarm; got %d", p.oneshot)
	}
}

func TestHandleTimerIRQFiresDuePeriodicAndOneShotCallbacks(t *testing.T) {
	p := &fakePlatform{}
	var periodicFired int
	s := NewService(p, testFreqHz, func() { periodicFired++ })

	var oneShotFired int
	s.SetTimer(5_000_000, func() { oneShotFired++ })

	p.ticks = 10_000_000 // past both the periodic interval (10ms) and the one-shot (5ms)
	s.HandleTimerIRQ()

	if periodicFired != 1 {
		t.Fatalf("expected the periodic hook to fire once; fired %d times", periodicFired)
	}
	if oneShotFired != 1 {
		t.Fatalf("expected the one-shot callback to fire once; fired %d times", oneShotFired)
	}
	if s.pending.Len() != 0 {
		t.Fatalf("expected the fired one-shot to be removed from the pending heap; %d remain", s.pending.Len())
	}
}

func TestHandleTimerIRQDoesNotFireEarly(t *testing.T) {
	p := &fakePlatform{}
	var periodicFired int
	s := NewService(p, testFreqHz, func() { periodicFired++ })

	var oneShotFired int
	s.SetTimer(50_000_000, func() { oneShotFired++ })

	p.ticks = 1_000_000 // before both deadlines
	s.HandleTimerIRQ()

	if periodicFired != 0 {
		t.Fatalf("expected the periodic hook not to fire early; fired %d times", periodicFired)
	}
	if oneShotFired != 0 {
		t.Fatalf("expected the one-shot callback not to fire early; fired %d times", oneShotFired)
	}
}

func TestHandleTimerIRQOrdersCallbacksByDeadline(t *testing.T) {
	p := &fakePlatform{}
	s := NewService(p, testFreqHz, func() {})

	var order []int
	s.SetTimer(3_000_000, func() { order = append(order, 3) })
	s.SetTimer(1_000_000, func() { order = append(order, 1) })
	s.SetTimer(2_000_000, func() { order = append(order, 2) })

	p.ticks = 4_000_000
	s.HandleTimerIRQ()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected callbacks to fire in deadline order [1 2 3]; got %v", order)
	}
}
