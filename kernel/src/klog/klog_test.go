package klog

import (
	"strings"
	"testing"
)

type fakeSink struct {
	lines []string
}

func (s *fakeSink) WriteString(str string) (int, error) {
	s.lines = append(s.lines, str)
	return len(str), nil
}

func resetState() {
	mu.Lock()
	defer mu.Unlock()
	ring = ringBuffer{}
	sink = nil
	halt = nil
}

func TestInfofDrainsToTheSink(t *testing.T) {
	resetState()
	s := &fakeSink{}
	Init(s, nil)

	Infof("hello %s", "world")

	if len(s.lines) != 1 || !strings.Contains(s.lines[0], "hello world") {
		t.Fatalf("expected the sink to receive the formatted line; got %v", s.lines)
	}
	if !strings.HasPrefix(s.lines[0], "[info]") {
		t.Fatalf("expected an [info] level prefix; got %q", s.lines[0])
	}
}

func TestWarnfLevelPrefix(t *testing.T) {
	resetState()
	s := &fakeSink{}
	Init(s, nil)

	Warnf("low on %s", "frames")

	if len(s.lines) != 1 || !strings.HasPrefix(s.lines[0], "[warn]") {
		t.Fatalf("expected a [warn] level prefix; got %v", s.lines)
	}
}

func TestLoggingWithNoSinkDoesNotPanic(t *testing.T) {
	resetState()
	Infof("no sink attached yet")
}

func TestPanicfHaltsThenPanics(t *testing.T) {
	resetState()
	var halted bool
	Init(&fakeSink{}, func() { halted = true })

	defer func() {
		if recover() == nil {
			t.Fatal("expected Panicf to panic")
		}
		if !halted {
			t.Fatal("expected Panicf to invoke the halt function before panicking")
		}
	}()
	Panicf("fatal: %d", 42)
}
