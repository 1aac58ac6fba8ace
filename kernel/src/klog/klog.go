// Package klog is the kernel's leveled logger. It buffers output in a
// fixed-size ring, the way an early kernel logger holds Printf output
// before a console device is wired up, then drains to whatever Sink
// Init attaches.
package klog

import (
	"fmt"
	"sync"
)

// ringBufferSize is large enough to hold a standard 80x25 text
// console's worth of history, and a power of two so index wraparound
// is a mask, not a modulo.
const ringBufferSize = 2048

type ringBuffer struct {
	buf            [ringBufferSize]byte
	rIndex, wIndex int
}

func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buf[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (ringBufferSize - 1)
		}
	}
	return len(p), nil
}

// Sink receives the formatted log text once a real console device is
// attached; until Init is called, output only lives in the ring buffer.
type Sink interface {
	WriteString(s string) (int, error)
}

var (
	mu    sync.Mutex
	ring  ringBuffer
	sink  Sink
	halt  func()
)

// Init attaches the Sink that log lines are drained to, and
// the architecture halt primitive Panicf invokes after printing.
func Init(s Sink, haltFn func()) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
	halt = haltFn
}

func emit(level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	line := fmt.Sprintf("["+level+"] "+format+"\n", args...)
	ring.Write([]byte(line))
	if sink != nil {
		sink.WriteString(line)
	}
}

// Infof logs an informational line.
func Infof(format string, args ...interface{}) { emit("info", format, args...) }

// Warnf logs a warning, used for user-fault conditions that the kernel
// survives.
func Warnf(format string, args ...interface{}) { emit("warn", format, args...) }

// Panicf logs a fatal line and halts, used for contract violations and
// resource exhaustion.
// It never returns.
func Panicf(format string, args ...interface{}) {
	emit("panic", format, args...)
	mu.Lock()
	h := halt
	mu.Unlock()
	if h != nil {
		h()
	}
	panic(fmt.Sprintf(format, args...))
}
