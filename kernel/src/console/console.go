// Package console is the external console interface: the two driver
// entry points (console_putchar, console_getchar) plus a byte ring
// buffer absorbing received characters between interrupts and the
// next blocking read. The FIFO uses a small fixed-size head/tail-modulo
// ring buffer rather than a lazily page-backed one.
package console

import "sync"

/// Driver is the two entry points a console needs: a
// byte output and a non-blocking byte input.
type Driver interface {
	PutChar(b byte)
	GetChar() (b byte, ok bool)
}

// rxCapacity bounds the software FIFO absorbing characters that
// arrive between a reader blocking and a reader waking up.
const rxCapacity = 256

/// Device wraps a Driver with a receive-side ring buffer so interrupt
/// handlers can push bytes in without a reader present yet.
type Device struct {
	mu     sync.Mutex
	driver Driver

	buf        [rxCapacity]byte
	head, tail int // head == tail means empty; head-tail == rxCapacity means full

	// onData, if set, is called (with the lock not held) whenever a
	// byte is fed in while the buffer was previously empty, so the
	// syscall layer can wake a blocked reader.
	onData func()
}

/// NewDevice builds a console device over driver.
func NewDevice(driver Driver) *Device {
	return &Device{driver: driver}
}

/// SetWakeup installs the callback invoked when data becomes available
/// after the buffer was empty.
func (d *Device) SetWakeup(fn func()) { d.onData = fn }

func (d *Device) full() bool  { return d.head-d.tail == rxCapacity }
func (d *Device) empty() bool { return d.head == d.tail }

/// FeedByte is called by the driver's interrupt handler to push a
/// received byte into the ring buffer. A byte arriving when the
/// buffer is full is dropped, matching a real UART FIFO overrun.
func (d *Device) FeedByte(b byte) {
	d.mu.Lock()
	wasEmpty := d.empty()
	if !d.full() {
		d.buf[d.head%rxCapacity] = b
		d.head++
	}
	fn := d.onData
	d.mu.Unlock()
	if wasEmpty && fn != nil {
		fn()
	}
}

/// GetChar is a non-blocking pop from the ring buffer.
func (d *Device) GetChar() (byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.empty() {
		return 0, false
	}
	b := d.buf[d.tail%rxCapacity]
	d.tail++
	return b, true
}

/// PutChar writes go straight to the driver, one character at a time.
func (d *Device) PutChar(b byte) { d.driver.PutChar(b) }

/// WriteString writes s a byte at a time, the synchronous,
/// character-by-character output.
func (d *Device) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		d.PutChar(s[i])
	}
}
