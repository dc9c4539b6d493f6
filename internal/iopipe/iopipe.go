// Package iopipe implements the I/O Pipeline component of spec §4.4:
// draining a sandboxed command's stdout and stderr into bounded buffers
// without blocking the supervisor, and enforcing max_output_bytes.
package iopipe

import (
	"bytes"
	"io"
	"sync"

	"github.com/muesli/cancelreader"
)

// SharedCap is a byte budget consulted by one or more Buffers. Splitting the
// cap out of Buffer lets several streams (stdout, stderr) draw down the
// same allowance, so their combined retained bytes — not each stream's own
// — stop at the limit (spec §4.4: "when the combined byte count of
// stdout+stderr reaches max_output_bytes…"; spec §8's universal invariant
// "combined captured output bytes ≤ max_output_bytes").
type SharedCap struct {
	mu        sync.Mutex
	max       int64
	remaining int64
}

// NewSharedCap returns a budget of maxBytes, shared across every Buffer
// constructed with it. maxBytes <= 0 means unbounded.
func NewSharedCap(maxBytes int64) *SharedCap {
	return &SharedCap{max: maxBytes, remaining: maxBytes}
}

// reserve returns how many of the n incoming bytes may still be kept under
// the shared budget, decrementing it by that amount. Unbounded caps always
// return n without taking the lock.
func (c *SharedCap) reserve(n int64) int64 {
	if c.max <= 0 {
		return n
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining <= 0 {
		return 0
	}
	if n > c.remaining {
		allowed := c.remaining
		c.remaining = 0
		return allowed
	}
	c.remaining -= n
	return n
}

// Buffer is a truncating sink for one stream, drawing against a SharedCap.
// Bytes past the cap are still counted (Truncated becomes true and stays
// true) but discarded, matching spec §4.4 ("truncation is counted, not
// silently dropped").
type Buffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	budget    *SharedCap
	written   int64
	truncated bool
}

// NewBuffer returns a Buffer capped at maxBytes, backed by a SharedCap of
// its own — for a single stream, or tests, where no other Buffer needs to
// draw down the same budget. maxBytes <= 0 means unbounded, used only by
// tests — real requests always carry a positive resources.max_output_bytes
// past the Validator. Use NewSharedCap + NewBufferWithCap to have several
// Buffers share one budget (the executor's stdout/stderr pair).
func NewBuffer(maxBytes int64) *Buffer {
	return NewBufferWithCap(NewSharedCap(maxBytes))
}

// NewBufferWithCap returns a Buffer that draws against an existing
// SharedCap, for streams whose combined retained bytes must respect one
// budget rather than each getting their own.
func NewBufferWithCap(budget *SharedCap) *Buffer {
	return &Buffer{budget: budget}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.written += int64(len(p))
	allowed := b.budget.reserve(int64(len(p)))
	if allowed < int64(len(p)) {
		b.truncated = true
	}
	if allowed > 0 {
		b.buf.Write(p[:allowed])
	}
	return len(p), nil
}

// String returns everything retained so far (not everything written).
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Truncated reports whether any bytes were discarded for exceeding the cap.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// BytesWritten returns the total bytes ever written, including discarded ones.
func (b *Buffer) BytesWritten() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Drainer copies one pipe into a Buffer on a dedicated goroutine, using a
// cancelreader.CancelReader so shutdown can interrupt a blocking Read
// without waiting for the writer end to close (spec §4.4: "non-blocking
// with respect to the supervisor").
type Drainer struct {
	cr   cancelreader.CancelReader
	buf  *Buffer
	done chan struct{}
	err  error
}

// NewDrainer wraps src in a cancelable reader and starts copying into buf.
func NewDrainer(src io.Reader, buf *Buffer) (*Drainer, error) {
	cr, err := cancelreader.NewReader(src)
	if err != nil {
		return nil, err
	}
	d := &Drainer{cr: cr, buf: buf, done: make(chan struct{})}
	go d.run()
	return d, nil
}

func (d *Drainer) run() {
	defer close(d.done)
	_, err := io.Copy(d.buf, d.cr)
	if err != nil && err != cancelreader.ErrCanceled {
		d.err = err
	}
}

// Cancel interrupts a blocked Read. Safe to call multiple times.
func (d *Drainer) Cancel() {
	d.cr.Cancel()
}

// Wait blocks until the drainer's goroutine has exited, returning any
// non-cancellation error it hit.
func (d *Drainer) Wait() error {
	<-d.done
	return d.err
}
