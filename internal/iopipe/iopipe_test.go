package iopipe

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestBufferTruncatesPastCap(t *testing.T) {
	b := NewBuffer(5)
	n, err := b.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len("hello world") {
		t.Errorf("Write reported n=%d, want full length %d", n, len("hello world"))
	}
	if got, want := b.String(), "hello"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !b.Truncated() {
		t.Error("expected Truncated() == true")
	}
	if got, want := b.BytesWritten(), int64(len("hello world")); got != want {
		t.Errorf("BytesWritten() = %d, want %d", got, want)
	}
}

func TestBufferUnboundedWhenMaxZero(t *testing.T) {
	b := NewBuffer(0)
	b.Write([]byte(strings.Repeat("x", 1000)))
	if b.Truncated() {
		t.Error("unbounded buffer should never truncate")
	}
	if len(b.String()) != 1000 {
		t.Errorf("String() length = %d, want 1000", len(b.String()))
	}
}

func TestBufferAccumulatesAcrossWrites(t *testing.T) {
	b := NewBuffer(100)
	b.Write([]byte("abc"))
	b.Write([]byte("def"))
	if got, want := b.String(), "abcdef"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSharedCapBoundsCombinedBytesAcrossBuffers(t *testing.T) {
	budget := NewSharedCap(10)
	stdout := NewBufferWithCap(budget)
	stderr := NewBufferWithCap(budget)

	stdout.Write([]byte("abcde")) // 5 bytes, fits
	stderr.Write([]byte("fghij")) // 5 more, exactly fills the cap
	stderr.Write([]byte("klmno")) // past the cap now

	combined := len(stdout.String()) + len(stderr.String())
	if combined != 10 {
		t.Errorf("combined retained bytes = %d, want 10 (the shared cap)", combined)
	}
	if !stderr.Truncated() {
		t.Error("expected the stream that overran the shared cap to report Truncated()")
	}
	if stdout.Truncated() {
		t.Error("stdout never exceeded the cap on its own and should not report Truncated()")
	}
}

func TestSharedCapSplitAcrossBuffersNeverExceedsTotal(t *testing.T) {
	budget := NewSharedCap(100)
	a := NewBufferWithCap(budget)
	b := NewBufferWithCap(budget)

	a.Write([]byte(strings.Repeat("a", 80)))
	b.Write([]byte(strings.Repeat("b", 80)))

	combined := len(a.String()) + len(b.String())
	if combined != 100 {
		t.Errorf("combined retained bytes = %d, want 100 (2x80 requested against a shared 100 cap)", combined)
	}
	if !b.Truncated() {
		t.Error("expected the second writer to observe truncation once the shared budget is exhausted")
	}
}

func TestDrainerCopiesUntilEOF(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	buf := NewBuffer(1 << 16)
	d, err := NewDrainer(r, buf)
	if err != nil {
		t.Fatalf("NewDrainer: %v", err)
	}

	io.WriteString(w, "streamed output")
	w.Close()

	if err := d.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got, want := buf.String(), "streamed output"; got != want {
		t.Errorf("buffer = %q, want %q", got, want)
	}
}

func TestDrainerCancelUnblocksRead(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()

	buf := NewBuffer(1 << 16)
	d, err := NewDrainer(r, buf)
	if err != nil {
		t.Fatalf("NewDrainer: %v", err)
	}

	d.Cancel()

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Cancel")
	}
}
