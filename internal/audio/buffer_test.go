package audio

import (
	"sync"
	"testing"
)

func TestBufferAppendAndConsume(t *testing.T) {
	b := NewCaptureBuffer(1024)

	if !b.TryAppend([]int16{1, 2, 3}) {
		t.Fatal("uncontended TryAppend should succeed")
	}
	b.AppendFinal([]int16{4, 5})

	if b.Len() != 5 {
		t.Fatalf("len = %d, expected 5", b.Len())
	}
	if b.Consumed() != 0 {
		t.Fatalf("consumed = %d, expected 0", b.Consumed())
	}

	start, span := b.Unconsumed()
	if start != 0 || len(span) != 5 {
		t.Fatalf("unconsumed = (%d, %d samples), expected (0, 5)", start, len(span))
	}

	if err := b.AdvanceConsumed(0, 5); err != nil {
		t.Fatalf("AdvanceConsumed failed: %v", err)
	}
	start, span = b.Unconsumed()
	if start != 5 || len(span) != 0 {
		t.Errorf("after advance: unconsumed = (%d, %d samples)", start, len(span))
	}
}

func TestBufferAdvanceRejectsStaleOffset(t *testing.T) {
	b := NewCaptureBuffer(16)
	b.AppendFinal(make([]int16, 10))

	if err := b.AdvanceConsumed(0, 6); err != nil {
		t.Fatalf("first advance failed: %v", err)
	}
	// Re-submitting the same span must fail: the offset already moved.
	if err := b.AdvanceConsumed(0, 6); err == nil {
		t.Error("stale advance should fail")
	}
	if err := b.AdvanceConsumed(6, 4); err == nil {
		t.Error("backwards advance should fail")
	}
	if err := b.AdvanceConsumed(6, 11); err == nil {
		t.Error("advance past end should fail")
	}
	if b.Consumed() != 6 {
		t.Errorf("consumed = %d, expected 6 after rejected advances", b.Consumed())
	}
}

func TestBufferDropOnContention(t *testing.T) {
	b := NewCaptureBuffer(0)

	// Hold the lock from another goroutine for the duration of the try.
	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		b.mu.Lock()
		close(locked)
		<-release
		b.mu.Unlock()
	}()
	<-locked

	if b.TryAppend([]int16{1}) {
		t.Fatal("TryAppend should fail while the lock is held")
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, expected 1", b.Dropped())
	}
	close(release)

	if !b.TryAppend([]int16{1}) {
		t.Error("TryAppend should succeed once the lock is free")
	}
}

func TestBufferUnconsumedReturnsCopy(t *testing.T) {
	b := NewCaptureBuffer(8)
	b.AppendFinal([]int16{7, 8, 9})

	_, span := b.Unconsumed()
	span[0] = 0
	_, again := b.Unconsumed()
	if again[0] != 7 {
		t.Error("Unconsumed must copy out, not alias the buffer")
	}
}

func TestBufferTail(t *testing.T) {
	b := NewCaptureBuffer(8)
	b.AppendFinal([]int16{1, 2, 3, 4})

	tail := b.Tail(2)
	if len(tail) != 2 || tail[0] != 3 || tail[1] != 4 {
		t.Errorf("tail = %v, expected [3 4]", tail)
	}
	if got := b.Tail(10); len(got) != 4 {
		t.Errorf("oversized tail returned %d samples, expected 4", len(got))
	}
	if b.Tail(0) != nil {
		t.Error("zero tail should be nil")
	}
}

func TestBufferConcurrentAppendAndRead(t *testing.T) {
	b := NewCaptureBuffer(1 << 16)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]int16, 256)
		for i := 0; i < 500; i++ {
			b.TryAppend(chunk)
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			from, span := b.Unconsumed()
			if len(span) > 0 {
				if err := b.AdvanceConsumed(from, from+len(span)); err != nil {
					t.Errorf("advance failed: %v", err)
					return
				}
			}
		}
	}()

	wg.Wait()

	appended := b.Len()
	droppedChunks := int(b.Dropped())
	if appended+droppedChunks*256 != 500*256 {
		t.Errorf("accounting mismatch: len %d + dropped %d chunks != 500 chunks",
			appended, droppedChunks)
	}
	if b.Consumed() > b.Len() {
		t.Errorf("consumed %d exceeds len %d", b.Consumed(), b.Len())
	}
}
