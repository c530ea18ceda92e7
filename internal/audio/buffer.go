package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// CaptureBuffer accumulates resampled mono samples for one recording
// session, together with the consumed offset: the index up to which
// streaming transcription has already produced finalized text.
//
// The real-time append path uses TryAppend (TryLock, drop on contention);
// every other accessor takes the lock and holds it only for the copy.
// Invariants: 0 <= consumed <= len(samples), consumed never decreases.
type CaptureBuffer struct {
	mu       sync.Mutex
	samples  []int16
	consumed int
	dropped  atomic.Uint64
}

// NewCaptureBuffer pre-allocates room for about the given number of
// samples to keep the hot path free of early reallocations.
func NewCaptureBuffer(capSamples int) *CaptureBuffer {
	if capSamples < 0 {
		capSamples = 0
	}
	return &CaptureBuffer{samples: make([]int16, 0, capSamples)}
}

// TryAppend appends samples if the lock is immediately available.
// On contention the chunk is dropped and counted; the caller must never
// stall the capture stream waiting for a writer.
func (b *CaptureBuffer) TryAppend(samples []int16) bool {
	if len(samples) == 0 {
		return true
	}
	if !b.mu.TryLock() {
		b.dropped.Add(1)
		return false
	}
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
	return true
}

// AppendFinal appends with a blocking acquisition. Used only by the
// drain path after the capture stream has been joined.
func (b *CaptureBuffer) AppendFinal(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
}

func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

func (b *CaptureBuffer) Consumed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}

// Dropped reports how many chunks were discarded due to lock contention.
func (b *CaptureBuffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Unconsumed returns the start offset and a copy of all samples past the
// consumed offset. The lock is released before the copy is handed out,
// so callers may run inference on it without blocking appends.
func (b *CaptureBuffer) Unconsumed() (int, []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.consumed
	out := make([]int16, len(b.samples)-start)
	copy(out, b.samples[start:])
	return start, out
}

// Tail returns a copy of up to the last n samples, for level metering.
func (b *CaptureBuffer) Tail(n int) []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.samples) {
		n = len(b.samples)
	}
	if n <= 0 {
		return nil
	}
	out := make([]int16, n)
	copy(out, b.samples[len(b.samples)-n:])
	return out
}

// AdvanceConsumed moves the consumed offset from `from` to `to`. It is
// only legal for the caller that just finished transcribing the span
// [from, to): `from` must equal the current offset and `to` must not
// exceed the buffer length, which keeps the offset monotonic and makes
// double submission of a span impossible.
func (b *CaptureBuffer) AdvanceConsumed(from, to int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from != b.consumed {
		return fmt.Errorf("consumed offset moved: have %d, caller expected %d", b.consumed, from)
	}
	if to < from || to > len(b.samples) {
		return fmt.Errorf("invalid consumed advance %d -> %d (len %d)", from, to, len(b.samples))
	}
	b.consumed = to
	return nil
}
