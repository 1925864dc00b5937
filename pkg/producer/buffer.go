package producer

import (
	"sync/atomic"
)

// FrameBuffer is a reference-counted holder for a serialized wire frame.
// A Send Operation acquires a reference before handing the buffer to the
// connection's I/O executor and releases it on every exit path (ack,
// timeout, close, replay-superseded); the underlying bytes are only
// eligible for reuse once the count reaches zero.
//
// This mirrors the acquire/release discipline of a pooled buffer without
// pretending to be a circular buffer: callers only need exactly-once
// release tracking, not bounded storage with an overflow policy, so there
// is nothing here for a drop policy or overflow callback to do.
type FrameBuffer struct {
	data     []byte
	refCount int32
	released int32 // 0 or 1; set once the count reaches zero (see isReleased)
}

// BufferOption configures a FrameBuffer at acquisition time.
type BufferOption func(*FrameBuffer)

// WithInitialRefs sets the starting reference count instead of the
// default of 1. Used when a buffer is immediately fanned out to multiple
// holders (e.g. a batch's callback chain) without an intermediate Acquire.
func WithInitialRefs(n int32) BufferOption {
	return func(b *FrameBuffer) {
		if n > 0 {
			b.refCount = n
		}
	}
}

// NewFrameBuffer wraps data with a reference count of 1, or as configured
// by opts. Exported for callers outside this package that need to hand a
// raw, already-framed payload to a Connection (e.g. connio's in-memory
// fake, or an integration test driving a Connection directly without a
// live Producer).
func NewFrameBuffer(data []byte, opts ...BufferOption) *FrameBuffer {
	return newFrameBuffer(data, opts...)
}

// newFrameBuffer wraps data with a reference count of 1, or as configured
// by opts.
func newFrameBuffer(data []byte, opts ...BufferOption) *FrameBuffer {
	b := &FrameBuffer{data: data, refCount: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Acquire adds one reference and returns the buffer for chaining.
func (b *FrameBuffer) Acquire() *FrameBuffer {
	atomic.AddInt32(&b.refCount, 1)
	return b
}

// Release drops one reference. It panics on release-past-zero, since that
// indicates a bookkeeping bug in the caller (double release), which must
// never happen.
func (b *FrameBuffer) Release() {
	remaining := atomic.AddInt32(&b.refCount, -1)
	if remaining < 0 {
		panic("producer: FrameBuffer released more times than acquired")
	}
	if remaining == 0 {
		atomic.StoreInt32(&b.released, 1)
	}
}

// Bytes returns the underlying data. Callers must hold a reference for the
// duration of use.
func (b *FrameBuffer) Bytes() []byte {
	return b.data
}

// Len reports the buffer's byte length.
func (b *FrameBuffer) Len() int {
	return len(b.data)
}

// isReleased reports whether every acquired reference has been released.
// Exposed for tests that assert on the exactly-once release invariant.
func (b *FrameBuffer) isReleased() bool {
	return atomic.LoadInt32(&b.released) == 1
}
