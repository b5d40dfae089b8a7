// Package ringbuffer implements a fixed-capacity circular buffer used to
// retain a short window of recent samples (controller input history, in
// this module's case) without unbounded growth.
package ringbuffer

// RingBuffer is a fixed-capacity circular store of T. The zero value is not
// usable; construct with New.
type RingBuffer[T any] struct {
	buf []T
	now int
}

// New returns a RingBuffer of the given size, every slot initialized to t.
func New[T any](t T, size int) *RingBuffer[T] {
	buf := make([]T, size)
	for i := range buf {
		buf[i] = t
	}
	return &RingBuffer[T]{buf: buf}
}

// Push records t as the newest sample, evicting the oldest.
func (r *RingBuffer[T]) Push(t T) {
	r.now = (r.now + 1) % len(r.buf)
	r.buf[r.now] = t
}

// Get returns the sample recorded `since` frames ago; since=0 is the most
// recently pushed sample. since must be < capacity.
func (r *RingBuffer[T]) Get(since int) T {
	idx := int64(r.now) - int64(since)
	n := int64(len(r.buf))
	for idx < 0 {
		idx += n
	}
	return r.buf[idx]
}

// Size returns the buffer's fixed capacity.
func (r *RingBuffer[T]) Size() int {
	return len(r.buf)
}
