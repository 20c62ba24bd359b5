package metrics

import "sync/atomic"

// Ring is a fixed-capacity circular buffer of samples with a single-writer
// invariant: only the owning Sampler calls Put. When full, Put overwrites
// the oldest slot; the producer never blocks and the buffer never grows.
//
// The cursor counts total writes and is advanced atomically only after the
// slot is fully written, so concurrent readers observe either the new sample
// or a stale-but-consistent prior one, never a torn read.
type Ring struct {
	slots  []Sample
	cursor atomic.Int64 // total samples ever written
}

// NewRing creates a ring with the given fixed capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{slots: make([]Sample, capacity)}
}

// Put writes a sample into the current slot and advances the cursor.
// Single writer only.
func (r *Ring) Put(s Sample) {
	n := r.cursor.Load()
	r.slots[int(n)%len(r.slots)] = s
	r.cursor.Store(n + 1)
}

// Latest returns the most recently written sample. ok is false when the
// ring is empty.
func (r *Ring) Latest() (s Sample, ok bool) {
	n := r.cursor.Load()
	if n == 0 {
		return Sample{}, false
	}
	return r.slots[int(n-1)%len(r.slots)], true
}

// Len returns the number of valid samples, at most Cap.
func (r *Ring) Len() int {
	n := int(r.cursor.Load())
	if n > len(r.slots) {
		return len(r.slots)
	}
	return n
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Snapshot appends the valid samples to dst in oldest-to-newest order and
// returns the extended slice. Pass a slice with sufficient capacity to
// avoid allocation.
func (r *Ring) Snapshot(dst []Sample) []Sample {
	n := int(r.cursor.Load())
	size := len(r.slots)
	if n <= size {
		return append(dst, r.slots[:n]...)
	}
	start := n % size
	dst = append(dst, r.slots[start:]...)
	return append(dst, r.slots[:start]...)
}
