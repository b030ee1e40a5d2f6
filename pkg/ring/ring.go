// Package ring implements the fixed-capacity frame ring that bridges the
// capture goroutine and the consumer. Slots are pre-allocated once and only
// logically recycled; the producer never blocks on the consumer.
package ring

import (
	"sync"
	"time"

	"github.com/video-system/go-canon-capture/pkg/camera"
)

// DefaultSlots is the ring depth used by the video source.
const DefaultSlots = 4

// Slot is one reusable decode-target buffer plus its metadata. A slot moves
// Free -> Filled -> Claimed -> Free; the producer owns its buffer while
// Free, the consumer while Claimed.
type Slot struct {
	data      []byte
	width     int
	height    int
	stride    [2]int
	timestamp int64
	inUse     bool
}

// Data returns the slot's backing buffer. The producer decodes into it
// between Reserve and Commit; the consumer reads it between Acquire and
// Release.
func (s *Slot) Data() []byte { return s.data }

// Width returns the native width of the last committed frame, 0 if the slot
// was never filled.
func (s *Slot) Width() int { return s.width }

// Height returns the native height of the last committed frame.
func (s *Slot) Height() int { return s.height }

// Stride returns the byte stride of plane i (0 = luma, 1 = chroma).
func (s *Slot) Stride(i int) int { return s.stride[i] }

// Timestamp returns the capture timestamp in unix nanoseconds.
func (s *Slot) Timestamp() int64 { return s.timestamp }

// Ring is the bounded multi-buffer ring. One mutex guards the cursors,
// count, and slot flags; the CPU-heavy decode happens outside it.
type Ring struct {
	mu       sync.Mutex
	slots    []*Slot
	writeIdx int
	readIdx  int
	count    int
	active   bool

	ready chan struct{} // signals a committed frame, capacity 1
	done  chan struct{} // closed by Deactivate to wake waiters
}

// New allocates a ring of slotCount buffers of slotSize bytes each. This is
// the only allocation point of the pipeline's shared memory.
func New(slotCount, slotSize int) (*Ring, error) {
	if slotCount <= 0 || slotSize <= 0 {
		return nil, camera.ErrInvalidParam
	}

	r := &Ring{
		slots: make([]*Slot, slotCount),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	close(r.done) // inactive until Activate
	for i := range r.slots {
		r.slots[i] = &Slot{data: make([]byte, slotSize)}
	}
	return r, nil
}

// Capacity returns the number of slots.
func (r *Ring) Capacity() int { return len(r.slots) }

// Filled returns the number of committed, unclaimed frames.
func (r *Ring) Filled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Activate arms the ring for a capture session.
func (r *Ring) Activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return
	}
	r.active = true
	r.done = make(chan struct{})
	// Drain a stale ready token from a previous session.
	select {
	case <-r.ready:
	default:
	}
}

// Deactivate marks the ring inactive and wakes every blocked Acquire, which
// then returns ErrDisconnected.
func (r *Ring) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	close(r.done)
}

// Reset clears cursors, count, and per-slot state. Only valid while
// inactive; used between capture sessions.
func (r *Ring) Reset(strideY, strideC int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return
	}
	r.writeIdx = 0
	r.readIdx = 0
	r.count = 0
	for _, s := range r.slots {
		s.width = 0
		s.height = 0
		s.stride[0] = strideY
		s.stride[1] = strideC
		s.timestamp = 0
		s.inUse = false
	}
}

// Reserve returns the candidate write slot, or nil when the ring is full or
// the slot is still claimed by the consumer — both cases are drops for the
// caller to count. Single producer only.
func (r *Ring) Reserve() *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= len(r.slots) {
		return nil
	}
	slot := r.slots[r.writeIdx]
	if slot.inUse {
		return nil
	}
	return slot
}

// Commit publishes a decoded frame into the slot returned by Reserve,
// advancing the write cursor and waking one waiting consumer. Dimensions
// must be the decoder's native ones.
func (r *Ring) Commit(slot *Slot, width, height int, timestamp int64) error {
	if slot == nil || width <= 0 || height <= 0 {
		return camera.ErrInvalidParam
	}

	r.mu.Lock()
	slot.width = width
	slot.height = height
	slot.stride[0] = width
	slot.stride[1] = (width / 2) * 2
	slot.timestamp = timestamp
	r.writeIdx = (r.writeIdx + 1) % len(r.slots)
	r.count++
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
	return nil
}

// Acquire blocks until a filled slot is available, the timeout elapses, or
// the ring is deactivated. On success the oldest filled slot is returned
// Claimed; the caller must Release it.
func (r *Ring) Acquire(timeout time.Duration) (*Slot, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		r.mu.Lock()
		if !r.active {
			r.mu.Unlock()
			return nil, camera.ErrDisconnected
		}
		if r.count > 0 {
			slot := r.slots[r.readIdx]
			slot.inUse = true
			r.readIdx = (r.readIdx + 1) % len(r.slots)
			r.count--
			r.mu.Unlock()
			return slot, nil
		}
		done := r.done
		r.mu.Unlock()

		select {
		case <-r.ready:
		case <-done:
			return nil, camera.ErrDisconnected
		case <-timer.C:
			return nil, camera.ErrTimeout
		}
	}
}

// Release returns a claimed slot to the Free state. Matching is by slot
// identity; an unknown handle is a no-op.
func (r *Ring) Release(slot *Slot) {
	if slot == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s == slot {
			s.inUse = false
			return
		}
	}
}
