package ring

import (
	"errors"
	"testing"
	"time"

	"github.com/video-system/go-canon-capture/pkg/camera"
)

func newTestRing(t *testing.T) *Ring {
	t.Helper()
	r, err := New(DefaultSlots, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Reset(8, 8)
	r.Activate()
	return r
}

func commitFrame(t *testing.T, r *Ring, marker byte) *Slot {
	t.Helper()
	slot := r.Reserve()
	if slot == nil {
		t.Fatalf("Reserve returned nil with %d filled", r.Filled())
	}
	slot.Data()[0] = marker
	if err := r.Commit(slot, 8, 8, time.Now().UnixNano()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return slot
}

func TestNewRejectsInvalidParams(t *testing.T) {
	if _, err := New(0, 64); !errors.Is(err, camera.ErrInvalidParam) {
		t.Errorf("New(0, 64) err = %v, want ErrInvalidParam", err)
	}
	if _, err := New(4, 0); !errors.Is(err, camera.ErrInvalidParam) {
		t.Errorf("New(4, 0) err = %v, want ErrInvalidParam", err)
	}
}

func TestCommitAcquireRelease(t *testing.T) {
	r := newTestRing(t)

	commitFrame(t, r, 0xAB)

	slot, err := r.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Data()[0] != 0xAB {
		t.Errorf("acquired slot data = %#x, want 0xAB", slot.Data()[0])
	}
	if slot.Width() != 8 || slot.Height() != 8 {
		t.Errorf("dimensions = %dx%d, want 8x8", slot.Width(), slot.Height())
	}

	r.Release(slot)
	if r.Filled() != 0 {
		t.Errorf("Filled = %d after release, want 0", r.Filled())
	}
}

func TestAcquireReturnsOldestFirst(t *testing.T) {
	r := newTestRing(t)

	commitFrame(t, r, 1)
	commitFrame(t, r, 2)
	commitFrame(t, r, 3)

	for want := byte(1); want <= 3; want++ {
		slot, err := r.Acquire(time.Second)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if slot.Data()[0] != want {
			t.Errorf("frame order: got %d, want %d", slot.Data()[0], want)
		}
		r.Release(slot)
	}
}

func TestReserveFailsWhenFull(t *testing.T) {
	r := newTestRing(t)

	for i := 0; i < r.Capacity(); i++ {
		commitFrame(t, r, byte(i+1))
	}

	if slot := r.Reserve(); slot != nil {
		t.Fatalf("Reserve succeeded on a full ring")
	}

	// The stored frames must be untouched by the failed reservation.
	for want := byte(1); want <= byte(r.Capacity()); want++ {
		slot, err := r.Acquire(time.Second)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if slot.Data()[0] != want {
			t.Errorf("frame %d corrupted: got %d", want, slot.Data()[0])
		}
		r.Release(slot)
	}
}

func TestReserveFailsWhileSlotClaimed(t *testing.T) {
	r, err := New(1, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Activate()

	commitFrame(t, r, 1)
	slot, err := r.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if got := r.Reserve(); got != nil {
		t.Errorf("Reserve succeeded while the only slot is claimed")
	}

	r.Release(slot)
	if got := r.Reserve(); got == nil {
		t.Errorf("Reserve failed after release")
	}
}

func TestAcquireTimesOutWhenEmpty(t *testing.T) {
	r := newTestRing(t)

	start := time.Now()
	_, err := r.Acquire(50 * time.Millisecond)
	if !errors.Is(err, camera.ErrTimeout) {
		t.Fatalf("Acquire err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected to wait ~50ms", elapsed)
	}
}

func TestAcquireWakesOnCommit(t *testing.T) {
	r := newTestRing(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		commitFrame(t, r, 7)
	}()

	slot, err := r.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Data()[0] != 7 {
		t.Errorf("data = %d, want 7", slot.Data()[0])
	}
	r.Release(slot)
}

func TestDeactivateUnblocksAcquire(t *testing.T) {
	r := newTestRing(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Acquire(5 * time.Second)
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	r.Deactivate()

	select {
	case err := <-errCh:
		if !errors.Is(err, camera.ErrDisconnected) {
			t.Errorf("Acquire err = %v, want ErrDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Acquire did not return after Deactivate")
	}
}

func TestAcquireOnInactiveRing(t *testing.T) {
	r, err := New(DefaultSlots, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Acquire(time.Second); !errors.Is(err, camera.ErrDisconnected) {
		t.Errorf("Acquire err = %v, want ErrDisconnected", err)
	}
}

func TestReleaseUnknownSlotIsNoOp(t *testing.T) {
	r := newTestRing(t)
	commitFrame(t, r, 1)

	r.Release(nil)
	r.Release(&Slot{})

	if r.Filled() != 1 {
		t.Errorf("Filled = %d after bogus releases, want 1", r.Filled())
	}
}

func TestResetOnlyWhileInactive(t *testing.T) {
	r := newTestRing(t)
	commitFrame(t, r, 1)

	r.Reset(8, 8)
	if r.Filled() != 1 {
		t.Errorf("Reset while active cleared the ring")
	}

	r.Deactivate()
	r.Reset(8, 8)
	if r.Filled() != 0 {
		t.Errorf("Reset while inactive kept %d frames", r.Filled())
	}
}

func TestCommitSetsHalfChromaStride(t *testing.T) {
	r := newTestRing(t)

	slot := r.Reserve()
	if err := r.Commit(slot, 6, 4, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if slot.Stride(0) != 6 {
		t.Errorf("luma stride = %d, want 6", slot.Stride(0))
	}
	if slot.Stride(1) != 6 {
		t.Errorf("chroma stride = %d, want 6", slot.Stride(1))
	}

	slot = r.Reserve()
	if err := r.Commit(slot, 7, 4, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if slot.Stride(1) != 6 {
		t.Errorf("odd-width chroma stride = %d, want 6", slot.Stride(1))
	}
}

func TestReuseAcrossSessions(t *testing.T) {
	r := newTestRing(t)
	commitFrame(t, r, 1)

	r.Deactivate()
	r.Reset(8, 8)
	r.Activate()

	if r.Filled() != 0 {
		t.Fatalf("Filled = %d after reset, want 0", r.Filled())
	}
	commitFrame(t, r, 2)
	slot, err := r.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire after reactivate: %v", err)
	}
	if slot.Data()[0] != 2 {
		t.Errorf("data = %d, want 2", slot.Data()[0])
	}
	r.Release(slot)
}
