package producer

import (
	"testing"
	"time"
)

func TestWindow_AcquireReleaseNonBlocking(t *testing.T) {
	w := newWindow(2)

	if err := w.acquire(2, false, nil); err != nil {
		t.Fatalf("acquire(2): %v", err)
	}
	if err := w.acquire(1, false, nil); err != ErrQueueFull {
		t.Fatalf("acquire over capacity = %v, want ErrQueueFull", err)
	}
	w.release(1)
	if err := w.acquire(1, false, nil); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestWindow_AcquireBlockingInterrupted(t *testing.T) {
	w := newWindow(1)
	if err := w.acquire(1, false, nil); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cancel := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- w.acquire(1, true, cancel) }()

	close(cancel)
	select {
	case err := <-done:
		if err != ErrInterrupted {
			t.Fatalf("err = %v, want ErrInterrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after cancel")
	}
}

func TestWindow_FIFOOrderAndPeek(t *testing.T) {
	w := newWindow(8)
	ops := []*sendOp{{sequenceID: 0}, {sequenceID: 1}, {sequenceID: 2}}
	for _, op := range ops {
		w.pushBack(op)
	}

	if got := w.lenLocked(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	if head := w.headLocked(); head.sequenceID != 0 {
		t.Fatalf("head.sequenceID = %d, want 0", head.sequenceID)
	}

	popped := w.popHeadLocked()
	if popped.sequenceID != 0 {
		t.Fatalf("popped.sequenceID = %d, want 0", popped.sequenceID)
	}
	if head := w.headLocked(); head.sequenceID != 1 {
		t.Fatalf("head.sequenceID after pop = %d, want 1", head.sequenceID)
	}
}

func TestWindow_DrainAndSnapshot(t *testing.T) {
	w := newWindow(8)
	for i := uint64(0); i < 3; i++ {
		w.pushBack(&sendOp{sequenceID: i})
	}

	snap := w.snapshotLocked()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	if got := w.lenLocked(); got != 3 {
		t.Fatal("snapshot must not remove entries")
	}

	drained := w.drainLocked()
	if len(drained) != 3 {
		t.Fatalf("drained len = %d, want 3", len(drained))
	}
	if got := w.lenLocked(); got != 0 {
		t.Fatalf("len after drain = %d, want 0", got)
	}
	if w.headLocked() != nil {
		t.Fatal("head after drain must be nil")
	}
}
