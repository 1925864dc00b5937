package producer

import "container/list"

// window is the in-flight window: a FIFO of sendOps ordered by
// sequence_id, paired with a counting semaphore sized to
// Options.MaxPendingMessages. Every method here assumes the caller
// already holds the owning Producer's mutex, since acks, timeouts, and
// replay all need to peek or pop the head under that same lock that
// protects insertion, which a plain buffered channel cannot offer (a
// channel exposes no peek) — so this is a container/list instead, the
// same shape the rest of this codebase uses for small in-memory ordered
// structures guarded by an explicit mutex one level up.
type window struct {
	list  *list.List
	sem   chan struct{} // capacity == MaxPendingMessages; one token per message
	limit int
}

func newWindow(limit int) *window {
	return &window{
		list:  list.New(),
		sem:   make(chan struct{}, limit),
		limit: limit,
	}
}

// acquire blocks (or fails fast) until numPermits tokens are available.
// Unlike the list operations, the semaphore is safe to call without the
// producer mutex held: SendAsync blocks here before it ever takes the
// mutex.
func (w *window) acquire(numPermits int, block bool, cancel <-chan struct{}) error {
	for i := 0; i < numPermits; i++ {
		if block {
			select {
			case w.sem <- struct{}{}:
			case <-cancel:
				w.release(i)
				return ErrInterrupted
			}
		} else {
			select {
			case w.sem <- struct{}{}:
			default:
				w.release(i)
				return ErrQueueFull
			}
		}
	}
	return nil
}

func (w *window) release(numPermits int) {
	for i := 0; i < numPermits; i++ {
		select {
		case <-w.sem:
		default:
			// Releasing more than were ever acquired is a caller bug; in
			// practice this never happens because permits are tracked
			// 1:1 with sendOp.numMessages.
		}
	}
}

func (w *window) pushBack(op *sendOp) {
	w.list.PushBack(op)
}

// headLocked returns the oldest unacknowledged operation without removing
// it.
func (w *window) headLocked() *sendOp {
	e := w.list.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*sendOp)
}

// popHeadLocked removes and returns the oldest operation.
func (w *window) popHeadLocked() *sendOp {
	e := w.list.Front()
	if e == nil {
		return nil
	}
	w.list.Remove(e)
	return e.Value.(*sendOp)
}

func (w *window) lenLocked() int {
	return w.list.Len()
}

// drainLocked removes and returns every queued operation, in order, for
// replay or for failing the whole window on close/timeout.
func (w *window) drainLocked() []*sendOp {
	ops := make([]*sendOp, 0, w.list.Len())
	for e := w.list.Front(); e != nil; e = e.Next() {
		ops = append(ops, e.Value.(*sendOp))
	}
	w.list.Init()
	return ops
}

// snapshotLocked returns every queued operation without removing them,
// for reconnect replay.
func (w *window) snapshotLocked() []*sendOp {
	ops := make([]*sendOp, 0, w.list.Len())
	for e := w.list.Front(); e != nil; e = e.Next() {
		ops = append(ops, e.Value.(*sendOp))
	}
	return ops
}
