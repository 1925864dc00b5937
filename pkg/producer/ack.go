package producer

import "log/slog"

// handleAck processes one `(cnx, sequence_id, ledger_id, entry_id)` inbound
// callback. Must be called with the producer's mutex held by the caller
// (see OnAckReceived), since it inspects and mutates the window's head
// under the same invariant that guards sends and timeouts.
//
// Returns forceReconnect=true when the broker sent an ack for a
// sequence_id ahead of what this producer expects — a protocol desync
// that only a reconnect-and-replay can resolve.
//
// handleAck never invokes a user callback itself: it only pops the window
// and returns the resolved operation, so the caller can run op.resolve
// after releasing the producer mutex.
func handleAck(w *window, sequenceID uint64) (forceReconnect, acked bool, resolvedOp *sendOp) {
	head := w.headLocked()
	if head == nil {
		// No pending operation at all: a stale ack arriving after the
		// window already drained (e.g. timeout fired first). Drop.
		return false, false, nil
	}

	expected := head.sequenceID
	switch {
	case sequenceID > expected:
		// Protocol desync: the broker acked something ahead of our head.
		// Do not pop; force-close the connection so replay resynchronizes.
		return true, false, nil

	case sequenceID < expected:
		// Stale ack for a message that already timed out and was
		// dropped from the window. Drop silently.
		return false, false, nil

	default:
		w.popHeadLocked()
		w.release(head.numMessages)
		return false, true, head
	}
}

// OnAckReceived is the ack_received(cnx, sequence_id, ledger_id, entry_id)
// inbound callback. A desynced ack forces the current connection closed so
// the reconnect path replays and resynchronizes; that force-close is not
// surfaced to the caller.
func (p *Producer) OnAckReceived(sequenceID, ledgerID, entryID uint64) {
	p.mu.Lock()
	force, acked, resolvedOp := handleAck(p.window, sequenceID)
	conn := p.conn
	if force {
		p.conn = nil
	}
	if acked {
		p.armSendTimeout(p.window.headLocked())
	}
	p.mu.Unlock()

	// Run the user callback and close a desynced connection only after
	// releasing p.mu: a callback that re-enters the producer (e.g. calls
	// SendAsync from within its own ack callback, an ordinary usage
	// pattern) would otherwise deadlock on the same mutex.
	if acked {
		resolvedOp.resolve(ledgerID, entryID, p.partitionIndex)
		p.stats.messagesAcked.Add(float64(resolvedOp.numMessages))
		if resolvedOp.frame != nil {
			resolvedOp.frame.Release()
		}
	}
	if force && conn != nil {
		_ = conn.Close()
	}
}

// failAll drains every operation currently in the window (used by the
// send-timeout sweeper and the reconnect orchestrator's terminal path) and
// releases their permits and frames. It must be called with the producer mutex held,
// but deliberately does not invoke any callback itself: the caller runs
// failOps on the returned ops after unlocking, so a callback that re-enters
// the producer cannot deadlock against the same mutex.
func failAll(w *window, logger *slog.Logger) []*sendOp {
	ops := w.drainLocked()
	for _, op := range ops {
		op.logger = logger
		w.release(op.numMessages)
		if op.frame != nil {
			op.frame.Release()
		}
	}
	return ops
}

// failOps invokes each operation's failure callback with err. Must be
// called with the producer mutex NOT held. Returns the total app-message
// count failed, for stats.
func failOps(ops []*sendOp, err error) (numMessages int) {
	for _, op := range ops {
		op.fail(err)
		numMessages += op.numMessages
	}
	return numMessages
}
