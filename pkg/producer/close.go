package producer

import "context"

// CloseAsync drains and closes the producer: already-closing/closed
// short-circuits to success, not-connected releases buffered frames and
// resolves immediately, otherwise it cancels timers, sends close-producer
// on the live connection, and resolves once that completes (or the
// channel was already dead).
func (p *Producer) CloseAsync(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateClosing, StateClosed:
		p.mu.Unlock()
		return nil
	}

	p.setState(StateClosing)
	p.disarmSendTimeout()
	p.disarmBatchFlushTimer()
	if p.batch != nil && !p.batch.empty() {
		p.flushBatchLocked()
	}

	conn := p.conn
	producerID := p.producerID
	pendingWrites := p.pendingWrites
	p.pendingWrites = nil
	p.mu.Unlock()

	for _, op := range pendingWrites {
		if conn != nil {
			p.writeToConn(conn, op)
		}
	}

	if conn == nil || !conn.IsActive() {
		p.finishClose(nil)
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, p.opts.OperationTimeout)
	defer cancel()

	err := conn.RemoveProducer(opCtx, producerID)
	if err != nil && isRetriableConnErr(err) {
		// Transient failure with what we believed was a live channel:
		// surface it and return to Ready so the caller may retry.
		p.mu.Lock()
		p.setState(StateReady)
		p.mu.Unlock()
		return wrapProducerError("close", err)
	}

	p.finishClose(err)
	return nil
}

// finishClose transitions to Closed, releases every buffered frame still
// held by the window, and fails any callbacks still waiting.
func (p *Producer) finishClose(_ error) {
	p.mu.Lock()
	p.setState(StateClosed)
	ops := p.window.drainLocked()
	p.mu.Unlock()

	for _, op := range ops {
		op.logger = p.logger
		p.window.release(op.numMessages)
		p.stats.messagesFailed.Add(float64(op.numMessages))
		if op.frame != nil {
			op.frame.Release()
		}
		op.fail(ErrAlreadyClosed)
	}

	p.closeOnce.Do(func() {
		close(p.closed)
		if p.ctx.CleanupProducer != nil {
			p.ctx.CleanupProducer(p.producerID)
		}
	})
}
