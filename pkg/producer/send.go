package producer

import (
	"context"
	"sync/atomic"
	"time"
)

// SendAsync runs the send pipeline end to end: state gate, backpressure
// admission, integrity checksum, reuse check, sequence assignment, and
// batched/non-batched dispatch. cb is invoked exactly once, either with a
// resolved MessageID or an error.
func (p *Producer) SendAsync(ctx context.Context, msg *Message, cb ackCallback) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	// 1. State gate.
	switch state {
	case StateClosing, StateClosed:
		invokeCallback(p.logger, cb, 0, MessageID{}, ErrAlreadyClosed)
		return
	case StateFailed, StateUninitialized:
		invokeCallback(p.logger, cb, 0, MessageID{}, ErrNotConnected)
		return
	}

	// 4. Reuse check, ahead of taking a permit so a rejected message never
	// leaks one. Replicated messages are exempt: a replication pipeline
	// legitimately resends the same *Message value to more than one
	// destination cluster.
	if msg.sent && !msg.Replicated {
		invokeCallback(p.logger, cb, 0, MessageID{}, ErrInvalidMessage)
		return
	}

	// 2. Admission / backpressure.
	var cancel <-chan struct{}
	if ctx != nil {
		cancel = ctx.Done()
	}
	if err := p.window.acquire(1, p.opts.BlockIfQueueFull, cancel); err != nil {
		invokeCallback(p.logger, cb, 0, MessageID{}, err)
		return
	}

	msg.sent = true

	// 3. Integrity.
	if msg.checksum == 0 {
		msg.checksum = checksumPayload(msg.Payload)
	}

	p.mu.Lock()
	if p.opts.BatchingEnabled {
		p.sendBatchedLocked(msg, cb)
	} else {
		p.sendSingletonLocked(msg, cb)
	}
	p.mu.Unlock()

	p.drainPendingWrites()
}

// sendSingletonLocked implements the non-batched send branch.
func (p *Producer) sendSingletonLocked(msg *Message, cb ackCallback) {
	sequenceID := atomic.AddUint64(&p.seq, 1) - 1

	meta := metadata{
		ProducerName: p.producerName,
		SequenceID:   sequenceID,
		PublishTime:  publishTimeOf(msg),
		Compression:  p.opts.CompressionType,
		Checksum:     msg.checksum,
		Key:          msg.Key,
		Properties:   msg.Properties,
		Replicated:   msg.Replicated,
	}

	compressed, err := compress(p.opts.CompressionType, msg.Payload)
	if err != nil {
		p.window.release(1)
		invokeCallback(p.logger, cb, 0, MessageID{}, wrapProducerError("compress", err))
		return
	}
	meta.UncompressedSize = len(msg.Payload)

	op := &sendOp{
		sequenceID:  sequenceID,
		numMessages: 1,
		byteSize:    len(msg.Payload),
		createdAt:   time.Now(),
		meta:        meta,
		callbacks:   []ackCallback{cb},
		logger:      p.logger,
	}

	p.dispatchLocked(op, compressed)
}

// sendBatchedLocked implements the batching send branch.
func (p *Producer) sendBatchedLocked(msg *Message, cb ackCallback) {
	entry := batchEntry{payload: msg.Payload, key: msg.Key, props: msg.Properties, replicated: msg.Replicated, cb: cb}

	if !p.batch.hasSpaceFor(len(msg.Payload)) {
		p.flushBatchLocked()
	}
	if p.batch.empty() {
		p.armBatchFlushTimer()
	}
	p.batch.add(entry)
	p.stats.messagesSent.Inc()
	p.stats.bytesSent.Add(float64(len(msg.Payload)))

	if len(p.batch.entries) >= p.opts.BatchingMaxMessages || p.batch.bytes >= p.opts.BatchingMaxBytes {
		p.flushBatchLocked()
	}
}

// dispatchLocked appends op to the in-flight window, arms the send-timeout
// sweeper against the (possibly new) head, and writes to the wire if
// connected. If not connected the operation simply stays queued for
// reconnect replay.
func (p *Producer) dispatchLocked(op *sendOp, payload []byte) {
	op.frame, _ = newSend(p.producerID, op.sequenceID, op.numMessages, op.meta, payload)

	wasEmpty := p.window.lenLocked() == 0
	p.window.pushBack(op)
	if wasEmpty {
		p.armSendTimeout(op)
	}

	if !p.opts.BatchingEnabled {
		p.stats.messagesSent.Inc()
		p.stats.bytesSent.Add(float64(op.byteSize))
	}

	if p.conn != nil && p.state == StateReady {
		p.pendingWrites = append(p.pendingWrites, op)
	}
}

// writeToConn retains an additional reference on op's frame before dispatch
// (the window keeps the original reference for replay, the write consumes
// the retained one) and hands the write to the connection's own serialized
// I/O executor. Write is expected to enqueue and return promptly; it is
// called outside the producer mutex.
func (p *Producer) writeToConn(conn Connection, op *sendOp) {
	op.frame.Acquire()
	defer op.frame.Release()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.OperationTimeout)
	defer cancel()
	if err := conn.Write(ctx, op.frame); err != nil {
		p.logger.Debug("producer: write failed, awaiting reconnect", "sequence_id", op.sequenceID, "error", err)
	}
}

func publishTimeOf(msg *Message) time.Time {
	if msg.EventTime.IsZero() {
		return time.Now()
	}
	return msg.EventTime
}
