package producer

import (
	"fmt"
	"time"

	"goqueue/internal/timerwheel"
)

// sendTimeoutID builds the shared wheel's timer id for this producer's
// single send-timeout entry.
func sendTimeoutID(producerID uint64) string {
	return fmt.Sprintf("producer/%d/send-timeout", producerID)
}

// armSendTimeout (re)schedules the single send-timeout task against
// `head.createdAt + SendTimeout`: only ever one scheduled task per
// producer, rearmed whenever the head changes. Callers must hold the
// producer mutex.
func (p *Producer) armSendTimeout(head *sendOp) {
	if p.opts.SendTimeout <= 0 || head == nil {
		p.disarmSendTimeout()
		return
	}
	deadline := head.createdAt.Add(p.opts.SendTimeout)
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	id := sendTimeoutID(p.producerID)
	if _, ok := p.wheel.Get(id); ok {
		_ = p.wheel.Cancel(id)
	}
	_ = p.wheel.Schedule(id, delay, func(entry *timerwheel.TimerEntry) { p.onSendTimeout(entry) })
}

func (p *Producer) disarmSendTimeout() {
	p.wheel.Cancel(sendTimeoutID(p.producerID))
}

// onSendTimeout is the timerwheel.TimerCallback invoked when the armed
// send-timeout fires. If the head has reached its deadline it fails the
// entire in-flight window; if not (the wheel fired before the deadline, or
// the head changed), it re-arms against the current head instead.
func (p *Producer) onSendTimeout(entry *timerwheel.TimerEntry) {
	p.mu.Lock()

	head := p.window.headLocked()
	if head == nil {
		p.mu.Unlock()
		return
	}
	// Re-check: the head may have been acked between the wheel firing and
	// this callback acquiring the lock.
	if time.Now().Before(head.createdAt.Add(p.opts.SendTimeout)) {
		p.armSendTimeout(head)
		p.mu.Unlock()
		return
	}

	sequenceID := head.sequenceID
	ops := failAll(p.window, p.logger)
	p.mu.Unlock()

	// Run the failure callbacks only after releasing p.mu: a callback that
	// re-enters the producer would otherwise deadlock on the same mutex.
	n := failOps(ops, ErrTimeout)
	p.stats.timeouts.Inc()
	p.stats.messagesFailed.Add(float64(n))
	p.logger.Warn("producer: send timeout, failed in-flight window", "producer_id", p.producerID, "sequence_id", sequenceID, "messages_failed", n)
}
