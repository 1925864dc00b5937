package producer

import (
	"fmt"

	"goqueue/internal/timerwheel"
)

func batchFlushTimerID(producerID uint64) string {
	return fmt.Sprintf("producer/%d/batch-flush", producerID)
}

// armBatchFlushTimer schedules a one-shot forced flush so a
// partially-filled batch never sits longer than BatchingMaxPublishDelay.
// Called whenever a message is added to a previously-empty batch; it does
// nothing if the timer is already armed. The timer is cancelled whenever
// the batch is flushed. It is not periodic: onBatchFlushDue does not
// re-arm it, the next message into an empty batch does.
func (p *Producer) armBatchFlushTimer() {
	if !p.opts.BatchingEnabled {
		return
	}
	id := batchFlushTimerID(p.producerID)
	if _, ok := p.wheel.Get(id); ok {
		return
	}
	_ = p.wheel.Schedule(id, p.opts.BatchingMaxPublishDelay, func(entry *timerwheel.TimerEntry) { p.onBatchFlushDue(entry) })
}

func (p *Producer) disarmBatchFlushTimer() {
	p.wheel.Cancel(batchFlushTimerID(p.producerID))
}

// onBatchFlushDue is the timerwheel.TimerCallback invoked when the batch
// flush timer fires. It forces out whatever is currently accumulated,
// even a single message, and rearms only if sends land in a fresh batch
// afterward (done by the next sendBatchedLocked call, not here).
func (p *Producer) onBatchFlushDue(entry *timerwheel.TimerEntry) {
	p.mu.Lock()
	if p.batch == nil || p.batch.empty() {
		p.mu.Unlock()
		return
	}
	p.flushBatchLocked()
	p.mu.Unlock()

	p.drainPendingWrites()
}
