package producer

import (
	"log/slog"
	"time"
)

// ackCallback is invoked exactly once when a Send Operation's outcome is
// known: either id is populated and err is nil (ack), or err is non-nil
// (timeout, reconnect failure, close). idx is the batch index for a
// batched send's per-message callback, or 0 for a singleton.
type ackCallback func(idx int, id MessageID, err error)

// sendOp is one element of the in-flight window: the pre-serialized wire
// frame plus everything the Acknowledgement Handler and Send-Timeout
// Sweeper need to resolve or fail it.
type sendOp struct {
	frame       *FrameBuffer
	sequenceID  uint64
	numMessages int
	byteSize    int
	createdAt   time.Time

	// meta is the stamped metadata that produced this frame; ledger/entry
	// ids from the ack are combined with meta's PartitionIndex equivalent
	// (held by the owning Producer, since a producer is bound to one
	// partition) to build each MessageID.
	meta metadata

	// callbacks holds one entry per app message carried by this operation:
	// length 1 for a non-batched send, length N for a batch of N.
	callbacks []ackCallback

	// logger is shared from the owning Producer so a panicking user
	// callback can be logged instead of crashing the caller's goroutine.
	logger *slog.Logger
}

func (op *sendOp) resolve(ledgerID, entryID uint64, partitionIndex int32) {
	n := len(op.callbacks)
	for i, cb := range op.callbacks {
		id := MessageID{LedgerID: ledgerID, EntryID: entryID, PartitionIndex: partitionIndex, BatchIndex: -1}
		if n > 1 {
			id.BatchIndex = int32(i)
		}
		invokeCallback(op.logger, cb, i, id, nil)
	}
}

func (op *sendOp) fail(err error) {
	for i, cb := range op.callbacks {
		invokeCallback(op.logger, cb, i, MessageID{}, err)
	}
}

// invokeCallback runs cb defensively: a panicking user callback must not
// bring down the producer's goroutines.
func invokeCallback(logger *slog.Logger, cb ackCallback, idx int, id MessageID, err error) {
	if cb == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("producer: ack callback panicked", "panic", r)
		}
	}()
	cb(idx, id, err)
}
