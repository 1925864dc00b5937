package producer

import "time"

// batchEntry is one application message waiting inside the batch
// container, alongside the callback that will be invoked with its eventual
// MessageID (including batch_index).
type batchEntry struct {
	payload    []byte
	key        string
	props      map[string]string
	replicated bool
	cb         ackCallback
}

// batchContainer coalesces application messages into a single on-wire
// frame to amortize per-message overhead: holds payload bytes for each
// message plus a callback chain, with hasSpaceFor/flush semantics, the
// same shape as a per-partition accumulator (records, bytes, createdAt)
// generalized here to per-producer batching with a fan-out callback
// instead of a single future per batch.
type batchContainer struct {
	entries   []batchEntry
	bytes     int
	createdAt time.Time

	// firstKey/firstProps/firstReplicated are captured from the first entry
	// added to an otherwise-empty batch: the outer metadata of a flushed
	// batch is always the first message's metadata.
	firstKey        string
	firstProps      map[string]string
	firstReplicated bool

	maxMessages int
	maxBytes    int
}

func newBatchContainer(maxMessages, maxBytes int) *batchContainer {
	return &batchContainer{maxMessages: maxMessages, maxBytes: maxBytes}
}

func (b *batchContainer) empty() bool {
	return len(b.entries) == 0
}

// hasSpaceFor reports whether adding a message of size n keeps the batch
// within both the count and byte limits. An empty batch always has space,
// whatever n is.
func (b *batchContainer) hasSpaceFor(n int) bool {
	if len(b.entries) == 0 {
		return true
	}
	if len(b.entries)+1 > b.maxMessages {
		return false
	}
	return b.bytes+n <= b.maxBytes
}

func (b *batchContainer) add(e batchEntry) {
	if len(b.entries) == 0 {
		b.createdAt = time.Now()
		b.firstKey = e.key
		b.firstProps = e.props
		b.firstReplicated = e.replicated
	}
	b.entries = append(b.entries, e)
	b.bytes += len(e.payload)
}

// flush composes the accumulated entries into a single Send Operation.
// The batch's sequence_id is the one the caller passes in, assigned when
// the batch is flushed; messages inside a batch get no sequence ids of
// their own. The outer metadata is the first message's metadata. The container resets to
// empty after producing the operation.
func (b *batchContainer) flush(producerName string, sequenceID uint64, compression CompressionType) (*sendOp, []byte, error) {
	composed := make([]byte, 0, b.bytes)
	callbacks := make([]ackCallback, 0, len(b.entries))
	for _, e := range b.entries {
		composed = append(composed, e.payload...)
		callbacks = append(callbacks, e.cb)
	}

	meta := metadata{
		ProducerName:     producerName,
		SequenceID:       sequenceID,
		PublishTime:      time.Now(),
		Compression:      compression,
		UncompressedSize: len(composed),
		Checksum:         checksumPayload(composed),
		Key:              b.firstKey,
		Properties:       b.firstProps,
		Replicated:       b.firstReplicated,
	}

	op := &sendOp{
		sequenceID:  sequenceID,
		numMessages: len(b.entries),
		byteSize:    b.bytes,
		createdAt:   b.createdAt,
		meta:        meta,
		callbacks:   callbacks,
	}

	b.entries = nil
	b.bytes = 0
	b.createdAt = time.Time{}
	b.firstKey = ""
	b.firstProps = nil
	b.firstReplicated = false

	return op, composed, nil
}
