package producer

import "time"

// MessageID identifies a durably-acked message. For a send that carried
// more than one message it also carries batch_index; a send of a single
// message leaves it at -1, including a batch flushed with only one entry.
type MessageID struct {
	LedgerID       uint64
	EntryID        uint64
	PartitionIndex int32
	BatchIndex     int32
}

// SingletonMessageID reports whether this id belongs to a non-batched send.
func (id MessageID) SingletonMessageID() bool {
	return id.BatchIndex < 0
}

// Message is one application-supplied unit of work handed to SendAsync.
type Message struct {
	Payload []byte

	// Key, if set, is available to the broker for partitioning/compaction.
	// The producer itself is bound to a fixed partition (see Options); Key
	// does not change routing here.
	Key string

	// Properties are opaque user metadata carried alongside the payload.
	Properties map[string]string

	// EventTime, if zero, defaults to the send-time clock reading at
	// admission. Set explicitly for reprocessing/replay pipelines. Only
	// non-batched sends carry it; a batch's publish time is its flush time.
	EventTime time.Time

	// Replicated marks this message as a cross-cluster replication copy
	// rather than a fresh application send. The producer_name reuse check
	// exempts replicated messages, since a replication pipeline legitimately
	// resends the same *Message value (with its original
	// producer_name/sequence_id already stamped) to more than one
	// destination cluster.
	Replicated bool

	// sent guards against a caller resending the same *Message value;
	// reuse of an already-sent message is rejected with ErrInvalidMessage.
	// Not checked when Replicated is set.
	sent bool

	// checksum is stamped by SendAsync's integrity step the first time this
	// message is sent: zero means "not yet computed".
	checksum uint64
}

// metadata is the wire-bound stamp applied to a message (or a batch's first
// message) during send admission: producer name, sequence id, publish time,
// the codec, and the pre-compression size. The size is stamped whether or
// not compression is configured.
type metadata struct {
	ProducerName     string
	SequenceID       uint64
	PublishTime      time.Time
	Compression      CompressionType
	UncompressedSize int
	Checksum         uint64
	Key              string
	Properties       map[string]string
	Replicated       bool
}
