package producer

import "time"

// CompressionType selects the codec applied to a send's payload (or, for a
// batch, to the composed batched payload) before it is framed for the wire.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionZLib
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZLib:
		return "zlib"
	default:
		return "unknown"
	}
}

// Options configures a Producer: a plain struct with a defaults
// constructor.
type Options struct {
	// Topic is the target topic. Required.
	Topic string

	// Name optionally pins a producer name; if empty, the broker assigns
	// one on the first successful registration.
	Name string

	// MaxPendingMessages sizes the in-flight window and its backpressure
	// semaphore. Default: 1000.
	MaxPendingMessages int

	// BlockIfQueueFull selects SendAsync's behavior when the window is at
	// capacity: block until a permit frees up (true) or fail fast with
	// ErrQueueFull (false, the default).
	BlockIfQueueFull bool

	// SendTimeout bounds how long a send may wait for an ack before the
	// whole in-flight window is failed. Zero disables the sweeper.
	// Default: 30s.
	SendTimeout time.Duration

	// CompressionType selects the wire compression codec. Default: none.
	CompressionType CompressionType

	// BatchingEnabled turns on the Batch Container. Default: true.
	BatchingEnabled bool

	// BatchingMaxMessages caps how many app messages a single batch may
	// hold. Default: 1000.
	BatchingMaxMessages int

	// BatchingMaxBytes is the hard ceiling on a batch's accumulated
	// uncompressed size. Default: 128KB.
	BatchingMaxBytes int

	// BatchingMaxPublishDelay bounds how long a partially-filled batch may
	// sit before the flush timer forces it out. Default: 10ms.
	BatchingMaxPublishDelay time.Duration

	// OperationTimeout bounds reconnect-related RPCs (create-producer,
	// close-producer) and each wire write. It plays no part in deciding
	// whether a failed connection attempt is retried. Default: 30s.
	OperationTimeout time.Duration

	// StatsIntervalSeconds is accepted but not read: the producer does no
	// periodic stats snapshot logging. The counters are always live for
	// scraping and through GetStats. Default: 60.
	StatsIntervalSeconds int
}

// DefaultOptions returns an Options with the defaults documented on each
// field.
func DefaultOptions(topic string) Options {
	return Options{
		Topic:                   topic,
		MaxPendingMessages:      1000,
		BlockIfQueueFull:        false,
		SendTimeout:             30 * time.Second,
		CompressionType:         CompressionNone,
		BatchingEnabled:         true,
		BatchingMaxMessages:     1000,
		BatchingMaxBytes:        128 * 1024,
		BatchingMaxPublishDelay: 10 * time.Millisecond,
		OperationTimeout:        30 * time.Second,
		StatsIntervalSeconds:    60,
	}
}

func (o *Options) applyDefaults() {
	if o.MaxPendingMessages <= 0 {
		o.MaxPendingMessages = 1000
	}
	if o.SendTimeout < 0 {
		o.SendTimeout = 0
	}
	if o.BatchingMaxMessages <= 0 {
		o.BatchingMaxMessages = 1000
	}
	if o.BatchingMaxBytes <= 0 {
		o.BatchingMaxBytes = 128 * 1024
	}
	if o.BatchingMaxPublishDelay <= 0 {
		o.BatchingMaxPublishDelay = 10 * time.Millisecond
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 30 * time.Second
	}
}
