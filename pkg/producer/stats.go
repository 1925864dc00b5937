package producer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// stats holds this producer's counters and gauges: Counters for
// monotonic counts, Gauges for point-in-time occupancy. A Producer's
// metrics are labeled by producer name and topic and registered against a
// caller-supplied prometheus.Registerer so that many producers (and many
// tests, each constructing its own Producer) can coexist without a global
// MustRegister panic on duplicate collectors.
type stats struct {
	messagesSent   prometheus.Counter
	messagesAcked  prometheus.Counter
	messagesFailed prometheus.Counter
	bytesSent      prometheus.Counter
	batchesFlushed prometheus.Counter
	timeouts       prometheus.Counter
	reconnects     prometheus.Counter

	pendingQueueSize prometheus.Gauge
}

// newStats registers this producer's counters/gauges against reg, which
// the caller (NewProducer) guarantees is non-nil — either the
// ClientContext-supplied registry or a fresh private one.
func newStats(reg prometheus.Registerer, producerName, topic string) *stats {
	labels := prometheus.Labels{"producer_name": producerName, "topic": topic}
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "goqueue",
			Subsystem:   "producer",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		reg.MustRegister(c)
		return c
	}

	s := &stats{
		messagesSent:   factory("messages_sent_total", "Application messages accepted by SendAsync."),
		messagesAcked:  factory("messages_acked_total", "Application messages acknowledged by the broker."),
		messagesFailed: factory("messages_failed_total", "Application messages that failed (timeout, reconnect failure, close)."),
		bytesSent:      factory("bytes_sent_total", "Uncompressed payload bytes accepted by SendAsync."),
		batchesFlushed: factory("batches_flushed_total", "Batch containers flushed into a Send Operation."),
		timeouts:       factory("send_timeouts_total", "Times the send-timeout sweeper failed the in-flight window."),
		reconnects:     factory("reconnects_total", "Times the reconnect orchestrator re-established a connection."),
	}

	s.pendingQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "goqueue",
		Subsystem:   "producer",
		Name:        "pending_queue_size",
		Help:        "Current number of Send Operations in the in-flight window.",
		ConstLabels: labels,
	})
	reg.MustRegister(s.pendingQueueSize)

	return s
}

// Stats is the snapshot returned by Producer.GetStats.
type Stats struct {
	MessagesSent   uint64
	MessagesAcked  uint64
	MessagesFailed uint64
	BytesSent      uint64
	BatchesFlushed uint64
	Timeouts       uint64
	Reconnects     uint64
	PendingQueue   int
}
