// Package producer implements the client-side producer for a partitioned,
// broker-mediated publish/subscribe messaging system: it accepts
// application messages, assigns monotonically increasing sequence ids,
// optionally compresses and batches them, transmits them over a
// persistent framed connection, enforces bounded in-flight pipelining,
// correlates acknowledgements, and survives broker disconnects by
// replaying unacknowledged traffic once a new connection opens.
package producer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"goqueue/internal/timerwheel"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// State is the producer's lifecycle state: Uninitialized -> Connecting ->
// Ready, with transitions out to Closing/Closed on shutdown or to Failed
// on an unrecoverable registration error.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ClientContext supplies the collaborators a producer consumes from its
// owning client: producer/request id allocation, the shared timer wheel,
// the operation timeout, a cleanup hook invoked once the producer is fully
// closed, and the stats registerer. A real deployment wires this to
// the client object that owns the connection pool and the shared wheel;
// tests construct a minimal one directly.
//
// A Wheel supplied here (shared across many producers) must be
// constructed with a Callback that dispatches by Data in a new goroutine,
// since the wheel itself only ever invokes one callback for every timer it
// holds (see timerDispatch for why the goroutine is needed):
//
//	timerwheel.NewTimerWheel(timerwheel.TimerWheelConfig{
//		Callback: func(e *timerwheel.TimerEntry) {
//			if fn, ok := e.Data.(func(*timerwheel.TimerEntry)); ok {
//				go fn(e)
//			}
//		},
//	})
//
// NewProducer constructs a wheel with exactly this dispatcher when Wheel is
// left nil.
type ClientContext struct {
	NewProducerID    func() uint64
	NewRequestID     func() uint64
	Wheel            *timerwheel.TimerWheel
	OperationTimeout time.Duration
	CleanupProducer  func(producerID uint64)
	StatsRegisterer  prometheus.Registerer
}

// fallbackProducerIDCounter/fallbackRequestIDCounter back ClientContext's
// default id generators when a caller leaves NewProducerID/NewRequestID
// nil. They are package-level (not per-call) so that two Producers built
// without an explicit ClientContext in the same process never collide on
// producer_id — which would alias their send-timeout/batch-flush timer ids
// on a shared wheel and their stats labels on a shared registry.
var (
	fallbackProducerIDCounter uint64
	fallbackRequestIDCounter  uint64
)

// timerDispatch is the Data payload every producer timer schedules: the
// wheel invokes it directly, so one shared wheel can carry both a
// producer's send-timeout and its batch-flush timer (and any number of
// other producers' timers) despite exposing only a single Callback. Run in
// its own goroutine: Schedule fires a zero-delay timer synchronously from
// inside Schedule itself, and arm{SendTimeout,BatchFlushTimer} are always
// called with the producer mutex held, so a synchronous call back into a
// handler that re-locks that same mutex would deadlock.
func timerDispatch(entry *timerwheel.TimerEntry) {
	if fn, ok := entry.Data.(func(*timerwheel.TimerEntry)); ok {
		go fn(entry)
	}
}

// Producer is the client-side producer described throughout this package:
// identity, topic/partition, configuration, state, the (possibly absent)
// connection handle, the monotonic sequence counter, the in-flight
// window, an optional batch container, and stats: a config-and-mutex
// struct whose background goroutines start at construction and whose
// shutdown is guarded by a single Close path.
type Producer struct {
	mu sync.Mutex

	topic          string
	partitionIndex int32
	producerID     uint64
	producerName   string

	opts   Options
	logger *slog.Logger
	wheel  *timerwheel.TimerWheel

	ctx ClientContext

	state          State
	conn           Connection
	connectedSince time.Time

	seq uint64 // atomic; monotonic sequence_id allocator

	window *window
	batch  *batchContainer

	// pendingWrites accumulates operations that became dispatchable while
	// the mutex was held. Wire writes must happen outside the mutex, so
	// callers append here under the lock and drain it once unlocked (see
	// drainPendingWrites).
	pendingWrites []*sendOp

	stats *stats

	closeOnce sync.Once
	closed    chan struct{}
}

// NewProducer constructs a Producer in StateUninitialized. Callers must
// call Start to kick off registration against a connection; NewProducer
// itself never blocks or dials.
func NewProducer(topic string, partitionIndex int32, opts Options, clientCtx ClientContext, logger *slog.Logger) *Producer {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if clientCtx.NewProducerID == nil {
		clientCtx.NewProducerID = func() uint64 { return atomic.AddUint64(&fallbackProducerIDCounter, 1) }
	}
	if clientCtx.NewRequestID == nil {
		clientCtx.NewRequestID = func() uint64 { return atomic.AddUint64(&fallbackRequestIDCounter, 1) }
	}
	if clientCtx.Wheel == nil {
		clientCtx.Wheel = timerwheel.NewTimerWheel(timerwheel.TimerWheelConfig{
			Logger:   logger,
			Callback: timerDispatch,
		})
	}
	if clientCtx.OperationTimeout <= 0 {
		clientCtx.OperationTimeout = opts.OperationTimeout
	}

	p := &Producer{
		topic:          topic,
		partitionIndex: partitionIndex,
		producerID:     clientCtx.NewProducerID(),
		producerName:   opts.Name,
		opts:           opts,
		logger:         logger,
		wheel:          clientCtx.Wheel,
		ctx:            clientCtx,
		state:          StateUninitialized,
		window:         newWindow(opts.MaxPendingMessages),
		closed:         make(chan struct{}),
	}
	if opts.BatchingEnabled {
		p.batch = newBatchContainer(opts.BatchingMaxMessages, opts.BatchingMaxBytes)
	}
	statsReg := clientCtx.StatsRegisterer
	if statsReg == nil {
		// Each unlabeled Producer gets its own registry rather than a
		// shared package-level one: producer_id/name/topic labels are not
		// guaranteed unique across independently constructed producers
		// (e.g. many short-lived producers in tests), and MustRegister
		// panics on a label-set collision against a shared registry.
		statsReg = prometheus.NewRegistry()
	}
	p.stats = newStats(statsReg, producerLabel(p.producerID, opts.Name), topic)

	return p
}

// producerLabel picks the label used for this producer's metrics
// before a broker-assigned name is known.
func producerLabel(producerID uint64, name string) string {
	if name != "" {
		return name
	}
	return "unnamed"
}

// Start registers the producer on conn and transitions Uninitialized ->
// Connecting -> Ready. A hard BacklogQuotaExceeded moves it to Failed; any
// other registration error leaves it Connecting. See reconnect.go for the
// full registration/backoff logic; Start is the entry point for the first
// connection, and Reconnect drives the same connect path afterwards.
func (p *Producer) Start(ctx context.Context, conn Connection) error {
	return p.connect(ctx, conn)
}

// Done returns a channel closed once CloseAsync has fully finished:
// state is Closed and every window frame has been released.
func (p *Producer) Done() <-chan struct{} {
	return p.closed
}

// IsConnected reports whether the producer currently holds an active,
// Ready connection.
func (p *Producer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateReady && p.conn != nil && p.conn.IsActive()
}

// IsWritable reports Ready plus the connection's own writability signal
// (e.g. transport-level backpressure).
func (p *Producer) IsWritable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateReady && p.conn != nil && p.conn.IsWritable()
}

// GetStats returns a point-in-time snapshot of this producer's counters.
func (p *Producer) GetStats() Stats {
	return Stats{
		MessagesSent:   readCounter(p.stats.messagesSent),
		MessagesAcked:  readCounter(p.stats.messagesAcked),
		MessagesFailed: readCounter(p.stats.messagesFailed),
		BytesSent:      readCounter(p.stats.bytesSent),
		BatchesFlushed: readCounter(p.stats.batchesFlushed),
		Timeouts:       readCounter(p.stats.timeouts),
		Reconnects:     readCounter(p.stats.reconnects),
		PendingQueue:   p.GetPendingQueueSize(),
	}
}

// readCounter extracts a prometheus.Counter's current value via its
// Write method (the same mechanism the Prometheus scrape handler uses),
// since the client library intentionally exposes no direct getter.
func readCounter(c prometheus.Counter) uint64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// GetProducerName returns the broker-assigned (or client-pinned) name.
func (p *Producer) GetProducerName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producerName
}

// GetConnectionID returns the producer_id bound to the current connection
// lifetime.
func (p *Producer) GetConnectionID() uint64 {
	return p.producerID
}

// GetConnectedSince returns the zero time if not currently connected.
func (p *Producer) GetConnectedSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || !p.conn.IsActive() {
		return time.Time{}
	}
	return p.connectedSince
}

// GetPendingQueueSize returns the number of Send Operations currently in
// the in-flight window, and refreshes the pending_queue_size gauge for
// scraping.
func (p *Producer) GetPendingQueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.window.lenLocked()
	p.stats.pendingQueueSize.Set(float64(n))
	return n
}

// GetDelayInMillis returns how long the oldest unacknowledged send has
// been waiting, or 0 if the window is empty.
func (p *Producer) GetDelayInMillis() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	head := p.window.headLocked()
	if head == nil {
		return 0
	}
	return time.Since(head.createdAt).Milliseconds()
}

// drainPendingWrites takes ownership of any operations queued for write by
// a just-finished locked section and dispatches them to the connection
// they were queued against. Must be called with p.mu NOT held.
func (p *Producer) drainPendingWrites() {
	p.mu.Lock()
	ops := p.pendingWrites
	p.pendingWrites = nil
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}
	for _, op := range ops {
		p.writeToConn(conn, op)
	}
}

func (p *Producer) setState(s State) {
	atomic.StoreInt32((*int32)(&p.state), int32(s))
}

// flushBatchLocked composes the current batch into a Send Operation and
// dispatches it. Must be called with p.mu held.
func (p *Producer) flushBatchLocked() {
	if p.batch == nil || p.batch.empty() {
		return
	}
	sequenceID := atomic.AddUint64(&p.seq, 1) - 1

	op, payload, err := p.batch.flush(p.producerName, sequenceID, p.opts.CompressionType)
	if err != nil {
		p.logger.Error("producer: batch flush failed", "error", err)
		return
	}
	op.logger = p.logger

	p.dispatchLocked(op, payload)
	p.disarmBatchFlushTimer()
	p.stats.batchesFlushed.Inc()
}
