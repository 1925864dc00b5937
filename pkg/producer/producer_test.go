package producer

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testConn is a minimal in-package Connection fake, used so pkg/producer's
// own tests don't need to import internal/connio (which itself imports
// pkg/producer to implement Connection, and would make this package
// depend on its own importer).
type testConn struct {
	mu       sync.Mutex
	active   bool
	writable bool
	closed   bool

	registerName string
	registerErr  error
	removeErr    error
	writeErr     error

	writes []*FrameBuffer
}

func newTestConn() *testConn {
	return &testConn{active: true, writable: true, registerName: "test-producer"}
}

func (c *testConn) Write(ctx context.Context, frame *FrameBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, frame)
	return nil
}

func (c *testConn) RegisterProducer(ctx context.Context, topic string, producerID uint64, requestedName string) (string, error) {
	if c.registerErr != nil {
		return "", c.registerErr
	}
	if requestedName != "" {
		return requestedName, nil
	}
	return c.registerName, nil
}

func (c *testConn) RemoveProducer(ctx context.Context, producerID uint64) error {
	return c.removeErr
}

func (c *testConn) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && !c.closed
}

func (c *testConn) IsWritable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writable && !c.closed
}

func (c *testConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.active = false
	c.writable = false
	return nil
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *testConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *testConn) writeAt(i int) *FrameBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[i]
}

func (c *testConn) sequenceIDs(t *testing.T) []uint64 {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.writes))
	for _, f := range c.writes {
		_, _, _, correlationID, _, err := decodeFrameHeader(f.Bytes())
		if err != nil {
			t.Fatalf("decode recorded frame: %v", err)
		}
		ids = append(ids, correlationID)
	}
	return ids
}

// newTestProducer constructs a Producer wired to a fresh testConn, already
// started (Ready), with batching disabled unless the caller turns it on.
func newTestProducer(t *testing.T, configure func(*Options)) (*Producer, *testConn) {
	t.Helper()
	opts := DefaultOptions("orders")
	opts.BatchingEnabled = false
	if configure != nil {
		configure(&opts)
	}
	p := NewProducer("orders", 0, opts, ClientContext{}, nil)
	conn := newTestConn()
	if err := p.Start(context.Background(), conn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.wheel.Close() })
	return p, conn
}

type outcome struct {
	idx int
	id  MessageID
	err error
}

func collectCallback(ch chan outcome) ackCallback {
	return func(idx int, id MessageID, err error) {
		ch <- outcome{idx: idx, id: id, err: err}
	}
}

// Scenario 1: simple send.
func TestScenario_SimpleSend(t *testing.T) {
	p, conn := newTestProducer(t, func(o *Options) { o.MaxPendingMessages = 8 })

	results := make(chan outcome, 1)
	p.SendAsync(context.Background(), &Message{Payload: []byte("hello")}, collectCallback(results))

	if got := p.GetPendingQueueSize(); got != 1 {
		t.Fatalf("pending queue size = %d, want 1", got)
	}

	p.OnAckReceived(0, 42, 7)

	select {
	case out := <-results:
		if out.err != nil {
			t.Fatalf("unexpected error: %v", out.err)
		}
		want := MessageID{LedgerID: 42, EntryID: 7, PartitionIndex: 0, BatchIndex: -1}
		if out.id != want {
			t.Fatalf("id = %+v, want %+v", out.id, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack callback")
	}

	if got := p.GetPendingQueueSize(); got != 0 {
		t.Fatalf("pending queue size after ack = %d, want 0", got)
	}
	if got := conn.writeCount(); got != 1 {
		t.Fatalf("wire sends = %d, want 1", got)
	}
}

// Scenario 2: QueueFull non-blocking.
func TestScenario_QueueFullNonBlocking(t *testing.T) {
	p, _ := newTestProducer(t, func(o *Options) {
		o.MaxPendingMessages = 2
		o.BlockIfQueueFull = false
	})

	results := make(chan outcome, 3)
	for i := 0; i < 3; i++ {
		p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, collectCallback(results))
	}

	// The third send fails at admission; the first two resolve on their acks.
	p.OnAckReceived(0, 1, 1)
	p.OnAckReceived(1, 1, 2)

	outcomes := make([]outcome, 3)
	for i := 0; i < 3; i++ {
		select {
		case outcomes[i] = <-results:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for outcome %d", i)
		}
	}

	failures := 0
	for _, o := range outcomes {
		if o.err != nil {
			failures++
			if o.err != ErrQueueFull {
				t.Fatalf("error = %v, want ErrQueueFull", o.err)
			}
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want exactly 1 (third send)", failures)
	}

	if got := p.GetPendingQueueSize(); got != 0 {
		t.Fatalf("pending queue size = %d, want 0", got)
	}
}

// Scenario 3: batching by count.
func TestScenario_BatchingByCount(t *testing.T) {
	p, conn := newTestProducer(t, func(o *Options) {
		o.BatchingEnabled = true
		o.BatchingMaxMessages = 3
		o.BatchingMaxPublishDelay = time.Hour
		o.MaxPendingMessages = 8
	})

	results := make(chan outcome, 3)
	for _, payload := range []string{"a", "b", "c"} {
		p.SendAsync(context.Background(), &Message{Payload: []byte(payload)}, collectCallback(results))
	}

	if got := conn.writeCount(); got != 1 {
		t.Fatalf("wire sends = %d, want exactly 1", got)
	}
	ft, _, _, correlationID, _, err := decodeFrameHeader(conn.writeAt(0).Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ft != frameTypeSend || correlationID != 0 {
		t.Fatalf("frame type/sequence = %v/%d, want send/0", ft, correlationID)
	}

	p.OnAckReceived(0, 10, 3)

	seen := map[int32]bool{}
	for i := 0; i < 3; i++ {
		select {
		case out := <-results:
			if out.err != nil {
				t.Fatalf("unexpected error: %v", out.err)
			}
			if out.id.LedgerID != 10 || out.id.EntryID != 3 || out.id.PartitionIndex != 0 {
				t.Fatalf("id = %+v, want ledger=10 entry=3 partition=0", out.id)
			}
			seen[out.id.BatchIndex] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for batch callback")
		}
	}
	for _, idx := range []int32{0, 1, 2} {
		if !seen[idx] {
			t.Fatalf("batch_index %d never resolved", idx)
		}
	}
}

// Scenario 4: batching by timer.
func TestScenario_BatchingByTimer(t *testing.T) {
	p, conn := newTestProducer(t, func(o *Options) {
		o.BatchingEnabled = true
		o.BatchingMaxMessages = 100
		o.BatchingMaxPublishDelay = 50 * time.Millisecond
		o.MaxPendingMessages = 8
	})

	results := make(chan outcome, 1)
	p.SendAsync(context.Background(), &Message{Payload: []byte("x")}, collectCallback(results))

	deadline := time.Now().Add(2 * time.Second)
	for conn.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := conn.writeCount(); got != 1 {
		t.Fatalf("wire sends after flush delay = %d, want 1", got)
	}
	_, _, _, _, body, err := decodeFrameHeader(conn.writeAt(0).Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("empty body for timer-flushed batch")
	}
}

// Scenario 5: reconnect replay.
func TestScenario_ReconnectReplay(t *testing.T) {
	p, firstConn := newTestProducer(t, func(o *Options) { o.MaxPendingMessages = 8 })

	results := make(chan outcome, 4)
	for i := 0; i < 4; i++ {
		p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, collectCallback(results))
	}
	if got := firstConn.sequenceIDs(t); len(got) != 4 {
		t.Fatalf("first connection saw %d writes, want 4", len(got))
	}

	secondConn := newTestConn()
	if err := p.Reconnect(context.Background(), func(ctx context.Context) (Connection, error) {
		return secondConn, nil
	}); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}

	replayed := secondConn.sequenceIDs(t)
	if len(replayed) != 4 {
		t.Fatalf("replayed %d frames, want 4", len(replayed))
	}
	for i, id := range replayed {
		if id != uint64(i) {
			t.Fatalf("replayed sequence ids = %v, want 0,1,2,3 in order", replayed)
		}
	}

	for seq := uint64(0); seq < 4; seq++ {
		p.OnAckReceived(seq, 1, seq)
	}
	for i := 0; i < 4; i++ {
		select {
		case out := <-results:
			if out.err != nil {
				t.Fatalf("unexpected error after replay: %v", out.err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for post-replay ack")
		}
	}
}

// Scenario 6: ack desync forces a reconnect.
func TestScenario_AckDesync(t *testing.T) {
	p, conn := newTestProducer(t, func(o *Options) { o.MaxPendingMessages = 8 })

	results := make(chan outcome, 3)
	for i := 0; i < 3; i++ {
		p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, collectCallback(results))
	}

	p.OnAckReceived(1, 9, 9)

	select {
	case out := <-results:
		t.Fatalf("expected no callback to resolve on desync, got %+v", out)
	case <-time.After(50 * time.Millisecond):
	}

	if !conn.isClosed() {
		t.Fatal("expected the connection to be force-closed on ack desync")
	}
	if got := p.GetPendingQueueSize(); got != 3 {
		t.Fatalf("pending queue size after desync = %d, want 3 (nothing popped)", got)
	}

	secondConn := newTestConn()
	if err := p.Reconnect(context.Background(), func(ctx context.Context) (Connection, error) {
		return secondConn, nil
	}); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if got := len(secondConn.sequenceIDs(t)); got != 3 {
		t.Fatalf("replayed %d frames after desync, want 3", got)
	}

	for seq := uint64(0); seq < 3; seq++ {
		p.OnAckReceived(seq, 5, seq)
	}
	for i := 0; i < 3; i++ {
		select {
		case out := <-results:
			if out.err != nil {
				t.Fatalf("unexpected error: %v", out.err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for post-desync-reconnect ack")
		}
	}
}

// Scenario 7: send timeout sweep fails the entire window.
func TestScenario_SendTimeoutSweep(t *testing.T) {
	p, _ := newTestProducer(t, func(o *Options) {
		o.MaxPendingMessages = 8
		o.SendTimeout = 100 * time.Millisecond
	})

	results := make(chan outcome, 3)
	for i := 0; i < 3; i++ {
		p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, collectCallback(results))
	}

	for i := 0; i < 3; i++ {
		select {
		case out := <-results:
			if out.err != ErrTimeout {
				t.Fatalf("error = %v, want ErrTimeout", out.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for timeout sweep to fail the window")
		}
	}

	if got := p.GetPendingQueueSize(); got != 0 {
		t.Fatalf("pending queue size after sweep = %d, want 0 (permits restored)", got)
	}
}

func TestCloseAsync_FailsPendingWithAlreadyClosed(t *testing.T) {
	p, _ := newTestProducer(t, nil)

	results := make(chan outcome, 1)
	p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, collectCallback(results))

	if err := p.CloseAsync(context.Background()); err != nil {
		t.Fatalf("CloseAsync: %v", err)
	}

	select {
	case out := <-results:
		if out.err != ErrAlreadyClosed {
			t.Fatalf("error = %v, want ErrAlreadyClosed", out.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close-induced failure")
	}

	select {
	case <-p.Done():
	default:
		t.Fatal("Done() channel not closed after CloseAsync")
	}

	results2 := make(chan outcome, 1)
	p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, collectCallback(results2))
	select {
	case out := <-results2:
		if out.err != ErrAlreadyClosed {
			t.Fatalf("send after close: error = %v, want ErrAlreadyClosed", out.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-close send rejection")
	}
}

func TestSendAsync_RejectsReusedMessage(t *testing.T) {
	p, _ := newTestProducer(t, nil)

	msg := &Message{Payload: []byte("m")}
	first := make(chan outcome, 1)
	p.SendAsync(context.Background(), msg, collectCallback(first))
	p.OnAckReceived(0, 1, 1)
	<-first

	second := make(chan outcome, 1)
	p.SendAsync(context.Background(), msg, collectCallback(second))
	select {
	case out := <-second:
		if out.err != ErrInvalidMessage {
			t.Fatalf("error = %v, want ErrInvalidMessage", out.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reuse rejection")
	}
}

func TestCloseAsync_ReleasesWindowPermits(t *testing.T) {
	p, _ := newTestProducer(t, func(o *Options) {
		o.MaxPendingMessages = 1
		o.BlockIfQueueFull = false
	})

	results := make(chan outcome, 1)
	p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, collectCallback(results))
	// window now holds the one permit this producer allows

	if err := p.CloseAsync(context.Background()); err != nil {
		t.Fatalf("CloseAsync: %v", err)
	}
	<-results // CloseAsync fails the pending send

	// Every permit finishClose drained must have been released back to the
	// semaphore; a non-blocking acquire for the full capacity must succeed.
	if err := p.window.acquire(1, false, nil); err != nil {
		t.Fatalf("acquire after close: %v, want permit released by finishClose", err)
	}
}

func TestOnAckReceived_CallbackCanReenterSendAsync(t *testing.T) {
	p, conn := newTestProducer(t, nil)

	reentered := make(chan outcome, 1)
	firstDone := make(chan struct{})
	p.SendAsync(context.Background(), &Message{Payload: []byte("m")}, func(idx int, id MessageID, err error) {
		// A callback that calls back into the producer must not deadlock:
		// OnAckReceived must have released p.mu before invoking this.
		p.SendAsync(context.Background(), &Message{Payload: []byte("m2")}, collectCallback(reentered))
		close(firstDone)
	})

	ids := conn.sequenceIDs(t)
	if len(ids) == 0 {
		t.Fatal("expected a recorded send before acking")
	}
	p.OnAckReceived(ids[len(ids)-1], 1, 1)

	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack callback to run (possible deadlock)")
	}
	ids = conn.sequenceIDs(t)
	p.OnAckReceived(ids[len(ids)-1], 1, 2)
	select {
	case out := <-reentered:
		if out.err != nil {
			t.Fatalf("reentrant SendAsync: error = %v, want nil", out.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reentrant SendAsync to complete")
	}
}

func TestSendAsync_ReplicatedMessageExemptFromReuseCheck(t *testing.T) {
	p, _ := newTestProducer(t, nil)

	msg := &Message{Payload: []byte("m"), Replicated: true}
	first := make(chan outcome, 1)
	p.SendAsync(context.Background(), msg, collectCallback(first))
	p.OnAckReceived(0, 1, 1)
	<-first

	second := make(chan outcome, 1)
	p.SendAsync(context.Background(), msg, collectCallback(second))
	p.OnAckReceived(1, 1, 2)
	select {
	case out := <-second:
		if out.err != nil {
			t.Fatalf("replicated resend: error = %v, want nil", out.err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replicated resend to succeed")
	}
}
