package connio

import (
	"context"
	"errors"
	"sync"

	"goqueue/pkg/producer"
)

// FakeConn is an in-memory producer.Connection for tests outside
// pkg/producer that drive disconnect/reconnect/ack scenarios
// deterministically, without a real broker. (pkg/producer's own tests use
// an in-package fake, since importing connio there would be an import
// cycle.) Every frame handed to Write is decoded and
// recorded so a test can assert on exactly what was sent, and can push
// simulated broker acks back in by calling Producer.OnAckReceived
// directly against the sequence ids recorded here.
type FakeConn struct {
	mu sync.Mutex

	active   bool
	writable bool
	closed   bool

	registerErr error
	removeErr   error
	writeErr    error

	producerName string

	writes []FakeWrite
}

// FakeWrite is one decoded Write call, kept for test assertions.
type FakeWrite struct {
	FrameType     int
	ProducerID    uint64
	CorrelationID uint64
	Body          []byte
}

// NewFakeConn returns an active, writable connection that accepts
// RegisterProducer with the requested name echoed back.
func NewFakeConn() *FakeConn {
	return &FakeConn{active: true, writable: true}
}

// SetWriteErr makes the next and all subsequent Write calls fail with err.
// Pass nil to clear.
func (c *FakeConn) SetWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// SetRegisterErr makes RegisterProducer fail with err. Pass nil to clear.
func (c *FakeConn) SetRegisterErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerErr = err
}

// SetRemoveErr makes RemoveProducer fail with err. Pass nil to clear.
func (c *FakeConn) SetRemoveErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeErr = err
}

// Disconnect flips the connection to inactive, as if the broker dropped
// it, without closing it outright (Close is a distinct, terminal event).
func (c *FakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.writable = false
}

// Writes returns a snapshot of every frame handed to Write so far, decoded
// into its header fields plus body.
func (c *FakeConn) Writes() []FakeWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FakeWrite, len(c.writes))
	for i, w := range c.writes {
		w.Body = append([]byte(nil), w.Body...)
		out[i] = w
	}
	return out
}

// LastSequenceID returns the correlation id of the most recent recorded
// send frame, used by tests to know which sequence id to ack next.
func (c *FakeConn) LastSequenceID() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return 0, false
	}
	return c.writes[len(c.writes)-1].CorrelationID, true
}

func (c *FakeConn) Write(ctx context.Context, frame *producer.FrameBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("connio: fake connection closed")
	}
	if !c.writable {
		return errors.New("connio: fake connection not writable")
	}
	if c.writeErr != nil {
		return c.writeErr
	}

	ft, _, producerID, correlationID, body, err := decodeFrameForTest(frame.Bytes())
	if err != nil {
		return err
	}
	c.writes = append(c.writes, FakeWrite{
		FrameType:     ft,
		ProducerID:    producerID,
		CorrelationID: correlationID,
		Body:          append([]byte(nil), body...),
	})
	return nil
}

func (c *FakeConn) RegisterProducer(ctx context.Context, topic string, producerID uint64, requestedName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registerErr != nil {
		return "", c.registerErr
	}
	c.active = true
	c.writable = true
	if requestedName != "" {
		c.producerName = requestedName
	} else {
		c.producerName = "fake-producer"
	}
	return c.producerName, nil
}

func (c *FakeConn) RemoveProducer(ctx context.Context, producerID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeErr
}

func (c *FakeConn) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && !c.closed
}

func (c *FakeConn) IsWritable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writable && !c.closed
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.active = false
	c.writable = false
	return nil
}

// decodeFrameForTest mirrors pkg/producer's frame header layout (package
// frame.go is unexported there, so the wire format is duplicated here in
// miniature: magic + type + compression + checksum + ids + body length,
// enough for tests to assert on what Write received without reaching into
// pkg/producer's unexported decoder).
func decodeFrameForTest(raw []byte) (ft int, compression int, producerID, correlationID uint64, body []byte, err error) {
	const hdrSize = 32
	if len(raw) < hdrSize {
		return 0, 0, 0, 0, nil, errors.New("connio: short frame")
	}
	if raw[0] != 'F' || raw[1] != 'Q' {
		return 0, 0, 0, 0, nil, errors.New("connio: bad frame magic")
	}
	ft = int(raw[2])
	compression = int(raw[3])
	producerID = beUint64(raw[12:20])
	correlationID = beUint64(raw[20:28])
	bodyLen := beUint32(raw[28:32])
	if uint32(len(raw)-hdrSize) < bodyLen {
		return 0, 0, 0, 0, nil, errors.New("connio: truncated frame body")
	}
	body = raw[hdrSize : hdrSize+int(bodyLen)]
	return ft, compression, producerID, correlationID, body, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func beUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v
}
