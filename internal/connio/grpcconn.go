// Package connio provides the concrete multiplexing connection
// implementations that pkg/producer binds to through its Connection
// interface: grpcConn dials a real broker, FakeConn drives deterministic
// tests. Neither type is known to pkg/producer by name; it only ever sees
// the Connection interface.
package connio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"goqueue/pkg/producer"
)

// GRPCConfig carries dial timeout and keepalive parameters, the two
// dial-time concerns this codebase always exposes for a gRPC connection.
type GRPCConfig struct {
	Address          string
	DialTimeout      time.Duration
	KeepAliveTime    time.Duration
	KeepAliveTimeout time.Duration
	Logger           *slog.Logger
}

// DefaultGRPCConfig returns sane dial defaults for address.
func DefaultGRPCConfig(address string) GRPCConfig {
	return GRPCConfig{
		Address:          address,
		DialTimeout:      10 * time.Second,
		KeepAliveTime:    30 * time.Second,
		KeepAliveTimeout: 10 * time.Second,
	}
}

// grpcConn implements pkg/producer.Connection over a real gRPC channel.
// The hot-path Send frame is carried as an opaque byte payload (pkg/producer
// already built and checksummed it); register/remove use a small
// length-prefixed request of their own since they are cold-path control
// calls, not part of the frame codec.
type grpcConn struct {
	conn   *grpc.ClientConn
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewGRPCConnection dials address with insecure transport credentials plus
// keepalive pings, verifying connectivity before returning.
func NewGRPCConnection(ctx context.Context, cfg GRPCConfig) (*grpcConn, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.KeepAliveTime <= 0 {
		cfg.KeepAliveTime = 30 * time.Second
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepAliveTime,
			Timeout:             cfg.KeepAliveTimeout,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("producer transport: dial %s: %w", cfg.Address, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	for {
		s := conn.GetState()
		if s == connectivity.Ready {
			break
		}
		if !conn.WaitForStateChange(dialCtx, s) {
			conn.Close()
			return nil, fmt.Errorf("producer transport: %s did not become ready: %w", cfg.Address, dialCtx.Err())
		}
	}

	return &grpcConn{conn: conn, logger: logger}, nil
}

const (
	methodSend             = "/goqueue.producer.v1.ProducerTransport/Send"
	methodRegisterProducer = "/goqueue.producer.v1.ProducerTransport/RegisterProducer"
	methodRemoveProducer   = "/goqueue.producer.v1.ProducerTransport/RemoveProducer"
)

// Write posts frame's bytes to the broker over a unary call carrying the
// already-framed, checksummed payload untouched. rawCodec (below) passes
// bytes straight through so this doesn't need generated protobuf stubs.
func (c *grpcConn) Write(ctx context.Context, frame *producer.FrameBuffer) error {
	var reply []byte
	err := c.conn.Invoke(ctx, methodSend, frame.Bytes(), &reply, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		c.logger.Debug("producer transport: send failed", "error", err)
	}
	return err
}

func (c *grpcConn) RegisterProducer(ctx context.Context, topic string, producerID uint64, requestedName string) (string, error) {
	req := encodeRegisterRequest(topic, producerID, requestedName)
	var reply []byte
	err := c.conn.Invoke(ctx, methodRegisterProducer, req, &reply, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
			return "", fmt.Errorf("producer transport: register: %w", err)
		}
		return "", err
	}
	return decodeRegisterReply(reply)
}

func (c *grpcConn) RemoveProducer(ctx context.Context, producerID uint64) error {
	req := make([]byte, 8)
	binary.BigEndian.PutUint64(req, producerID)
	var reply []byte
	return c.conn.Invoke(ctx, methodRemoveProducer, req, &reply, grpc.ForceCodec(rawCodec{}))
}

func (c *grpcConn) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	s := c.conn.GetState()
	return s == connectivity.Ready || s == connectivity.Idle
}

func (c *grpcConn) IsWritable() bool {
	return c.IsActive()
}

func (c *grpcConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func encodeRegisterRequest(topic string, producerID uint64, requestedName string) []byte {
	buf := make([]byte, 0, 8+2+len(topic)+2+len(requestedName))
	tmp8 := make([]byte, 8)
	binary.BigEndian.PutUint64(tmp8, producerID)
	buf = append(buf, tmp8...)
	buf = appendString(buf, topic)
	buf = appendString(buf, requestedName)
	return buf
}

func appendString(buf []byte, s string) []byte {
	tmp2 := make([]byte, 2)
	binary.BigEndian.PutUint16(tmp2, uint16(len(s)))
	buf = append(buf, tmp2...)
	return append(buf, s...)
}

func decodeRegisterReply(reply []byte) (string, error) {
	if len(reply) < 2 {
		return "", errors.New("producer transport: short register reply")
	}
	n := binary.BigEndian.Uint16(reply[0:2])
	if len(reply) < int(2+n) {
		return "", errors.New("producer transport: truncated register reply")
	}
	return string(reply[2 : 2+n]), nil
}

// rawCodec is a grpc/encoding.Codec that treats the message as an opaque
// []byte, bypassing protobuf marshaling entirely. Used via
// grpc.ForceCodec so this connection never needs generated stubs for the
// producer transport's own RPCs.
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, fmt.Errorf("producer transport: rawCodec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch b := v.(type) {
	case *[]byte:
		*b = append((*b)[:0], data...)
		return nil
	default:
		return fmt.Errorf("producer transport: rawCodec cannot unmarshal into %T", v)
	}
}
