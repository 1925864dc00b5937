package producer

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Connection is the multiplexing connection object the Producer drives: it
// owns the framed transport, the request/response correlator, and channel
// liveness. The Producer holds at most one Connection at a time and never
// assumes anything about its implementation beyond this interface.
// internal/connio provides a production implementation (grpcConn, dialing
// a real broker) and a deterministic in-memory one for tests (FakeConn).
type Connection interface {
	// Write hands a framed buffer to the connection's I/O executor. The
	// connection must Acquire its own reference if it needs the bytes
	// past the call (e.g. to enqueue on a writer goroutine) and Release
	// it once written or on failure; the caller's own reference is
	// unaffected by Write.
	Write(ctx context.Context, frame *FrameBuffer) error

	// RegisterProducer performs the create-producer RPC and returns the
	// broker-assigned producer name (or echoes back a client-pinned one).
	RegisterProducer(ctx context.Context, topic string, producerID uint64, requestedName string) (producerName string, err error)

	// RemoveProducer performs the close-producer RPC.
	RemoveProducer(ctx context.Context, producerID uint64) error

	// IsActive reports whether the underlying channel is currently open.
	IsActive() bool

	// IsWritable reports whether the channel is open and not currently
	// backpressured by the transport layer.
	IsWritable() bool

	// Close tears down the connection.
	Close() error
}

// isRetriableConnErr classifies a connection-layer error: gRPC status
// codes that represent transient broker/server conditions are retriable,
// everything else (bad arguments, permission, already-exists) is not and
// should surface to the caller instead of driving another reconnect
// attempt.
func isRetriableConnErr(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		// Not a gRPC status error: treat as a network-level failure and
		// retry.
		return true
	}

	switch st.Code() {
	case codes.Unavailable,
		codes.ResourceExhausted,
		codes.Aborted,
		codes.Internal,
		codes.DeadlineExceeded,
		codes.Unknown:
		return true
	case codes.NotFound,
		codes.InvalidArgument,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.FailedPrecondition,
		codes.OutOfRange,
		codes.Unimplemented,
		codes.DataLoss,
		codes.Unauthenticated:
		return false
	default:
		return false
	}
}
