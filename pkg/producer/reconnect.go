package producer

import (
	"context"
	"errors"
	"time"
)

// Dialer opens a new Connection. Supplied by whatever owns the
// client-wide connection pool; the Reconnect Orchestrator only knows how
// to use one, never how to build one.
type Dialer func(ctx context.Context) (Connection, error)

const (
	reconnectInitialBackoff = 100 * time.Millisecond
	reconnectMaxBackoff     = 30 * time.Second
)

// connect performs the create-producer RPC against conn and, on success,
// binds it and replays the in-flight window. On failure it classifies the
// error: a hard BacklogQuotaExceeded is terminal (the pending window is
// failed and the producer moves to Failed), everything else is returned
// to the caller for the backoff loop in Reconnect.
func (p *Producer) connect(ctx context.Context, conn Connection) error {
	p.mu.Lock()
	if p.state == StateClosing || p.state == StateClosed {
		p.mu.Unlock()
		return ErrAlreadyClosed
	}
	p.setState(StateConnecting)
	p.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, p.opts.OperationTimeout)
	defer cancel()

	name, err := conn.RegisterProducer(opCtx, p.topic, p.producerID, p.producerName)
	if err != nil {
		var bq *BacklogQuotaError
		if errors.As(err, &bq) && bq.Kind == BacklogQuotaExceeded {
			p.mu.Lock()
			ops := failAll(p.window, p.logger)
			p.setState(StateFailed)
			p.mu.Unlock()

			n := failOps(ops, bq)
			p.stats.messagesFailed.Add(float64(n))
			return bq
		}
		p.onConnectionFailed(err)
		return err
	}

	p.onConnectionOpened(conn, name)
	return nil
}

// Reconnect drives connect in a loop with exponential backoff, as used
// after the connection-layer reports connectionFailed or the channel
// dies. It stops on ctx cancellation, on a terminal BacklogQuotaExceeded,
// on an error isRetriableConnErr classifies as not retriable, or once
// connect succeeds.
func (p *Producer) Reconnect(ctx context.Context, dial Dialer) error {
	backoff := reconnectInitialBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := dial(ctx)
		if err == nil {
			err = p.connect(ctx, conn)
		}
		if err == nil {
			p.stats.reconnects.Inc()
			return nil
		}

		var bq *BacklogQuotaError
		if errors.As(err, &bq) && bq.Kind == BacklogQuotaExceeded {
			return err
		}
		if !isRetriableConnErr(err) {
			p.onConnectionFailed(err)
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMaxBackoff {
			backoff = reconnectMaxBackoff
		}
	}
}

// onConnectionOpened is the connection_opened(cnx) inbound callback: binds
// the new connection, marks Ready, and replays every operation still
// sitting in the window, in order, with identical sequence_ids.
func (p *Producer) onConnectionOpened(conn Connection, producerName string) {
	p.mu.Lock()
	p.conn = conn
	p.producerName = producerName
	p.connectedSince = time.Now()
	p.setState(StateReady)
	pending := p.window.snapshotLocked()
	head := p.window.headLocked()
	p.armSendTimeout(head)
	p.mu.Unlock()

	for _, op := range pending {
		p.writeToConn(conn, op)
	}
}

// onConnectionFailed is the connection_failed(err) inbound callback: it
// never surfaces to the caller directly, it only drives reconnect. If the
// producer was never successfully registered this call simply leaves it
// in Connecting for the next Reconnect attempt; callers drive the retry
// loop via Reconnect.
func (p *Producer) onConnectionFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateClosing || p.state == StateClosed {
		return
	}
	p.conn = nil
	p.logger.Warn("producer: connection failed, awaiting reconnect", "producer_id", p.producerID, "error", err)
}
