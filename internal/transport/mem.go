package transport

import (
	"context"
	"fmt"
)

// MemTransport is an in-memory Transport backed by a channel, used by
// tests and the demo daemon to exercise a LinkInterface without real
// sockets. Frames written with Deliver are returned by the next Recv;
// frames handed to Send are captured in Sent for inspection.
type MemTransport struct {
	inbox  chan []byte
	Sent   [][]byte
	closed chan struct{}
}

// NewMemTransport returns an empty MemTransport.
func NewMemTransport() *MemTransport {
	return &MemTransport{
		inbox:  make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// Deliver injects frame as if it had arrived over the wire.
func (m *MemTransport) Deliver(frame []byte) {
	select {
	case m.inbox <- frame:
	case <-m.closed:
	}
}

// Send implements Transport.
func (m *MemTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.Sent = append(m.Sent, cp)
	return nil
}

// Recv implements Transport.
func (m *MemTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-m.inbox:
		return frame, nil
	case <-m.closed:
		return nil, fmt.Errorf("transport: closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Transport.
func (m *MemTransport) Close() error {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	return nil
}
