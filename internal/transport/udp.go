package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// pollInterval bounds how long a single blocking read waits before
// re-checking ctx, so Recv remains cancellable without a dedicated
// reader goroutine (mirrors the context-aware receive loop shape of the
// listener this package supersedes).
const pollInterval = 500 * time.Millisecond

// UDPBroadcast is a reference Transport using IPv4 multicast, grounded on
// the beacon transport found elsewhere in the retrieval pack but built on
// the maintained golang.org/x/net/ipv4 package rather than an unmaintained
// one.
type UDPBroadcast struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface
}

// NewUDPBroadcast joins the given multicast group on ifaceName and binds
// to port for both send and receive.
func NewUDPBroadcast(ifaceName, groupAddr string, port int) (*UDPBroadcast, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("transport: lookup interface %q: %w", ifaceName, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}

	group := &net.UDPAddr{IP: net.ParseIP(groupAddr), Port: port}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(ifi, group); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: join group %s on %s: %w", groupAddr, ifaceName, err)
	}

	return &UDPBroadcast{conn: conn, pconn: pconn, group: group, ifi: ifi}, nil
}

// Send implements Transport.
func (t *UDPBroadcast) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.pconn.WriteTo(frame, nil, t.group)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Recv implements Transport.
func (t *UDPBroadcast) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 65536)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return nil, fmt.Errorf("transport: set read deadline: %w", err)
		}

		n, _, _, err := t.pconn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, fmt.Errorf("transport: read: %w", err)
		}

		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
}

// Close implements Transport.
func (t *UDPBroadcast) Close() error {
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}
