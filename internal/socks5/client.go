package socks5

import (
	"fmt"
	"io"
	"net"
	"time"
)

// ClientHandshake drives the client side of the negotiation against an
// upstream proxy over conn, asking it to CONNECT to host:port.
//
// The destination is always encoded as a domain name so the upstream resolves
// it, which matters when the upstream sits on the far side of an SSH tunnel.
// timeout bounds the whole exchange; the deadline is cleared before returning
// so it cannot leak into the long-lived data phase.
func ClientHandshake(conn net.Conn, host string, port uint16, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	if _, err := conn.Write([]byte{Version5, 0x01, MethodNone}); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	var m [2]byte
	if _, err := io.ReadFull(conn, m[:]); err != nil {
		return fmt.Errorf("method reply: %w", err)
	}
	if m[0] != Version5 {
		return ErrBadVersion
	}

	req, err := appendConnectRequest(make([]byte, 0, 7+len(host)), host, port)
	if err != nil {
		return err
	}
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("connect request: %w", err)
	}

	var rep [4]byte
	if _, err := io.ReadFull(conn, rep[:]); err != nil {
		return fmt.Errorf("connect reply: %w", err)
	}
	if rep[1] != RepSuccess {
		return fmt.Errorf("socks5: upstream refused connect (rep 0x%02x)", rep[1])
	}
	if err := discardBoundAddr(conn, rep[3]); err != nil {
		return fmt.Errorf("bound address: %w", err)
	}

	return nil
}
