package socks5

import (
	"fmt"
	"io"
	"net"
)

// ServerHandshake runs the server side of the negotiation on conn and returns
// the parsed CONNECT request.
//
// The method list the client offers is read and ignored; the reply is always
// "no authentication" regardless. On a decode failure no error frame is
// written, the caller simply closes the connection.
func ServerHandshake(conn net.Conn) (*Request, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, fmt.Errorf("greeting: %w", err)
	}
	if hdr[0] != Version5 {
		return nil, ErrBadVersion
	}
	if n := int64(hdr[1]); n > 0 {
		if _, err := io.CopyN(io.Discard, conn, n); err != nil {
			return nil, fmt.Errorf("methods: %w", err)
		}
	}

	if _, err := conn.Write([]byte{Version5, MethodNone}); err != nil {
		return nil, fmt.Errorf("method reply: %w", err)
	}

	var req [4]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if req[0] != Version5 {
		return nil, ErrBadVersion
	}
	if req[1] != CmdConnect {
		return nil, ErrBadCommand
	}

	host, err := readAddr(conn, req[3])
	if err != nil {
		return nil, fmt.Errorf("request address: %w", err)
	}
	port, err := readPort(conn)
	if err != nil {
		return nil, fmt.Errorf("request port: %w", err)
	}

	return &Request{ATYP: req[3], Host: host, Port: port}, nil
}

// WriteReply sends the fixed 10-byte reply frame with status rep.
func WriteReply(conn net.Conn, rep byte) error {
	f := replyFrame(rep)
	if _, err := conn.Write(f[:]); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}
