package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// Protocol constants, shared with github.com/txthinking/socks5.
const (
	Version5   = txsocks5.Ver
	MethodNone = txsocks5.MethodNone

	CmdConnect = txsocks5.CmdConnect

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6

	RepSuccess           = txsocks5.RepSuccess
	RepConnectionRefused = txsocks5.RepConnectionRefused
)

var (
	ErrBadVersion     = errors.New("socks5: bad protocol version")
	ErrBadCommand     = errors.New("socks5: unsupported command")
	ErrBadAddressType = errors.New("socks5: unsupported address type")
)

// Request is a parsed CONNECT request. It is immutable after parsing.
type Request struct {
	ATYP byte
	Host string
	Port uint16
}

// Address returns the destination in host:port form.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// readAddr decodes the address payload for the given address type. The domain
// length octet bounds the allocation, so an attacker-controlled length can
// never write past the destination.
func readAddr(r io.Reader, atyp byte) (string, error) {
	switch atyp {
	case ATYPIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		return net.IP(b[:]).String(), nil
	case ATYPDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return "", err
		}
		b := make([]byte, int(l[0]))
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
		return string(b), nil
	case ATYPIPv6:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		return net.IP(b[:]).String(), nil
	default:
		return "", ErrBadAddressType
	}
}

func readPort(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// replyFrame builds the fixed 10-byte reply: version, status, reserved, IPv4
// address type, and an all-zero bound address and port. The real local
// endpoint is intentionally not reported.
func replyFrame(rep byte) [10]byte {
	return [10]byte{Version5, rep, 0x00, ATYPIPv4, 0, 0, 0, 0, 0, 0}
}

// appendConnectRequest appends a CONNECT request for host:port using
// domain-name addressing unconditionally, leaving resolution to the receiver.
func appendConnectRequest(dst []byte, host string, port uint16) ([]byte, error) {
	if len(host) > 255 {
		return nil, fmt.Errorf("socks5: host too long (%d bytes)", len(host))
	}
	dst = append(dst, Version5, CmdConnect, 0x00, ATYPDomain, byte(len(host)))
	dst = append(dst, host...)
	return binary.BigEndian.AppendUint16(dst, port), nil
}

// discardBoundAddr consumes the variable-length bound address and trailing
// port of a reply, leaving the stream positioned at the start of the data
// phase. The value itself is not used.
func discardBoundAddr(r io.Reader, atyp byte) error {
	var n int64
	switch atyp {
	case ATYPIPv4:
		n = 4
	case ATYPDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return err
		}
		n = int64(l[0])
	case ATYPIPv6:
		n = 16
	default:
		return ErrBadAddressType
	}
	_, err := io.CopyN(io.Discard, r, n+2)
	return err
}
