package dialer

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/JoursBleu/ssh-tunnel/internal/socks5"
)

// SOCKS5UpstreamDialer chains every outbound connection through an upstream
// SOCKS5 proxy, typically the local end of an ssh -D tunnel.
type SOCKS5UpstreamDialer struct {
	cfg       Config
	proxyAddr string
	direct    Dialer
}

func NewSOCKS5UpstreamDialer(cfg Config, proxyAddr string) Dialer {
	return &SOCKS5UpstreamDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		direct:    NewDirectDialer(cfg),
	}
}

// DialContext opens a fresh TCP connection to the upstream proxy and performs
// the SOCKS5 client handshake for address. The handshake deadline is cleared
// before the connection is returned for the data phase.
func (d *SOCKS5UpstreamDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("socks5 upstream dial %s %s: unsupported network", network, address)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("socks5 upstream dial %s: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("socks5 upstream dial %s: bad port: %w", address, err)
	}

	conn, err := d.direct.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 upstream connect %s: %w", d.proxyAddr, err)
	}

	if err := socks5.ClientHandshake(conn, host, uint16(port), d.cfg.NegotiationTimeout); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socks5 upstream handshake for %s: %w", address, err)
	}

	return conn, nil
}
