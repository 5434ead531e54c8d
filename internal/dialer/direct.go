package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

type directDialer struct {
	cfg Config
	res resolver
}

func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg, res: newResolver(cfg)}
}

// DialContext resolves the host and tries every candidate address in order,
// returning the first connection that succeeds. The whole operation shares
// one DialTimeout.
func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("direct dial %s %s: unsupported network", network, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("direct dial %s: %w", address, err)
	}

	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	var addrs []netip.Addr
	if ip, perr := netip.ParseAddr(host); perr == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = d.res.lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
	}

	dd := net.Dialer{}
	var firstErr error
	for _, ip := range addrs {
		conn, err := dd.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAliveConfig(d.cfg.KeepAlive)
		}
		return conn, nil
	}

	return nil, fmt.Errorf("dial %s: %w", address, firstErr)
}
