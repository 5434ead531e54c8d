package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// resolver returns candidate addresses for a host, in the order they should
// be tried.
type resolver interface {
	lookup(ctx context.Context, host string) ([]netip.Addr, error)
}

func newResolver(cfg Config) resolver {
	if cfg.DNSServer != "" {
		return &dnsResolver{server: cfg.DNSServer, timeout: cfg.DialTimeout}
	}
	return systemResolver{}
}

type systemResolver struct{}

func (systemResolver) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// dnsResolver queries a fixed DNS server directly, A records first so IPv4
// candidates are tried before IPv6.
type dnsResolver struct {
	server  string
	timeout time.Duration
}

func (r *dnsResolver) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	c := &dns.Client{Timeout: r.timeout}
	fqdn := dns.Fqdn(host)

	var addrs []netip.Addr
	var firstErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(fqdn, qtype)
		m.RecursionDesired = true

		in, _, err := c.ExchangeContext(ctx, m, r.server)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, rr := range in.Answer {
			switch a := rr.(type) {
			case *dns.A:
				if ip, ok := netip.AddrFromSlice(a.A.To4()); ok {
					addrs = append(addrs, ip)
				}
			case *dns.AAAA:
				if ip, ok := netip.AddrFromSlice(a.AAAA); ok {
					addrs = append(addrs, ip)
				}
			}
		}
	}

	if len(addrs) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("dns %s: %w", r.server, firstErr)
		}
		return nil, fmt.Errorf("dns %s: no addresses for %s", r.server, host)
	}
	return addrs, nil
}
