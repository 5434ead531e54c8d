package dialer

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/JoursBleu/ssh-tunnel/internal/testutil"
)

// startDNSServer serves A/AAAA answers from records (name -> IP) on a
// loopback UDP socket.
func startDNSServer(t *testing.T, records map[string]netip.Addr) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			if ip, ok := records[q.Name]; ok {
				switch {
				case q.Qtype == dns.TypeA && ip.Is4():
					m.Answer = append(m.Answer, &dns.A{
						Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
						A:   ip.AsSlice(),
					})
				case q.Qtype == dns.TypeAAAA && ip.Is6():
					m.Answer = append(m.Answer, &dns.AAAA{
						Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
						AAAA: ip.AsSlice(),
					})
				}
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolverLookup(t *testing.T) {
	server := startDNSServer(t, map[string]netip.Addr{
		"echo.test.": netip.MustParseAddr("127.0.0.1"),
	})

	r := &dnsResolver{server: server, timeout: 2 * time.Second}
	addrs, err := r.lookup(context.Background(), "echo.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != netip.MustParseAddr("127.0.0.1") {
		t.Fatalf("addrs = %v, want [127.0.0.1]", addrs)
	}

	if _, err := r.lookup(context.Background(), "missing.test"); err == nil {
		t.Error("expected error for name with no records")
	}
}

func TestDirectDialerWithCustomDNS(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	_, port, err := net.SplitHostPort(echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	server := startDNSServer(t, map[string]netip.Addr{
		"echo.test.": netip.MustParseAddr("127.0.0.1"),
	})

	d := NewDirectDialer(Config{DialTimeout: 2 * time.Second, DNSServer: server})
	conn, err := d.DialContext(ctx, "tcp", "echo.test:"+port)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("hello"))
}
