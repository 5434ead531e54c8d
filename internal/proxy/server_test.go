package proxy

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/JoursBleu/ssh-tunnel/internal/dialer"
	"github.com/JoursBleu/ssh-tunnel/internal/relay"
	"github.com/JoursBleu/ssh-tunnel/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a SOCKS5 server with the given config on a loopback
// listener and returns it with its address.
func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()

	if cfg.Dialer == nil {
		cfg.Dialer = dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second})
	}

	ln, err := ListenTCP(context.Background(), "tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	srv := NewServer(cfg, relay.NewStats(), testLogger(), false)
	go func() { _ = srv.Serve(ln) }()

	return srv, ln.Addr().String()
}

func TestServerListenAppliesKeepAlive(t *testing.T) {
	ka := net.KeepAliveConfig{Enable: true, Idle: 30 * time.Second, Interval: 10 * time.Second, Count: 3}
	srv := NewServer(Config{
		Dialer:    dialer.NewDirectDialer(dialer.Config{}),
		KeepAlive: ka,
	}, relay.NewStats(), testLogger(), false)

	ln, err := srv.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	kal, ok := ln.(*KeepAliveListener)
	if !ok {
		t.Fatalf("listener type = %T, want *KeepAliveListener", ln)
	}
	if kal.KeepAliveConfig != ka {
		t.Errorf("keepalive = %+v, want %+v", kal.KeepAliveConfig, ka)
	}
}

func TestSOCKS5ConnectDirect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	_, addr := startServer(t, Config{NegotiationTimeout: 2 * time.Second})

	client, err := txsocks5.NewClient(addr, "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}

	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestSOCKS5WireExactFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()
	echoPort := uint16(echoLn.Addr().(*net.TCPAddr).Port)

	_, addr := startServer(t, Config{NegotiationTimeout: 2 * time.Second})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, methodReply); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(methodReply, []byte{0x05, 0x00}) {
		t.Fatalf("method reply = %x, want 0500", methodReply)
	}

	req := []byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1}
	req = binary.BigEndian.AppendUint16(req, echoPort)
	if _, err := conn.Write(req); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(reply, want) {
		t.Fatalf("reply = %x, want %x", reply, want)
	}

	testutil.AssertEcho(t, conn, conn, []byte("relayed data"))
}

func TestSOCKS5ConnectUnreachable(t *testing.T) {
	_, addr := startServer(t, Config{NegotiationTimeout: 2 * time.Second})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, methodReply); err != nil {
		t.Fatal(err)
	}

	dead := testutil.UnreachableAddr(t)
	tcpAddr, err := net.ResolveTCPAddr("tcp", dead)
	if err != nil {
		t.Fatal(err)
	}
	req := append([]byte{0x05, 0x01, 0x00, 0x01}, tcpAddr.IP.To4()...)
	req = binary.BigEndian.AppendUint16(req, uint16(tcpAddr.Port))
	if _, err := conn.Write(req); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(reply, want) {
		t.Fatalf("reply = %x, want %x", reply, want)
	}

	// The client socket is closed right after the failure reply.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("read after failure reply = %v, want EOF", err)
	}
}

func TestSOCKS5BindRejectedWithoutReply(t *testing.T) {
	_, addr := startServer(t, Config{NegotiationTimeout: 2 * time.Second})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, methodReply); err != nil {
		t.Fatal(err)
	}

	// BIND is not supported: the connection closes with no reply frame.
	if _, err := conn.Write([]byte{0x05, 0x02, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(make([]byte, 16))
	if n != 0 || err != io.EOF {
		t.Fatalf("read = %d bytes, err %v; want 0 and EOF", n, err)
	}
}

func TestAdmissionCeiling(t *testing.T) {
	_, addr := startServer(t, Config{
		NegotiationTimeout: 5 * time.Second,
		MaxClients:         1,
	})

	// First client: admitted, parked mid-handshake.
	c1, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	if _, err := c1.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(c1, make([]byte, 2)); err != nil {
		t.Fatal(err)
	}

	// Second client: over the ceiling, closed with zero bytes.
	c2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c2.Read(make([]byte, 16))
	if n != 0 || err != io.EOF {
		t.Fatalf("rejected conn read = %d bytes, err %v; want 0 and EOF", n, err)
	}
}

func TestUpstreamChaining(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	// First hop: a direct-mode SOCKS5 server standing in for the far end of
	// an SSH tunnel.
	_, upstreamAddr := startServer(t, Config{NegotiationTimeout: 2 * time.Second})

	// Second hop: chains through the first.
	chained := dialer.NewSOCKS5UpstreamDialer(dialer.Config{
		DialTimeout:        2 * time.Second,
		NegotiationTimeout: 2 * time.Second,
	}, upstreamAddr)
	_, addr := startServer(t, Config{
		Dialer:             chained,
		NegotiationTimeout: 2 * time.Second,
	})

	client, err := txsocks5.NewClient(addr, "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("through both hops"))
}

func TestSOCKS5ConnectThroughSSHUpstream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	sshLn := testutil.StartSSHServer(t, ctx, "user", "pass")
	defer sshLn.Close()

	// ssh channels refuse read deadlines, so this exercises the relay's
	// deadline-less path over a real transport.
	d, err := dialer.New(dialer.Config{
		DialTimeout:        2 * time.Second,
		NegotiationTimeout: 2 * time.Second,
	}, "ssh://user:pass@"+sshLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	_, addr := startServer(t, Config{
		Dialer:             d,
		NegotiationTimeout: 2 * time.Second,
	})

	client, err := txsocks5.NewClient(addr, "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("over ssh"))
}

func TestGracefulDrain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	ln, err := ListenTCP(context.Background(), "tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(Config{
		Dialer:             dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second}),
		NegotiationTimeout: 2 * time.Second,
	}, relay.NewStats(), testLogger(), false)

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ln) }()

	client, err := txsocks5.NewClient(ln.Addr().String(), "", "", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.Dial("tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	// Closing the listener stops admission but must not touch the live relay.
	_ = ln.Close()
	if err := <-serveDone; err != nil {
		t.Fatalf("Serve returned %v after listener close, want nil", err)
	}
	testutil.AssertEcho(t, c, c, []byte("still flowing"))

	_ = c.Close()

	drained := make(chan struct{})
	go func() {
		srv.Drain()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(3 * time.Second):
		t.Fatal("Drain did not finish after the last connection closed")
	}
}
