package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JoursBleu/ssh-tunnel/internal/relay"
	"github.com/JoursBleu/ssh-tunnel/internal/socks5"
)

// Server accepts proxy clients, negotiates with them, connects them to their
// destination through the configured dialer, and hands the pair to the relay
// engine.
type Server struct {
	cfg     Config
	engine  *relay.Engine
	stats   *relay.Stats
	log     *slog.Logger
	verbose bool

	active atomic.Int64
	conns  sync.WaitGroup
}

func NewServer(cfg Config, stats *relay.Stats, log *slog.Logger, verbose bool) *Server {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	return &Server{
		cfg:     cfg,
		engine:  relay.NewEngine(stats, cfg.IdleTimeout),
		stats:   stats,
		log:     log,
		verbose: verbose,
	}
}

// Listen opens a TCP listener whose accepted connections carry the server's
// keepalive configuration.
func (s *Server) Listen(ctx context.Context, network, addr string) (net.Listener, error) {
	return ListenTCP(ctx, network, addr, s.cfg.KeepAlive)
}

// Serve accepts SOCKS5 clients until the listener closes. A closed listener
// is a clean shutdown and returns nil.
func (s *Server) Serve(ln net.Listener) error {
	return s.serve(ln, s.handleConn)
}

// ServeHTTP accepts HTTP CONNECT clients on a second listener, sharing the
// dialer, relay engine, and admission ceiling with the SOCKS5 side.
func (s *Server) ServeHTTP(ln net.Listener) error {
	return s.serve(ln, s.handleHTTPConn)
}

func (s *Server) serve(ln net.Listener, handle func(net.Conn, func())) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		// Admission control: beyond the ceiling the connection is closed
		// with zero protocol bytes.
		if s.active.Add(1) > int64(s.cfg.MaxClients) {
			s.active.Add(-1)
			_ = conn.Close()
			s.log.Warn("connection limit reached", "max", s.cfg.MaxClients)
			continue
		}

		s.conns.Add(1)
		release := sync.OnceFunc(func() {
			s.active.Add(-1)
			s.conns.Done()
		})
		go handle(conn, release)
	}
}

// Drain blocks until every admitted connection, including its relay, has
// finished. It does not interrupt anything.
func (s *Server) Drain() {
	s.conns.Wait()
}

// handleConn supervises one SOCKS5 client: handshake, dial, reply, then relay
// handoff. The relay runs past this call; release fires once the whole
// connection, relay included, is finished.
func (s *Server) handleConn(conn net.Conn, release func()) {
	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	req, err := socks5.ServerHandshake(conn)
	if err != nil {
		// Malformed input gets no error frame, just a closed socket.
		s.connError("handshake failed", conn, err)
		_ = conn.Close()
		release()
		return
	}

	remote, err := s.cfg.Dialer.DialContext(context.Background(), "tcp", req.Address())
	if err != nil {
		s.connError("connect failed", conn, err)
		_ = socks5.WriteReply(conn, socks5.RepConnectionRefused)
		_ = conn.Close()
		release()
		return
	}

	if err := socks5.WriteReply(conn, socks5.RepSuccess); err != nil {
		s.connError("reply failed", conn, err)
		_ = conn.Close()
		_ = remote.Close()
		release()
		return
	}

	s.startRelay(conn, remote, release)
}

// startRelay clears the negotiation deadline and starts the relay as its own
// unit of concurrency; the supervisor does not wait for it.
func (s *Server) startRelay(conn, remote net.Conn, release func()) {
	_ = conn.SetDeadline(time.Time{})

	go func() {
		defer release()
		s.engine.Relay(conn, remote)
	}()
}

func (s *Server) connError(msg string, conn net.Conn, err error) {
	if s.verbose {
		s.log.Error(msg, "client", conn.RemoteAddr().String(), "err", err)
	}
}
