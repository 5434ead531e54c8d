package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

// handleHTTPConn supervises one HTTP CONNECT client. Only CONNECT is served;
// the request's tunnel destination is dialed through the shared dialer and
// the connection joins the same relay engine as the SOCKS5 side.
func (s *Server) handleHTTPConn(conn net.Conn, release func()) {
	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		s.connError("http read failed", conn, err)
		_ = conn.Close()
		release()
		return
	}

	if req.Method != http.MethodConnect {
		_, _ = io.WriteString(conn, "HTTP/1.1 405 Method Not Allowed\r\nConnection: close\r\n\r\n")
		_ = conn.Close()
		release()
		return
	}

	remote, err := s.cfg.Dialer.DialContext(context.Background(), "tcp", connectTarget(req.Host))
	if err != nil {
		s.connError("http connect failed", conn, err)
		_, _ = io.WriteString(conn, "HTTP/1.1 502 Bad Gateway\r\nConnection: close\r\n\r\n")
		_ = conn.Close()
		release()
		return
	}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		s.connError("http reply failed", conn, err)
		_ = conn.Close()
		_ = remote.Close()
		release()
		return
	}

	// Bytes the client pipelined behind the CONNECT are already buffered;
	// forward them before the relay takes over the raw conns.
	if n := br.Buffered(); n > 0 {
		peeked, _ := br.Peek(n)
		if _, err := remote.Write(peeked); err != nil {
			s.connError("http pipelined write failed", conn, err)
			_ = conn.Close()
			_ = remote.Close()
			release()
			return
		}
	}

	s.startRelay(conn, remote, release)
}

func connectTarget(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "443")
}
