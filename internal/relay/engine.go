package relay

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// BufferSize is the per-direction copy buffer. Smaller buffers cost
	// measurably more syscalls on bulk transfers.
	BufferSize = 64 * 1024

	// DefaultIdleTimeout tears down relays with no traffic in either
	// direction for this long.
	DefaultIdleTimeout = 300 * time.Second
)

// Engine relays bytes between pairs of connected sockets and accounts the
// traffic into a shared Stats. One Engine may serve many pairs; buffers are
// pooled across them.
type Engine struct {
	stats       *Stats
	idleTimeout time.Duration
	pool        sync.Pool
}

func NewEngine(stats *Stats, idleTimeout time.Duration) *Engine {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	e := &Engine{stats: stats, idleTimeout: idleTimeout}
	e.pool.New = func() any {
		b := make([]byte, BufferSize)
		return &b
	}
	return e
}

// Start begins relaying in a new goroutine and returns immediately. The
// engine assumes ownership of both connections.
func (e *Engine) Start(client, remote net.Conn) {
	go e.Relay(client, remote)
}

// Relay copies bytes between client and remote until EOF, an error, or the
// idle timeout, then closes both connections exactly once. Client-to-remote
// traffic counts as up, remote-to-client as down.
func (e *Engine) Relay(client, remote net.Conn) {
	e.stats.relayStarted()
	defer e.stats.relayEnded()

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = remote.Close()
		})
	}
	defer closeBoth()

	last := newActivityClock()

	// Either direction ending closes both conns, which unblocks the other.
	g := errgroup.Group{}
	g.Go(func() error {
		defer closeBoth()
		return e.pump(remote, client, last, e.stats.RecordUp)
	})
	g.Go(func() error {
		defer closeBoth()
		return e.pump(client, remote, last, e.stats.RecordDown)
	})
	_ = g.Wait()
}

// pump moves bytes from src to dst until src ends or a write fails. A chunk
// is counted only after it has been written in full. The idle deadline is
// shared with the opposite direction: traffic on either side keeps both
// alive, matching a select-loop relay with a single timer. Conns that refuse
// read deadlines (ssh channels do) relay without one; idle teardown then
// comes from the peer direction's deadline closing both conns.
func (e *Engine) pump(dst, src net.Conn, last *activityClock, record func(int64)) error {
	bp := e.pool.Get().(*[]byte)
	defer e.pool.Put(bp)
	buf := *bp

	deadlines := true
	for {
		if deadlines {
			if err := src.SetReadDeadline(last.get().Add(e.idleTimeout)); err != nil {
				deadlines = false
			}
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			record(int64(n))
			last.touch()
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && time.Since(last.get()) < e.idleTimeout {
				continue // the other direction was active; re-arm
			}
			return err
		}
	}
}

// activityClock is a shared last-traffic timestamp.
type activityClock struct {
	ns atomic.Int64
}

func newActivityClock() *activityClock {
	c := &activityClock{}
	c.touch()
	return c
}

func (c *activityClock) touch() {
	c.ns.Store(time.Now().UnixNano())
}

func (c *activityClock) get() time.Time {
	return time.Unix(0, c.ns.Load())
}
